package source

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/runtime/logging"
)

const (
	DefaultPollInterval  = 5 * time.Second
	DefaultPollBatchSize = 200
)

// PollerConfig tunes the polling loop.
type PollerConfig struct {
	Interval  time.Duration
	BatchSize int
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultPollBatchSize
	}
	return c
}

// Poller turns a ChangeLog into an unbounded sequence of notifications.
//
// Rows that were not cleared come back on the next poll. A parked row stays
// in the table but is excluded from every poll until the process restarts,
// so parked rows never take the place of newer changes in a batch.
type Poller struct {
	log    ChangeLog
	cfg    PollerConfig
	logger logging.ServiceLogger

	mu     sync.Mutex
	parked map[string]struct{}
}

func NewPoller(log ChangeLog, cfg PollerConfig, logger logging.ServiceLogger) (*Poller, error) {
	if log == nil {
		return nil, fmt.Errorf("source: change log is required")
	}
	return &Poller{
		log:    log,
		cfg:    cfg.withDefaults(),
		logger: logging.OrNop(logger),
		parked: make(map[string]struct{}),
	}, nil
}

// Notifications polls until ctx is cancelled or the consumer stops. A failed
// poll is yielded as an error and ends the sequence.
func (p *Poller) Notifications(ctx context.Context) iter.Seq2[entity.ChangeNotification, error] {
	return func(yield func(entity.ChangeNotification, error) bool) {
		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			batch, err := p.log.Pending(ctx, p.cfg.BatchSize, p.parkedIDs())
			if err != nil {
				if ctx.Err() == nil {
					yield(entity.ChangeNotification{}, err)
				}
				return
			}
			p.logger.Trace("change log polled", logging.LogFields{"pending": len(batch)})
			for _, n := range batch {
				if p.isParked(n.ChangeID) {
					continue
				}
				if ctx.Err() != nil || !yield(n, nil) {
					return
				}
			}
			timer.Reset(p.cfg.Interval)
		}
	}
}

// Clear removes the change row of n.
func (p *Poller) Clear(ctx context.Context, n entity.ChangeNotification) error {
	return p.log.Clear(ctx, n.ChangeID)
}

// Park stops n from being yielded again by this poller.
func (p *Poller) Park(n entity.ChangeNotification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parked[n.ChangeID] = struct{}{}
}

// Parked reports how many changes are parked.
func (p *Poller) Parked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.parked)
}

func (p *Poller) parkedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := slices.Collect(maps.Keys(p.parked))
	slices.Sort(ids)
	return ids
}

func (p *Poller) isParked(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.parked[id]
	return ok
}
