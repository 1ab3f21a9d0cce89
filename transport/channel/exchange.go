package channel

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/transport"
)

// ErrClosed is returned when publishing through a closed exchange.
var ErrClosed = errors.New("channel: exchange closed")

// Exchange is an in-memory topic exchange. Queues are gochannel topics;
// publishing copies each message into every queue bound to a matching
// pattern, or into the queue named by the topic when it is declared direct.
// Queues buffer messages until a subscriber arrives.
type Exchange struct {
	name   string
	pubsub *gochannel.GoChannel

	mu       sync.RWMutex
	bindings map[string][]string
	direct   map[string]struct{}
	refs     int
	closed   bool
}

// NewExchange creates an exchange backed by a persistent gochannel.
func NewExchange(name string, logger watermill.LoggerAdapter) *Exchange {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Exchange{
		name:     name,
		pubsub:   gochannel.NewGoChannel(gochannel.Config{Persistent: true}, logger),
		bindings: make(map[string][]string),
		direct:   make(map[string]struct{}),
	}
}

// Declare binds the topology's queue and declares its direct queues.
func (e *Exchange) Declare(top transport.Topology) {
	e.Bind(top.Queue, top.Bindings...)
	for _, q := range top.DirectQueues {
		e.DeclareDirect(q)
	}
}

// Bind adds topic patterns to a queue.
func (e *Exchange) Bind(queue string, patterns ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range patterns {
		if !slices.Contains(e.bindings[queue], p) {
			e.bindings[queue] = append(e.bindings[queue], p)
		}
	}
}

// DeclareDirect registers a queue addressed by name.
func (e *Exchange) DeclareDirect(queue string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.direct[queue] = struct{}{}
}

// Route returns the queues a message published under topic is delivered to.
func (e *Exchange) Route(topic string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.direct[topic]; ok {
		return []string{topic}
	}
	var queues []string
	for queue, patterns := range e.bindings {
		for _, p := range patterns {
			if entity.MatchTopic(p, topic) {
				queues = append(queues, queue)
				break
			}
		}
	}
	slices.Sort(queues)
	return queues
}

// Publish routes msgs to every matching queue. Messages without a matching
// queue are dropped, as a broker does with unroutable messages.
func (e *Exchange) Publish(topic string, msgs ...*message.Message) error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	for _, queue := range e.Route(topic) {
		copies := make([]*message.Message, len(msgs))
		for i, msg := range msgs {
			copies[i] = msg.Copy()
		}
		if err := e.pubsub.Publish(queue, copies...); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe consumes the named queue.
func (e *Exchange) Subscribe(ctx context.Context, queue string) (<-chan *message.Message, error) {
	return e.pubsub.Subscribe(ctx, queue)
}

// Close shuts the exchange down and closes every subscription.
func (e *Exchange) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	return e.pubsub.Close()
}

var (
	exchangesMu sync.Mutex
	exchanges   = map[string]*Exchange{}
)

// Shared returns the process-wide exchange with the given name, creating it
// on first use. Every call takes a reference that release gives back; the
// exchange closes when the last reference is released.
func Shared(name string, logger watermill.LoggerAdapter) (*Exchange, func() error) {
	exchangesMu.Lock()
	defer exchangesMu.Unlock()

	ex, ok := exchanges[name]
	if !ok {
		ex = NewExchange(name, logger)
		exchanges[name] = ex
	}
	ex.refs++

	var once sync.Once
	release := func() error {
		var err error
		once.Do(func() {
			exchangesMu.Lock()
			defer exchangesMu.Unlock()
			ex.refs--
			if ex.refs > 0 {
				return
			}
			delete(exchanges, name)
			err = ex.Close()
		})
		return err
	}
	return ex, release
}
