// Package monitoring publishes the heartbeat of a syncflow process and ships
// pipeline outcome lines to the control room.
package monitoring

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	idspkg "github.com/drblury/syncflow/internal/runtime/ids"
	"github.com/drblury/syncflow/internal/runtime/logging"
	"github.com/drblury/syncflow/internal/schema"
)

const (
	DefaultHeartbeatQueue    = "heartbeat_queue"
	DefaultHeartbeatInterval = time.Second
	StatusActive             = "Active"
)

// HeartbeatMessage is the Heartbeat document.
type HeartbeatMessage struct {
	XMLName    xml.Name `xml:"Heartbeat"`
	Timestamp  string   `xml:"Timestamp"`
	Status     string   `xml:"Status"`
	SystemName string   `xml:"SystemName"`
}

type HeartbeatConfig struct {
	SystemName string
	// Queue receives the heartbeats through the default exchange.
	Queue    string
	Interval time.Duration
}

func (c HeartbeatConfig) withDefaults() HeartbeatConfig {
	if c.Queue == "" {
		c.Queue = DefaultHeartbeatQueue
	}
	if c.Interval <= 0 {
		c.Interval = DefaultHeartbeatInterval
	}
	return c
}

// Heartbeat tells the control room the process is alive.
type Heartbeat struct {
	cfg       HeartbeatConfig
	publisher message.Publisher
	validator schema.Validator
	logger    logging.ServiceLogger
	now       func() time.Time
}

func NewHeartbeat(cfg HeartbeatConfig, publisher message.Publisher, validator schema.Validator, logger logging.ServiceLogger) (*Heartbeat, error) {
	if cfg.SystemName == "" {
		return nil, errspkg.ErrServiceNameNeeded
	}
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if validator == nil {
		return nil, errspkg.ErrValidatorRequired
	}
	return &Heartbeat{
		cfg:       cfg.withDefaults(),
		publisher: publisher,
		validator: validator,
		logger:    logging.OrNop(logger),
		now:       time.Now,
	}, nil
}

// Queue returns the queue heartbeats are sent to.
func (h *Heartbeat) Queue() string { return h.cfg.Queue }

// Beat sends one heartbeat. A document that fails validation is not sent.
func (h *Heartbeat) Beat(ctx context.Context) error {
	data, err := xml.Marshal(HeartbeatMessage{
		Timestamp:  h.now().UTC().Format(time.RFC3339),
		Status:     StatusActive,
		SystemName: h.cfg.SystemName,
	})
	if err != nil {
		return err
	}
	if err := h.validator.Validate("Heartbeat", data); err != nil {
		return err
	}
	msg := message.NewMessage(idspkg.CreateULID(), data)
	msg.SetContext(ctx)
	if err := h.publisher.Publish(h.cfg.Queue, msg); err != nil {
		return fmt.Errorf("publish heartbeat: %w", err)
	}
	return nil
}

// Run beats every interval until ctx is cancelled. Invalid heartbeats are
// logged and skipped; a broker failure ends the loop.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	for {
		err := h.Beat(ctx)
		var invalid *schema.InvalidError
		switch {
		case err == nil:
			h.logger.Trace("heartbeat sent", logging.LogFields{"queue": h.cfg.Queue})
		case errors.As(err, &invalid):
			h.logger.Error("heartbeat not sent", err, nil)
		default:
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
