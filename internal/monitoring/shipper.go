package monitoring

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	idspkg "github.com/drblury/syncflow/internal/runtime/ids"
	"github.com/drblury/syncflow/internal/schema"
)

const DefaultLogRoutingKey = "logs"

// LogEntry is the document shipped to the control room.
type LogEntry struct {
	XMLName      xml.Name `xml:"LogEntry"`
	SystemName   string   `xml:"SystemName"`
	FunctionName string   `xml:"FunctionName"`
	Logs         string   `xml:"Logs"`
	Error        string   `xml:"Error"`
	Timestamp    string   `xml:"Timestamp"`
}

type ShipperConfig struct {
	SystemName string
	RoutingKey string
	// ShipSuccess also ships successful outcomes. Failures are always shipped.
	ShipSuccess bool
}

// Shipper publishes LogEntry documents. A nil *Shipper ships nothing.
type Shipper struct {
	cfg       ShipperConfig
	publisher message.Publisher
	validator schema.Validator
	now       func() time.Time
}

func NewShipper(cfg ShipperConfig, publisher message.Publisher, validator schema.Validator) (*Shipper, error) {
	if cfg.SystemName == "" {
		return nil, errspkg.ErrServiceNameNeeded
	}
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if validator == nil {
		return nil, errspkg.ErrValidatorRequired
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = DefaultLogRoutingKey
	}
	return &Shipper{cfg: cfg, publisher: publisher, validator: validator, now: time.Now}, nil
}

// Ship publishes one entry. function names the pipeline step, for example
// "PUBLISHER: create user".
func (s *Shipper) Ship(ctx context.Context, function, text string, failed bool) error {
	if s == nil || (!failed && !s.cfg.ShipSuccess) {
		return nil
	}
	data, err := xml.Marshal(LogEntry{
		SystemName:   s.cfg.SystemName,
		FunctionName: function,
		Logs:         text,
		Error:        strconv.FormatBool(failed),
		Timestamp:    s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := s.validator.Validate("LogEntry", data); err != nil {
		return err
	}
	msg := message.NewMessage(idspkg.CreateULID(), data)
	msg.SetContext(ctx)
	if err := s.publisher.Publish(s.cfg.RoutingKey, msg); err != nil {
		return fmt.Errorf("ship log entry: %w", err)
	}
	return nil
}
