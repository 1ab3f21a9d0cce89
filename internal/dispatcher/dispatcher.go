// Package dispatcher applies envelopes received from the broker to the
// downstream system of one service.
//
// Messages are handled one at a time: Parsed, Resolved, Applied and then
// acknowledged. Any failure is returned to the router, whose poison queue
// middleware moves the message to the dead-letter queue instead of
// requeueing it. Shutdown is honoured only before the adapter is called;
// once it is, the adapter call and the binding update run to completion.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/syncflow/internal/codec"
	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/envelope"
	"github.com/drblury/syncflow/internal/identity"
	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	"github.com/drblury/syncflow/internal/runtime/logging"
	"github.com/drblury/syncflow/internal/runtime/metrics"
)

var ErrNoHandler = errors.New("syncflow: no handler registered for envelope")

// AdapterError wraps a failure of the downstream system.
type AdapterError struct {
	Kind    entity.Kind
	LocalID string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.LocalID == "" {
		return fmt.Sprintf("adapter %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("adapter %s %s: %v", e.Kind, e.LocalID, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Outcome describes what happened to a successfully handled envelope.
type Outcome string

const (
	// OutcomeApplied means the adapter was called.
	OutcomeApplied Outcome = "applied"
	// OutcomeSkipped means the envelope needed no change in this service.
	OutcomeSkipped Outcome = "skipped"
)

// LogShipper forwards outcome lines to the control room.
type LogShipper interface {
	Ship(ctx context.Context, function, text string, failed bool) error
}

// Config wires a Dispatcher.
type Config struct {
	Codec    *codec.Codec
	Resolver identity.Resolver
	Table    *Table

	Logger  logging.ServiceLogger
	Metrics *metrics.Recorder
	Tracer  trace.Tracer
	Shipper LogShipper
}

// Dispatcher routes envelopes to the adapters of one service.
type Dispatcher struct {
	codec    *codec.Codec
	resolver identity.Resolver
	table    *Table
	logger   logging.ServiceLogger
	metrics  *metrics.Recorder
	tracer   trace.Tracer
	shipper  LogShipper
}

func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Codec == nil, cfg.Resolver == nil:
		return nil, errspkg.ErrResolverRequired
	case cfg.Table == nil:
		return nil, errspkg.ErrHandlersRequired
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/drblury/syncflow/dispatcher")
	}
	return &Dispatcher{
		codec:    cfg.Codec,
		resolver: cfg.Resolver,
		table:    cfg.Table,
		logger:   logging.OrNop(cfg.Logger),
		metrics:  cfg.Metrics,
		tracer:   tracer,
		shipper:  cfg.Shipper,
	}, nil
}

// Service returns the name of the consuming service.
func (d *Dispatcher) Service() string { return d.codec.Service() }

// Table returns the handler table.
func (d *Dispatcher) Table() *Table { return d.table }

// Handle is the Watermill handler of the service queue.
func (d *Dispatcher) Handle(msg *message.Message) error {
	ctx, span := d.tracer.Start(msg.Context(), "syncflow.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.message.id", msg.UUID)),
	)
	defer span.End()

	fields := logging.LogFields{logging.FieldMessageID: msg.UUID, logging.FieldService: d.Service()}
	kind, outcome, err := d.dispatch(ctx, msg.Payload, fields)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		d.logger.Info("message deferred by shutdown", fields)
		return err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.Message(kind, metrics.OutcomeDeadLettered)
		d.logger.Error("message dead-lettered", err, fields)
		d.ship(ctx, kind, err.Error(), true)
		return err
	}
	span.SetAttributes(attribute.String("syncflow.outcome", string(outcome)))
	switch outcome {
	case OutcomeSkipped:
		d.metrics.Message(kind, metrics.OutcomeSkipped)
		d.logger.Info("message skipped", fields)
	default:
		d.metrics.Message(kind, metrics.OutcomeApplied)
		d.logger.Info("message applied", fields)
		d.ship(ctx, kind, fmt.Sprintf("applied %s", fields[logging.FieldMasterUUID]), false)
	}
	return nil
}

// Dispatch applies one serialized envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) (Outcome, error) {
	_, outcome, err := d.dispatch(ctx, payload, logging.LogFields{})
	return outcome, err
}

func (d *Dispatcher) dispatch(ctx context.Context, payload []byte, fields logging.LogFields) (entity.Kind, Outcome, error) {
	start := time.Now()
	defer func() { d.metrics.ObserveStage("dispatch", time.Since(start)) }()

	doc, err := envelope.Parse(payload)
	if err != nil {
		return entity.Kind{}, "", err
	}
	kind, err := envelope.Kind(doc)
	if err != nil {
		return entity.Kind{}, "", err
	}
	fields[logging.FieldEntityType] = kind.Type.String()
	fields[logging.FieldOperation] = kind.Operation.String()
	fields[logging.FieldMasterUUID] = doc.Head().ID
	fields[logging.FieldState] = "parsed"

	handler, ok := d.table.Lookup(kind)
	if !ok {
		return kind, "", fmt.Errorf("%w: %s", ErrNoHandler, kind)
	}

	if err := ctx.Err(); err != nil {
		return kind, "", err
	}
	step := context.WithoutCancel(ctx)
	dec, err := d.codec.Decode(step, doc)
	if err != nil {
		return kind, "", err
	}
	fields[logging.FieldState] = "resolved"
	fields["local_id"] = dec.LocalID

	switch {
	case kind.Operation == entity.Create && dec.Found:
		// Redelivered create, the entity already exists here.
		return kind, OutcomeSkipped, nil
	case kind.Operation != entity.Create && !dec.Found:
		// Never created in this service, nothing to change.
		return kind, OutcomeSkipped, nil
	}

	if err := ctx.Err(); err != nil {
		return kind, "", err
	}
	local, err := handler(step, dec.LocalID, dec.Fields)
	if err != nil {
		return kind, "", &AdapterError{Kind: kind, LocalID: dec.LocalID, Err: err}
	}
	fields[logging.FieldState] = "applied"

	switch kind.Operation {
	case entity.Create:
		if local == "" {
			return kind, "", &AdapterError{Kind: kind, Err: errors.New("create returned no local id")}
		}
		fields["local_id"] = local
		if err := d.resolver.AddServiceBinding(step, dec.MasterUUID, d.Service(), local); err != nil {
			return kind, "", fmt.Errorf("bind %s %s to %s: %w", kind.Type, dec.MasterUUID, local, err)
		}
	case entity.Delete:
		if err := d.resolver.DeleteServiceBinding(step, dec.MasterUUID, d.Service()); err != nil {
			return kind, "", fmt.Errorf("unbind %s %s: %w", kind.Type, dec.MasterUUID, err)
		}
	}
	return kind, OutcomeApplied, nil
}

func (d *Dispatcher) ship(ctx context.Context, kind entity.Kind, text string, failed bool) {
	if d.shipper == nil {
		return
	}
	function := fmt.Sprintf("CONSUMER: %s %s", kind.Operation, kind.Type)
	if err := d.shipper.Ship(context.WithoutCancel(ctx), function, text, failed); err != nil {
		d.logger.Error("log shipping failed", err, nil)
	}
}
