// Package publisher turns change notifications from the source system into
// validated envelopes on the broker.
//
// Every notification walks Received, Encoded, IdentityResolved, Validated,
// Published and Cleared in that order. The change row is cleared only after
// the broker accepted the envelope, so a crash in between redelivers the
// change on the next poll.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/syncflow/internal/codec"
	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/envelope"
	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	idspkg "github.com/drblury/syncflow/internal/runtime/ids"
	"github.com/drblury/syncflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/syncflow/internal/runtime/metadata"
	"github.com/drblury/syncflow/internal/runtime/metrics"
	"github.com/drblury/syncflow/internal/schema"
)

// State is a step of the per-notification state machine.
type State string

const (
	StateReceived         State = "received"
	StateEncoded          State = "encoded"
	StateIdentityResolved State = "identity_resolved"
	StateValidated        State = "validated"
	StatePublished        State = "published"
	StateCleared          State = "cleared"
	StateFailed           State = "failed"
)

// Source yields pending changes and clears them once published.
type Source interface {
	Notifications(ctx context.Context) iter.Seq2[entity.ChangeNotification, error]
	Clear(ctx context.Context, n entity.ChangeNotification) error
	// Park keeps a change that failed validation from being handed out again.
	Park(n entity.ChangeNotification)
}

// RecordSource reads the current field values of a source record.
type RecordSource interface {
	Fetch(ctx context.Context, t entity.Type, id string, columns []string) (envelope.Record, error)
}

// LogShipper forwards outcome lines to the control room.
type LogShipper interface {
	Ship(ctx context.Context, function, text string, failed bool) error
}

// Config wires a Publisher.
type Config struct {
	Source    Source
	Records   RecordSource
	Codec     *codec.Codec
	Validator schema.Validator
	Publisher message.Publisher

	Logger  logging.ServiceLogger
	Metrics *metrics.Recorder
	Tracer  trace.Tracer
	Shipper LogShipper
}

// Publisher runs the publish loop for one source system.
type Publisher struct {
	source    Source
	records   RecordSource
	codec     *codec.Codec
	validator schema.Validator
	publisher message.Publisher
	logger    logging.ServiceLogger
	metrics   *metrics.Recorder
	tracer    trace.Tracer
	shipper   LogShipper
}

func New(cfg Config) (*Publisher, error) {
	switch {
	case cfg.Source == nil, cfg.Records == nil:
		return nil, errspkg.ErrSourceRequired
	case cfg.Codec == nil:
		return nil, errspkg.ErrResolverRequired
	case cfg.Validator == nil:
		return nil, errspkg.ErrValidatorRequired
	case cfg.Publisher == nil:
		return nil, errspkg.ErrPublisherRequired
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/drblury/syncflow/publisher")
	}
	return &Publisher{
		source:    cfg.Source,
		records:   cfg.Records,
		codec:     cfg.Codec,
		validator: cfg.Validator,
		publisher: cfg.Publisher,
		logger:    logging.OrNop(cfg.Logger),
		metrics:   cfg.Metrics,
		tracer:    tracer,
		shipper:   cfg.Shipper,
	}, nil
}

// StepError reports where a notification stopped. State is the last state
// the notification reached.
type StepError struct {
	State State
	Kind  entity.Kind
	ID    string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s %s stopped after %s: %v", e.Kind, e.ID, e.State, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Fatal reports a broker or change-log failure. Those stop the loop so the
// process supervisor can restart it; every other failure only affects the
// notification at hand.
func (e *StepError) Fatal() bool {
	return e.State == StateValidated || e.State == StatePublished
}

// Run handles notifications one at a time until ctx is cancelled or a fatal
// error occurs. Cancellation lets the notification in flight finish.
func (p *Publisher) Run(ctx context.Context) error {
	for n, err := range p.source.Notifications(ctx) {
		if err != nil {
			return fmt.Errorf("poll change log: %w", err)
		}
		_, err := p.Handle(ctx, n)
		var step *StepError
		if errors.As(err, &step) && step.Fatal() {
			return err
		}
	}
	return nil
}

// Handle drives one notification through the state machine and returns the
// last state reached.
func (p *Publisher) Handle(ctx context.Context, n entity.ChangeNotification) (State, error) {
	kind := n.Kind()
	ctx, span := p.tracer.Start(ctx, "syncflow.publish "+kind.String(),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("syncflow.entity_type", kind.Type.String()),
			attribute.String("syncflow.operation", kind.Operation.String()),
			attribute.String("syncflow.source_id", n.SourceID),
		),
	)
	defer span.End()

	run := &notificationRun{p: p, n: n, span: span, state: StateReceived}
	run.enter(StateReceived)
	err := run.drive(ctx)
	if err == nil && run.unchanged {
		p.metrics.Notification(kind, metrics.OutcomeSkipped)
		p.logger.Info("update names no tracked column, change cleared", run.fields())
		return run.state, nil
	}
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		p.logger.Info("notification deferred by shutdown", run.fields())
		return run.state, &StepError{State: run.state, Kind: kind, ID: n.SourceID, Err: err}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.fail(ctx, run, err)
		return run.state, &StepError{State: run.state, Kind: kind, ID: n.SourceID, Err: err}
	}
	p.metrics.Notification(kind, metrics.OutcomePublished)
	p.logger.Info("notification published", run.fields())
	p.ship(ctx, n, "published "+run.master, false)
	return run.state, nil
}

func (p *Publisher) fail(ctx context.Context, run *notificationRun, err error) {
	n := run.n
	var invalid *schema.InvalidError
	outcome := metrics.OutcomeFailed
	if errors.As(err, &invalid) {
		outcome = metrics.OutcomeInvalid
		p.source.Park(n)
	}
	p.metrics.Notification(n.Kind(), outcome)
	fields := run.fields()
	fields["last_state"] = fields[logging.FieldState]
	fields[logging.FieldState] = string(StateFailed)
	p.logger.Error("notification failed", err, fields)
	p.ship(ctx, n, err.Error(), true)
}

func (p *Publisher) ship(ctx context.Context, n entity.ChangeNotification, text string, failed bool) {
	if p.shipper == nil {
		return
	}
	function := fmt.Sprintf("PUBLISHER: %s %s", n.Operation, n.Type)
	if err := p.shipper.Ship(context.WithoutCancel(ctx), function, text, failed); err != nil {
		p.logger.Error("log shipping failed", err, logging.LogFields{logging.FieldEntityType: n.Type.String()})
	}
}

type notificationRun struct {
	p      *Publisher
	n      entity.ChangeNotification
	span   trace.Span
	state  State
	master string
	// unchanged is set for an update whose change row names no column of
	// its type; the row is cleared without publishing.
	unchanged bool
}

func (r *notificationRun) enter(s State) {
	r.state = s
	r.span.AddEvent(string(s))
}

func (r *notificationRun) fields() logging.LogFields {
	return logging.LogFields{
		logging.FieldEntityType: r.n.Type.String(),
		logging.FieldOperation:  r.n.Operation.String(),
		logging.FieldSourceID:   r.n.SourceID,
		logging.FieldMasterUUID: r.master,
		logging.FieldState:      string(r.state),
	}
}

func (r *notificationRun) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.p.metrics.ObserveStage(stage, time.Since(start))
	return err
}

// drive runs the steps. Steps already started are completed even when ctx
// is cancelled; cancellation is only honoured before fetching and before
// publishing.
func (r *notificationRun) drive(ctx context.Context) error {
	p, n := r.p, r.n
	step := context.WithoutCancel(ctx)

	if err := ctx.Err(); err != nil {
		return err
	}
	var columns []string
	if n.Operation == entity.Update {
		// Fetch selects every column when given none.
		if columns = envelope.ChangedColumns(n.Type, n.ChangedFields); len(columns) == 0 {
			if err := r.timed("clear", func() error { return p.source.Clear(step, n) }); err != nil {
				return fmt.Errorf("clear change %s: %w", n.ChangeID, err)
			}
			r.unchanged = true
			r.enter(StateCleared)
			return nil
		}
	}
	var rec envelope.Record
	if n.Operation != entity.Delete {
		err := r.timed("fetch", func() (err error) {
			rec, err = p.records.Fetch(step, n.Type, n.SourceID, columns)
			return err
		})
		if err != nil {
			return err
		}
	}

	doc, err := p.codec.Build(n, rec)
	if err != nil {
		return err
	}
	r.enter(StateEncoded)

	err = r.timed("resolve", func() error {
		created, err := p.codec.Resolve(step, n, doc)
		if created {
			r.span.SetAttributes(attribute.Bool("syncflow.master_created", true))
		}
		return err
	})
	if err != nil {
		return err
	}
	r.master = doc.Head().ID
	r.enter(StateIdentityResolved)

	payload, err := envelope.Marshal(doc)
	if err != nil {
		return err
	}
	if err := r.timed("validate", func() error { return p.validator.Validate(n.Type.String(), payload) }); err != nil {
		return err
	}
	r.enter(StateValidated)

	if err := ctx.Err(); err != nil {
		return err
	}
	routingKey := doc.Head().RoutingKey
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(metadatapkg.ForEnvelope(idspkg.CreateULID(), n.Kind(), p.codec.Service(), r.master))
	msg.SetContext(step)
	if err := r.timed("publish", func() error { return p.publisher.Publish(routingKey, msg) }); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	r.enter(StatePublished)

	if err := r.timed("clear", func() error { return p.source.Clear(step, n) }); err != nil {
		return fmt.Errorf("clear change %s: %w", n.ChangeID, err)
	}
	r.enter(StateCleared)
	return nil
}
