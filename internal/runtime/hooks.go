package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/runtime/metadata"
)

// EnvelopeContext describes one envelope delivery to the hooks.
type EnvelopeContext struct {
	Kind          entity.Kind
	MessageUUID   string
	CorrelationID string
	OriginService string
	MasterUUID    string
	Context       context.Context
	StartedAt     time.Time
	// Duration is set for OnDone and OnError.
	Duration time.Duration
}

// EnvelopeHooks are optional callbacks around envelope handling on the
// consumer side. OnError receives the category the service classifier put the
// error in.
type EnvelopeHooks struct {
	OnStart func(ctx EnvelopeContext)
	OnDone  func(ctx EnvelopeContext)
	OnError func(ctx EnvelopeContext, category ErrorCategory, err error)
}

// Merge returns hooks calling h first and other second.
func (h EnvelopeHooks) Merge(other EnvelopeHooks) EnvelopeHooks {
	return EnvelopeHooks{
		OnStart: chain(h.OnStart, other.OnStart),
		OnDone:  chain(h.OnDone, other.OnDone),
		OnError: chainError(h.OnError, other.OnError),
	}
}

func (h EnvelopeHooks) empty() bool {
	return h.OnStart == nil && h.OnDone == nil && h.OnError == nil
}

func chain(a, b func(EnvelopeContext)) func(EnvelopeContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx EnvelopeContext) {
		a(ctx)
		b(ctx)
	}
}

func chainError(a, b func(EnvelopeContext, ErrorCategory, error)) func(EnvelopeContext, ErrorCategory, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx EnvelopeContext, category ErrorCategory, err error) {
		a(ctx, category, err)
		b(ctx, category, err)
	}
}

// HooksMiddleware invokes hooks around every handled envelope.
func HooksMiddleware(hooks EnvelopeHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "envelope_hooks",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if hooks.empty() {
				return nil, nil
			}
			return hooksMiddleware(hooks, s.getErrorClassifier()), nil
		},
	}
}

func hooksMiddleware(hooks EnvelopeHooks, classify ErrorClassifier) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			md := metadata.FromWatermill(msg.Metadata)
			kind, _ := md.Kind()
			ectx := EnvelopeContext{
				Kind:          kind,
				MessageUUID:   msg.UUID,
				CorrelationID: md[metadata.KeyCorrelationID],
				OriginService: md[metadata.KeyOriginService],
				MasterUUID:    md[metadata.KeyMasterUUID],
				Context:       msg.Context(),
				StartedAt:     time.Now(),
			}
			if hooks.OnStart != nil {
				hooks.OnStart(ectx)
			}

			msgs, err := h(msg)
			ectx.Duration = time.Since(ectx.StartedAt)

			switch {
			case err != nil && hooks.OnError != nil:
				hooks.OnError(ectx, classify(err), err)
			case err == nil && hooks.OnDone != nil:
				hooks.OnDone(ectx)
			}
			return msgs, err
		}
	}
}
