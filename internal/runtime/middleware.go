package runtime

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/drblury/syncflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/syncflow/internal/runtime/logging"
	"github.com/drblury/syncflow/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Service router.
// A Builder may return a nil middleware to opt out.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the chain every consumer runs, outermost first.
// Dead-lettering sits inside tracing and metrics so both see the original
// failure, and outside the recoverer so a panicking adapter is dead-lettered
// like any other failure.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		DeadLetterMiddleware(nil),
		ServiceHooksMiddleware(),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware adds the Watermill Prometheus router metrics.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}
			builder := metrics.NewPrometheusMetricsBuilder(s.registerer, "syncflow", "router")
			builder.AddPrometheusRouterMetrics(s.router)
			return builder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(metadata.KeyCorrelationID) == "" {
			msg.Metadata.Set(metadata.KeyCorrelationID, idspkg.CreateULID())
		}
		return h(msg)
	}
}

// LogMessagesMiddleware logs every received envelope at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Envelope received", loggingpkg.LogFields{
				loggingpkg.FieldMessageID: msg.UUID,
				"routing_key":             msg.Metadata.Get(metadata.KeyRoutingKey),
				"payload":                 string(msg.Payload),
			})
			return h(msg)
		}
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry consumer span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return tracerMiddleware(otel.Tracer("github.com/drblury/syncflow/runtime"), s.Conf.ServiceName), nil
		},
	}
}

func tracerMiddleware(tracer trace.Tracer, queue string) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx, span := tracer.Start(msg.Context(), "consume "+queue,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.message.id", msg.UUID),
					attribute.String("messaging.destination.name", queue),
					attribute.String("messaging.rabbitmq.destination.routing_key", msg.Metadata.Get(metadata.KeyRoutingKey)),
					attribute.String("syncflow.correlation_id", msg.Metadata.Get(metadata.KeyCorrelationID)),
				),
			)
			defer span.End()
			msg.SetContext(ctx)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
			}
			return msgs, err
		}
	}
}

// DeadLetterMiddleware publishes failed envelopes to the service dead-letter
// queue and acknowledges the original. filter selects which errors are
// dead-lettered; the default takes every error except shutdown cancellation,
// which is nacked so the broker redelivers the envelope.
func DeadLetterMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "dead_letter",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if s.publisher == nil {
				return nil, errors.New("publisher is required for the dead-letter middleware")
			}
			if s.Conf.DeadLetterQueue == "" {
				return nil, errors.New("dead-letter queue is not configured")
			}
			f := filter
			if f == nil {
				f = func(err error) bool { return !errors.Is(err, context.Canceled) }
			}
			return middleware.PoisonQueueWithFilter(s.publisher, s.Conf.DeadLetterQueue, f)
		},
	}
}

// ServiceHooksMiddleware runs the hooks passed in ServiceDependencies.
func ServiceHooksMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "service_hooks",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return HooksMiddleware(s.hooks).Builder(s)
		},
	}
}

// RecovererMiddleware converts panics into handler errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}
	s.router.AddMiddleware(mw)
	return nil
}
