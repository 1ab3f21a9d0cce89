package runtime

import (
	"slices"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
)

// MessageHandlerRegistration attaches a consumer handler to a queue. The
// default middleware chain applies, so a returned error dead-letters the
// message.
type MessageHandlerRegistration struct {
	Name         string
	ConsumeQueue string
	Handler      message.NoPublishHandlerFunc
	// Subscriber defaults to the service transport.
	Subscriber message.Subscriber
}

// RegisterMessageHandler attaches the provided handler to the service router.
func RegisterMessageHandler(svc *Service, cfg MessageHandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	return svc.registerHandler(cfg)
}

func (s *Service) registerHandler(cfg MessageHandlerRegistration) error {
	switch {
	case cfg.Handler == nil:
		return errspkg.ErrHandlerRequired
	case cfg.ConsumeQueue == "":
		return errspkg.ErrConsumeQueueRequired
	case cfg.Name == "":
		return errspkg.ErrHandlerNameRequired
	}
	if cfg.Subscriber == nil {
		cfg.Subscriber = s.subscriber
	}

	stats := newHandlerStats(s.resources)
	s.handlersMu.Lock()
	s.handlers = append(s.handlers, &HandlerInfo{
		Name:         cfg.Name,
		ConsumeQueue: cfg.ConsumeQueue,
		Stats:        stats,
	})
	s.handlersMu.Unlock()

	s.router.AddConsumerHandler(cfg.Name, cfg.ConsumeQueue, cfg.Subscriber,
		withStats(cfg.Handler, stats, s.getErrorClassifier()))
	return nil
}

// Handlers returns the registered handlers.
func (s *Service) Handlers() []*HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return slices.Clone(s.handlers)
}

func withStats(handler message.NoPublishHandlerFunc, stats *HandlerStats, classify ErrorClassifier) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		stats.start()
		start := time.Now()
		err := handler(msg)
		stats.finish(msg, time.Since(start), err, classify)
		return err
	}
}
