// Package channel provides an in-memory topic exchange transport. Services
// built in the same process with the same exchange name share it, which makes
// it suitable for tests and local development.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/syncflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

func init() {
	transport.Register(TransportName, Build, transport.ChannelCapabilities)
}

// Build joins the shared exchange named by the config and declares the
// service topology on it.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	top := transport.TopologyFor(cfg)
	ex, release := Shared(top.Exchange, logger)
	ex.Declare(top)

	// Publisher and subscriber each hold one reference.
	_, releaseSub := Shared(top.Exchange, logger)
	return transport.Transport{
		Publisher:  &publisher{ex: ex, release: release},
		Subscriber: &subscriber{ex: ex, release: releaseSub},
	}, nil
}

type publisher struct {
	ex      *Exchange
	release func() error
}

func (p *publisher) Publish(topic string, msgs ...*message.Message) error {
	return p.ex.Publish(topic, msgs...)
}

func (p *publisher) Close() error { return p.release() }

type subscriber struct {
	ex      *Exchange
	release func() error
}

func (s *subscriber) Subscribe(ctx context.Context, queue string) (<-chan *message.Message, error) {
	return s.ex.Subscribe(ctx, queue)
}

func (s *subscriber) Close() error { return s.release() }

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
