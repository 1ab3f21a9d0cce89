// Package transport defines the broker abstraction syncflow services run on.
// Each transport implementation lives in its own sub-package and registers
// itself with the transport registry.
package transport

import (
	"context"
	"slices"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/syncflow/internal/entity"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports need without depending on the full
// config package.
type Config interface {
	// GetPubSubSystem returns the transport name.
	GetPubSubSystem() string
	GetRabbitMQURL() string
	// GetExchange names the topic exchange envelopes are routed through.
	GetExchange() string
	// GetServiceName names the consuming service and its queue.
	GetServiceName() string
	// GetServices lists every participating service.
	GetServices() []string
	// GetDirectQueues lists queues addressed by name, bypassing the exchange.
	GetDirectQueues() []string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// Topology is the broker layout one service needs: its durable queue bound to
// the routing keys of every other service, plus the queues that are published
// to by name.
type Topology struct {
	Exchange     string
	Queue        string
	Bindings     []string
	DirectQueues []string
}

// TopologyFor derives the topology of the service configured in cfg.
func TopologyFor(cfg Config) Topology {
	service := cfg.GetServiceName()
	return Topology{
		Exchange:     cfg.GetExchange(),
		Queue:        service,
		Bindings:     entity.Bindings(service, cfg.GetServices()),
		DirectQueues: slices.Clone(cfg.GetDirectQueues()),
	}
}

// IsDirect reports whether topic names a queue published to by name.
func (t Topology) IsDirect(topic string) bool {
	return slices.Contains(t.DirectQueues, topic)
}

// ExchangeFor returns the exchange a message for topic is published to. Direct
// queues use the default exchange, named "".
func (t Topology) ExchangeFor(topic string) string {
	if t.IsDirect(topic) {
		return ""
	}
	return t.Exchange
}
