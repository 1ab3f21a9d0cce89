// Package transport adapts the modular transport registry to the runtime
// configuration.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/syncflow/internal/runtime/config"
	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	"github.com/drblury/syncflow/transport"

	// Register the built-in transports.
	_ "github.com/drblury/syncflow/transport/transports"
)

// Transport is the publisher and subscriber pair of one service.
type Transport = transport.Transport

// Factory abstracts how the runtime initialises message transports.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

// Build calls f.
func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the factory backed by the default transport registry.
func DefaultFactory() Factory {
	return registryFactory{registry: transport.DefaultRegistry}
}

// RegistryFactory returns a factory backed by reg.
func RegistryFactory(reg *transport.Registry) Factory {
	return registryFactory{registry: reg}
}

type registryFactory struct {
	registry *transport.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errspkg.ErrConfigRequired
	}
	return f.registry.Build(ctx, conf, logger)
}

// Capabilities reports the capabilities of the configured transport.
func Capabilities(conf *config.Config) transport.Capabilities {
	return transport.GetCapabilities(conf.PubSubSystem)
}
