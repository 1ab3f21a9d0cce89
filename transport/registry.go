package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// ErrUnknownTransport is returned by Build when no builder is registered for
// the configured pubsub system.
var ErrUnknownTransport = errors.New("unknown transport")

// Registry maps transport names to their builders and capabilities.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// DefaultRegistry is the global transport registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a transport builder and its capabilities. Names are
// case-insensitive; registering a name again replaces the previous builder.
func (r *Registry) Register(name string, builder Builder, caps Capabilities) {
	if builder == nil {
		panic("transport: nil builder for " + name)
	}
	name = strings.ToLower(name)
	if caps.Name == "" {
		caps.Name = name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// GetCapabilities returns the capabilities for a registered transport.
func (r *Registry) GetCapabilities(name string) Capabilities {
	name = strings.ToLower(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build creates the transport named by the config's pubsub system.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, errors.New("transport: config is required")
	}
	if cfg.GetServiceName() == "" {
		return Transport{}, errors.New("transport: service name is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := strings.ToLower(cfg.GetPubSubSystem())
	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return Transport{}, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownTransport, name, r.Names())
	}

	t, err := builder(ctx, cfg, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("transport %s: %w", name, err)
	}
	return t, nil
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has returns true if a transport is registered with the given name.
func (r *Registry) Has(name string) bool {
	return slices.Contains(r.Names(), strings.ToLower(name))
}

// Register adds a transport builder to the default registry.
func Register(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.Register(name, builder, caps)
}

// Build creates a transport using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
