package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/onesided/internal/runtime/errors"
)

// Registry maps backend names to their builders and capabilities. Backend
// packages register themselves from init.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	builder Builder
	caps    Capabilities
	hasCaps bool
}

// DefaultRegistry is the registry the transport sub-packages register with.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds or replaces the builder for name, which is matched against
// Config.GetPubSubSystem. Capabilities registered earlier are kept.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[name]
	e.builder = builder
	r.entries[name] = e
}

// RegisterWithCapabilities adds or replaces the builder and capabilities for
// name. An empty caps.Name is set to name.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	if caps.Name == "" {
		caps.Name = name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{builder: builder, caps: caps, hasCaps: true}
}

// GetCapabilities returns the capabilities registered for name. Unknown
// backends report only their name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok && e.hasCaps {
		return e.caps
	}
	return Capabilities{Name: name}
}

// Build validates the world membership in cfg and runs the builder
// registered for cfg.GetPubSubSystem.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (PubSub, error) {
	if cfg == nil {
		return PubSub{}, errspkg.ErrConfigRequired
	}
	if size, rank := cfg.GetSize(), cfg.GetRank(); size < 1 || rank < 0 || rank >= size {
		return PubSub{}, &errspkg.RankError{Rank: rank, Op: "build transport", Err: errspkg.ErrInvalidRank}
	}

	name := cfg.GetPubSubSystem()
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok || e.builder == nil {
		return PubSub{}, fmt.Errorf("%w: %q (registered: %v)", errspkg.ErrUnknownTransport, name, r.Names())
	}

	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return e.builder(ctx, cfg, logger)
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Register adds a builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and its capabilities to the
// default registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build creates a backend from the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (PubSub, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
