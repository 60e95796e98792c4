// Package transport connects a rank to its world: it builds the configured
// pub/sub backend through the transport registry and runs the bus Comm on top.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/onesided/internal/runtime/config"
	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	"github.com/drblury/onesided/transport"
	"github.com/drblury/onesided/transport/bus"

	// Import all transport packages to register them.
	_ "github.com/drblury/onesided/transport/transports"
)

// Factory abstracts how onesided connects a rank to its world.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Comm, error)
}

// DefaultFactory returns the factory that builds backends from the default
// transport registry.
func DefaultFactory() Factory {
	return defaultFactory{registry: transport.DefaultRegistry}
}

// RegistryFactory returns a factory that builds backends from r.
func RegistryFactory(r *transport.Registry) Factory {
	return defaultFactory{registry: r}
}

type defaultFactory struct {
	registry *transport.Registry
}

// BusFactory creates the Comm once the backend is up. Tests override it.
var BusFactory = func(ctx context.Context, ps transport.PubSub, opts bus.Options) (transport.Comm, error) {
	return bus.New(ctx, ps, opts)
}

func (f defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Comm, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	c := conf.WithDefaults()

	registry := f.registry
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	ps, err := registry.Build(ctx, &c, logger)
	if err != nil {
		return nil, err
	}

	handshakeCtx := ctx
	if c.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		handshakeCtx, cancel = context.WithTimeout(ctx, c.HandshakeTimeout)
		defer cancel()
	}

	comm, err := BusFactory(handshakeCtx, ps, bus.Options{
		World:         c.World,
		Rank:          c.Rank,
		Size:          c.Size,
		HelloInterval: c.HandshakeInterval,
		Capabilities:  registry.GetCapabilities(c.PubSubSystem),
		Logger:        logger,
	})
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%s: %w", c.PubSubSystem, err)
	}
	return comm, nil
}
