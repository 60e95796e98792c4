package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/onesided/internal/runtime/buffer"
	"github.com/drblury/onesided/internal/runtime/config"
	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	"github.com/drblury/onesided/internal/runtime/logging"
	"github.com/drblury/onesided/transport"
)

const tracerName = "github.com/drblury/onesided"

// Exchange is the state one discovery pass works on. The Messenger owns it;
// strategies only read the outgoing window buffer and fill the receive side.
type Exchange struct {
	Comm   transport.Comm
	Guard  *Guard
	Window *buffer.Buffer

	// Receive collects the payloads fetched by the remote-get strategy.
	Receive *buffer.Buffer

	Logger logging.ServiceLogger
	Tracer trace.Tracer
}

func (d *Exchange) rank() int { return d.Comm.Rank() }

func (d *Exchange) logger() logging.ServiceLogger {
	if d.Logger == nil {
		return logging.NewWatermillServiceLogger(watermill.NopLogger{})
	}
	return d.Logger
}

func (d *Exchange) tracer() trace.Tracer {
	if d.Tracer == nil {
		return otel.Tracer(tracerName)
	}
	return d.Tracer
}

func (d *Exchange) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return d.tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// View lists the messages a pass delivered to this rank. IDs index Buffer.
type View struct {
	Buffer *buffer.Buffer
	IDs    []int
}

func (v View) Len() int { return len(v.IDs) }

// Each calls fn for every received message in arrival order and stops at the
// first error.
func (v View) Each(fn func(b *buffer.Buffer, id int) error) error {
	for _, id := range v.IDs {
		if err := fn(v.Buffer, id); err != nil {
			return err
		}
	}
	return nil
}

// Headers returns the header of every received message.
func (v View) Headers() ([]buffer.Header, error) {
	out := make([]buffer.Header, 0, len(v.IDs))
	err := v.Each(func(b *buffer.Buffer, id int) error {
		h, err := b.Header(id)
		if err != nil {
			return err
		}
		out = append(out, h)
		return nil
	})
	return out, err
}

// Discoverer makes the messages addressed to this rank available locally.
// Discover is collective: every rank of the Comm calls it in the same pass.
type Discoverer interface {
	Name() string
	Discover(ctx context.Context, d *Exchange) (View, error)
}

// NewDiscoverer returns the strategy registered under name.
func NewDiscoverer(name string) (Discoverer, error) {
	switch name {
	case config.DiscoveryRemoteGet, "":
		return RemoteGet{}, nil
	case config.DiscoveryBroadcast:
		return Broadcast{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownDiscovery, name)
	}
}
