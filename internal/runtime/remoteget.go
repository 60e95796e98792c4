package runtime

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/drblury/onesided/internal/runtime/buffer"
	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	"github.com/drblury/onesided/internal/runtime/logging"
	"github.com/drblury/onesided/transport"
)

// RemoteGet discovers messages by reading every peer's window. The first
// epoch fetches each peer's header section; the second fetches the payloads
// addressed to this rank into the receive buffer, appended in peer order.
type RemoteGet struct{}

func (RemoteGet) Name() string { return "remote-get" }

type pendingGet struct {
	peer   int
	header buffer.Header
}

func (RemoteGet) Discover(ctx context.Context, d *Exchange) (View, error) {
	if d.Receive == nil {
		return View{}, fmt.Errorf("remote-get: %w", errspkg.ErrNoWindow)
	}
	ctx, span := d.span(ctx, "onesided.remote_get", attribute.Int("rank", d.rank()))
	defer span.End()

	d.Receive.Clear()

	scratch, err := buffer.NewHeaderOnly(d.Window.MaxMessages())
	if err != nil {
		return View{}, err
	}

	var pending []pendingGet
	err = WithEpoch(ctx, d.Guard, transport.AssertNoPut|transport.AssertNoPrecede, func(ctx context.Context) error {
		for peer := 0; peer < d.Comm.Size(); peer++ {
			if peer == d.rank() {
				continue
			}
			found, err := readPeerHeaders(ctx, d, scratch, peer)
			if err != nil {
				return err
			}
			pending = append(pending, found...)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "headers")
		return View{}, err
	}

	view := View{Buffer: d.Receive}
	err = WithEpoch(ctx, d.Guard, transport.AssertNoPut, func(ctx context.Context) error {
		for _, p := range pending {
			h := p.header
			payload, id, err := d.Receive.Allocate(h.SizeWords()*buffer.WordSize, h.Source, h.Destination, h.Key)
			if err != nil {
				return fmt.Errorf("receive from %d: %w", p.peer, err)
			}
			if err := d.Guard.Window().Get(ctx, p.peer, h.Begin, payload); err != nil {
				return errspkg.NewRankError(p.peer, "get payload", err)
			}
			view.IDs = append(view.IDs, id)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payloads")
		return View{}, err
	}

	span.SetAttributes(attribute.Int("messages", view.Len()))
	d.logger().Trace("remote-get pass done", logging.LogFields{"received": view.Len()})
	return view, nil
}

// readPeerHeaders copies peer's header section into scratch and returns the
// entries addressed to this rank.
func readPeerHeaders(ctx context.Context, d *Exchange, scratch *buffer.Buffer, peer int) ([]pendingGet, error) {
	if err := d.Guard.Window().Get(ctx, peer, 0, scratch.HeaderSection()); err != nil {
		return nil, errspkg.NewRankError(peer, "get headers", err)
	}
	n := scratch.NMessages()
	if n < 0 || n >= scratch.MaxMessages() {
		return nil, errspkg.NewRankError(peer, "get headers",
			fmt.Errorf("%w: peer reports %d messages with %d slots", errspkg.ErrMessageIndex, n, scratch.MaxMessages()))
	}
	var found []pendingGet
	for id := 0; id < n; id++ {
		h, err := scratch.Header(id)
		if err != nil {
			return nil, err
		}
		if h.Destination == d.rank() {
			found = append(found, pendingGet{peer: peer, header: h})
		}
	}
	return found, nil
}
