package runtime

import (
	"context"
	"sync/atomic"

	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	"github.com/drblury/onesided/transport"
)

// Guard tracks the epoch state of one window. Only one epoch may be open on a
// window at a time; every strategy working on the window shares its Guard.
type Guard struct {
	win  transport.Window
	open atomic.Bool
}

func NewGuard(w transport.Window) *Guard {
	return &Guard{win: w}
}

func (g *Guard) Window() transport.Window { return g.win }

// Open reports whether an epoch is currently open.
func (g *Guard) Open() bool { return g.open.Load() }

// Epoch is an open synchronization epoch. Close it exactly once.
type Epoch struct {
	guard  *Guard
	assert transport.FenceAssert
	closed atomic.Bool
}

// OpenEpoch issues the opening fence on the guarded window. It fails with
// ErrEpochOpen without fencing when an epoch is already open.
func OpenEpoch(ctx context.Context, g *Guard, assert transport.FenceAssert) (*Epoch, error) {
	if !g.open.CompareAndSwap(false, true) {
		return nil, errspkg.ErrEpochOpen
	}
	if err := g.win.Fence(ctx, assert); err != nil {
		g.open.Store(false)
		return nil, err
	}
	return &Epoch{guard: g, assert: assert}, nil
}

// Close issues the closing fence. The guard is released even when the fence
// fails, so a failed pass does not wedge the window.
func (e *Epoch) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return errspkg.ErrEpochClosed
	}
	defer e.guard.open.Store(false)
	return e.guard.win.Fence(ctx, closingAssert(e.assert))
}

// closingAssert keeps the hints that remain true for the closing fence.
// NoPrecede only describes the opening one.
func closingAssert(a transport.FenceAssert) transport.FenceAssert {
	return a &^ transport.AssertNoPrecede
}

// WithEpoch runs fn inside an epoch and closes it on every path, including a
// panic in fn. The first error wins.
func WithEpoch(ctx context.Context, g *Guard, assert transport.FenceAssert, fn func(ctx context.Context) error) (err error) {
	epoch, err := OpenEpoch(ctx, g, assert)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := epoch.Close(ctx); err == nil {
			err = closeErr
		}
	}()
	return fn(ctx)
}
