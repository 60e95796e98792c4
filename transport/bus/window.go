package bus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	"github.com/drblury/onesided/internal/runtime/ids"
	"github.com/drblury/onesided/transport"
)

// Window is memory of one rank readable by every rank of its Comm. The owner
// serves remote reads from its dispatcher goroutine, so the owner must not
// write to Local while an access epoch is open.
type Window struct {
	comm  *Comm
	id    uint64
	local []byte
}

var _ transport.Window = (*Window)(nil)

func (w *Window) Local() []byte { return w.local }

// Get reads len(dst) bytes from rank's window starting at displacement disp.
func (w *Window) Get(ctx context.Context, rank, disp int, dst []byte) error {
	c := w.comm
	if err := c.checkRank(rank); err != nil {
		return err
	}
	if len(dst)%transport.DisplacementUnit != 0 {
		return fmt.Errorf("%w: get of %d bytes is not a whole number of words", errspkg.ErrOutOfBounds, len(dst))
	}
	offset := int64(disp) * transport.DisplacementUnit

	if rank == c.opts.Rank {
		if disp < 0 || offset+int64(len(dst)) > int64(len(w.local)) {
			return fmt.Errorf("%w: bytes [%d, %d) of %d", errspkg.ErrOutOfBounds, offset, offset+int64(len(dst)), len(w.local))
		}
		copy(dst, w.local[offset:])
		return nil
	}

	id := ids.CreateULID()
	req := envelope{Kind: kindGet, Seq: w.id, Offset: offset, Length: int64(len(dst)), ID: id}
	if err := c.publish(rank, req); err != nil {
		return errspkg.NewRankError(rank, "get", err)
	}
	reply, err := c.box.take(ctx, mailKey{kind: kindGetReply, source: rank, id: id})
	if err != nil {
		return errspkg.NewRankError(rank, "get", err)
	}

	switch reply.Code {
	case codeOK:
	case codeNoWindow:
		return errspkg.NewRankError(rank, "get", fmt.Errorf("%w: %s", errspkg.ErrNoWindow, reply.Err))
	case codeOutOfBounds:
		return errspkg.NewRankError(rank, "get", fmt.Errorf("%w: %s", errspkg.ErrOutOfBounds, reply.Err))
	case codeTooLarge:
		return errspkg.NewRankError(rank, "get", fmt.Errorf("%w: %s", errspkg.ErrMessageTooLarge, reply.Err))
	default:
		return errspkg.NewRankError(rank, "get", fmt.Errorf("code %d: %s", reply.Code, reply.Err))
	}
	if len(reply.Data) != len(dst) {
		return errspkg.NewRankError(rank, "get",
			fmt.Errorf("%w: %d bytes, want %d", errspkg.ErrSizeMismatch, len(reply.Data), len(dst)))
	}
	copy(dst, reply.Data)
	return nil
}

// Fence completes all reads issued through this window and synchronizes
// with every rank. Get is synchronous, so only the synchronization remains.
func (w *Window) Fence(ctx context.Context, assert transport.FenceAssert) error {
	w.comm.logger.Trace("fence", watermill.LogFields{"window": w.id, "assert": assert.String()})
	return w.comm.barrier(ctx, "fence")
}
