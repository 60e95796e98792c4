package transport

import (
	"context"
	"fmt"
	"strings"
)

// DisplacementUnit is the size in bytes of one window displacement step.
const DisplacementUnit = 8

// Tag labels a point-to-point message. Together with the sending rank it must
// be unique among the messages in flight to a receiver.
type Tag int64

// FenceAssert carries optimization hints for a fence. Implementations may
// ignore them; a fence always synchronizes.
type FenceAssert uint8

const (
	AssertNone FenceAssert = 0
	// AssertNoStore: no local stores to the window since the last fence.
	AssertNoStore FenceAssert = 1 << iota
	// AssertNoPut: the window will not be updated by remote puts until the
	// next fence.
	AssertNoPut
	// AssertNoPrecede: the fence closes no prior RMA operations.
	AssertNoPrecede
	// AssertNoSucceed: no RMA operations follow the fence.
	AssertNoSucceed
)

func (a FenceAssert) String() string {
	if a == AssertNone {
		return "none"
	}
	var parts []string
	names := []struct {
		flag FenceAssert
		name string
	}{
		{AssertNoStore, "nostore"},
		{AssertNoPut, "noput"},
		{AssertNoPrecede, "noprecede"},
		{AssertNoSucceed, "nosucceed"},
	}
	for _, n := range names {
		if a&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Comm is a fixed group of ranks. Collective operations (Allocate, Broadcast
// and Window.Fence) must be called by every rank in the same order.
type Comm interface {
	Rank() int
	Size() int

	// Allocate exposes words*DisplacementUnit bytes of local memory to every
	// rank. Collective.
	Allocate(ctx context.Context, words int) (Window, error)

	// Broadcast copies buf from root into buf on every other rank. Collective.
	Broadcast(ctx context.Context, root int, buf []byte) error

	// Send hands data to dest without waiting for the matching Recv.
	Send(ctx context.Context, dest int, tag Tag, data []byte) error

	// Recv blocks until the message from source with tag arrives and copies it
	// into dst, whose length must match.
	Recv(ctx context.Context, source int, tag Tag, dst []byte) error

	Close() error
}

// Window is the remotely readable memory of one rank.
type Window interface {
	// Local returns the memory exposed by this rank.
	Local() []byte

	// Get copies len(dst) bytes starting at displacement disp of rank's
	// window into dst. len(dst) must be a multiple of DisplacementUnit.
	Get(ctx context.Context, rank, disp int, dst []byte) error

	// Fence separates access epochs. Collective.
	Fence(ctx context.Context, assert FenceAssert) error
}

// Label returns the "[rank/size] " prefix used in diagnostics.
func Label(c Comm) string {
	return fmt.Sprintf("[%d/%d] ", c.Rank(), c.Size())
}

// NextRank returns the rank n steps after c's rank, wrapping around the group.
// Negative n walks backwards.
func NextRank(c Comm, n int) int {
	size := c.Size()
	if size <= 0 {
		return 0
	}
	return ((c.Rank()+n)%size + size) % size
}
