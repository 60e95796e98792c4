package cli

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	runtimepkg "github.com/drblury/onesided/internal/runtime"
	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	"github.com/drblury/onesided/internal/runtime/handlers"
	"github.com/drblury/onesided/internal/runtime/wire"
)

type point struct {
	I int32
	D float64
	V []int32
}

func (p point) equal(o point) bool {
	return p.I == o.I && p.D == o.D && slices.Equal(p.V, o.V)
}

func (p point) String() string {
	return fmt.Sprintf("{i=%d d=%g v=%v}", p.I, p.D, p.V)
}

// rankHandlers holds the variables bound to the scenario handlers of one
// rank. Registration order fixes the keys, so every rank builds the same set.
type rankHandlers struct {
	point point
	ring  point

	reg    *handlers.Registry
	pointH *handlers.Handler
	ringH  *handlers.Handler
	emptyH *handlers.Handler
}

func newRankHandlers() *rankHandlers {
	h := &rankHandlers{reg: handlers.NewRegistry()}
	h.pointH = h.reg.MustRegister("point", wire.NewMessage(wire.Fixed(&h.point.I), wire.Fixed(&h.point.D), wire.Slice(&h.point.V)))
	h.ringH = h.reg.MustRegister("ring", wire.NewMessage(wire.Fixed(&h.ring.I), wire.Fixed(&h.ring.D), wire.Slice(&h.ring.V)))
	h.emptyH = h.reg.MustRegister("empty", wire.NewMessage())
	return h
}

type scenario struct {
	name     string
	minRanks int
	run      func(ctx context.Context, m *runtimepkg.Messenger, h *rankHandlers, out io.Writer) error
}

var scenarios = []scenario{
	{name: "point", minRanks: 2, run: runPoint},
	{name: "ring", minRanks: 1, run: runRing},
	{name: "array", minRanks: 1, run: runArray},
	{name: "capacity", minRanks: 1, run: runCapacity},
}

func scenarioNames() []string {
	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.name
	}
	return names
}

// selectScenarios resolves names in the given order. "all" selects every
// scenario the world is large enough for.
func selectScenarios(names []string, size int) ([]scenario, error) {
	var out []scenario
	for _, name := range names {
		if name == "all" {
			for _, s := range scenarios {
				if size >= s.minRanks {
					out = append(out, s)
				}
			}
			continue
		}
		i := slices.IndexFunc(scenarios, func(s scenario) bool { return s.name == name })
		if i < 0 {
			return nil, fmt.Errorf("unknown scenario %q, want one of %s or all", name, strings.Join(scenarioNames(), ", "))
		}
		if size < scenarios[i].minRanks {
			return nil, fmt.Errorf("scenario %s needs at least %d ranks, have %d", name, scenarios[i].minRanks, size)
		}
		out = append(out, scenarios[i])
	}
	return out, nil
}

// runPoint sends one message from rank 0 to rank 1. Every other rank must
// see no change.
func runPoint(ctx context.Context, m *runtimepkg.Messenger, h *rankHandlers, out io.Writer) error {
	sent := point{I: 1, D: 11.0, V: []int32{12, 13, 14}}
	h.point = point{}
	if m.Rank() == 0 {
		h.point = sent
		if _, err := m.Post(h.pointH, 1); err != nil {
			return err
		}
		h.point = point{}
	}
	if _, err := m.Exchange(ctx); err != nil {
		return err
	}

	want := point{}
	if m.Rank() == 1 {
		want = sent
	}
	if !h.point.equal(want) {
		return fmt.Errorf("%spoint: got %v, want %v", m.Label(), h.point, want)
	}
	fmt.Fprintf(out, "%spoint: %v\n", m.Label(), h.point)
	return nil
}

// runRing sends each rank's values to its right neighbor.
func runRing(ctx context.Context, m *runtimepkg.Messenger, h *rankHandlers, out io.Writer) error {
	r := int32(m.Rank())
	h.ring = point{I: r, D: float64(r), V: []int32{r, r}}
	if _, err := m.Post(h.ringH, m.NextRank(1)); err != nil {
		return err
	}
	h.ring = point{}
	if _, err := m.Exchange(ctx); err != nil {
		return err
	}

	prev := int32(m.NextRank(-1))
	want := point{I: prev, D: float64(prev), V: []int32{prev, prev}}
	if m.Size() == 1 {
		// A message to self is not delivered.
		want = point{}
	}
	if !h.ring.equal(want) {
		return fmt.Errorf("%sring: got %v, want %v", m.Label(), h.ring, want)
	}
	fmt.Fprintf(out, "%sring: %v from %d\n", m.Label(), h.ring, prev)
	return nil
}

// runArray assembles an array on every rank; rank r owns 4+r consecutive
// elements and broadcasts them.
func runArray(ctx context.Context, m *runtimepkg.Messenger, _ *rankHandlers, out io.Writer) error {
	bounds := make([][2]int, m.Size())
	n := 0
	for r := range bounds {
		bounds[r] = [2]int{n, n + 4 + r}
		n += 4 + r
	}
	fill := func(root, i int) int64 { return int64(100*root + i) }

	a := make([]int64, n)
	for root, b := range bounds {
		raw := make([]byte, (b[1]-b[0])*8)
		if root == m.Rank() {
			for i := b[0]; i < b[1]; i++ {
				binary.LittleEndian.PutUint64(raw[(i-b[0])*8:], uint64(fill(root, i)))
			}
		}
		if err := m.Comm().Broadcast(ctx, root, raw); err != nil {
			return err
		}
		for i := b[0]; i < b[1]; i++ {
			a[i] = int64(binary.LittleEndian.Uint64(raw[(i-b[0])*8:]))
		}
	}

	for root, b := range bounds {
		for i := b[0]; i < b[1]; i++ {
			if a[i] != fill(root, i) {
				return fmt.Errorf("%sarray: element %d is %d, want %d", m.Label(), i, a[i], fill(root, i))
			}
		}
	}
	fmt.Fprintf(out, "%sarray: %v\n", m.Label(), a)
	return nil
}

// runCapacity fills the header section with empty messages for the right
// neighbor, checks that one more post is refused and exchanges the full
// table. Remote-get delivers every message. Broadcast cannot share a full
// table from every rank in one pass, and repeats a tag when a rank sends the
// same handler twice to one destination, so it fails on every rank.
func runCapacity(ctx context.Context, m *runtimepkg.Messenger, h *rankHandlers, out io.Writer) error {
	limit := m.Buffer().MaxMessages() - 1
	to := m.NextRank(1)
	for i := 0; i < limit; i++ {
		if _, err := m.Post(h.emptyH, to); err != nil {
			return fmt.Errorf("%scapacity: post %d of %d: %w", m.Label(), i+1, limit, err)
		}
	}
	if got := m.Buffer().NMessages(); got != limit {
		return fmt.Errorf("%scapacity: %d messages posted, want %d", m.Label(), got, limit)
	}
	_, err := m.Post(h.emptyH, to)
	if !errors.Is(err, errspkg.ErrTooManyMessages) {
		return fmt.Errorf("%scapacity: post beyond %d messages returned %v", m.Label(), limit, err)
	}

	res, err := m.Exchange(ctx)
	if m.Discoverer().Name() == (runtimepkg.Broadcast{}).Name() {
		m.Buffer().Clear()
		if err != nil && !errors.Is(err, errspkg.ErrTooManyMessages) && !errors.Is(err, errspkg.ErrDuplicateTag) {
			return fmt.Errorf("%scapacity: exchange: %w", m.Label(), err)
		}
		fmt.Fprintf(out, "%scapacity: %d messages fit, next refused, full table not shared\n", m.Label(), limit)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%scapacity: exchange: %w", m.Label(), err)
	}
	want := limit
	if m.Size() == 1 {
		want = 0
	}
	if got := res.ByHandler["empty"]; got != want {
		return fmt.Errorf("%scapacity: %d messages received, want %d", m.Label(), got, want)
	}
	fmt.Fprintf(out, "%scapacity: %d messages fit, next refused, %d received\n", m.Label(), limit, want)
	return nil
}
