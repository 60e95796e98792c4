package runtime

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/drblury/onesided/internal/runtime/buffer"
	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	"github.com/drblury/onesided/internal/runtime/logging"
	"github.com/drblury/onesided/transport"
)

// Broadcast discovers messages collectively. Every rank learns every header
// through one broadcast per root, then payloads travel point to point and
// land in the receiver's own window buffer after its outgoing payloads.
// Afterwards the window buffer holds the whole header table in root order.
type Broadcast struct{}

func (Broadcast) Name() string { return "broadcast" }

type tagKey struct {
	source, destination int
	key                 buffer.Key
}

func (Broadcast) Discover(ctx context.Context, d *Exchange) (View, error) {
	ctx, span := d.span(ctx, "onesided.broadcast", attribute.Int("rank", d.rank()))
	defer span.End()

	view, err := broadcastPass(ctx, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return View{}, err
	}
	span.SetAttributes(attribute.Int("messages", view.Len()))
	return view, nil
}

func broadcastPass(ctx context.Context, d *Exchange) (View, error) {
	w := d.Window
	self := d.rank()
	size := d.Comm.Size()

	own, cursor, err := ownEntries(w, self)
	if err != nil {
		return View{}, err
	}

	counts, err := broadcastCounts(ctx, d.Comm, len(own))
	if err != nil {
		return View{}, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	// Every rank sees the same counts, so every rank fails here together.
	if total >= w.MaxMessages() {
		return View{}, &errspkg.CapacityError{Need: total + 1, Have: w.MaxMessages(), Err: errspkg.ErrTooManyMessages}
	}

	table := make([]buffer.Header, 0, total)
	for root := 0; root < size; root++ {
		if counts[root] == 0 {
			continue
		}
		headers, err := broadcastHeaders(ctx, d.Comm, root, counts[root], own)
		if err != nil {
			return View{}, err
		}
		table = append(table, headers...)
	}

	seen := make(map[tagKey]int, len(table))
	for i, h := range table {
		k := tagKey{h.Source, h.Destination, h.Key}
		if prev, dup := seen[k]; dup {
			return View{}, fmt.Errorf("%w: entries %d and %d from %d to %d with key %d",
				errspkg.ErrDuplicateTag, prev, i, h.Source, h.Destination, h.Key)
		}
		seen[k] = i
	}

	for i, h := range table {
		if h.Source != self || h.Destination == self {
			continue
		}
		payload, err := w.Range(h.Begin, h.End)
		if err != nil {
			return View{}, fmt.Errorf("send entry %d: %w", i, err)
		}
		if err := d.Comm.Send(ctx, h.Destination, transport.Tag(h.Key), payload); err != nil {
			return View{}, errspkg.NewRankError(h.Destination, "send", err)
		}
	}

	view := View{Buffer: w}
	for i := range table {
		h := &table[i]
		if h.Destination != self || h.Source == self {
			continue
		}
		words := h.SizeWords()
		if words < 0 {
			return View{}, fmt.Errorf("%w: entry %d has end %d before begin %d", errspkg.ErrOutOfBounds, i, h.End, h.Begin)
		}
		dst, err := w.Range(cursor, cursor+words)
		if err != nil {
			return View{}, &errspkg.CapacityError{Need: cursor + words, Have: w.Capacity(), Err: errspkg.ErrBufferFull}
		}
		if err := d.Comm.Recv(ctx, h.Source, transport.Tag(h.Key), dst); err != nil {
			return View{}, errspkg.NewRankError(h.Source, "recv", err)
		}
		h.Begin, h.End = cursor, cursor+words
		cursor += words
		view.IDs = append(view.IDs, i)
	}

	if err := rebuildTable(w, table, cursor); err != nil {
		return View{}, err
	}
	d.logger().Trace("broadcast pass done", logging.LogFields{"entries": total, "received": view.Len()})
	return view, nil
}

// ownEntries returns the entries of w posted by self and the first payload
// word after their payloads. A previous pass leaves the whole shared table in
// w; the entries received from peers are not shared again and their payload
// words are reused.
func ownEntries(w *buffer.Buffer, self int) ([]buffer.Header, int, error) {
	var own []buffer.Header
	cursor := buffer.HeaderWords(w.MaxMessages())
	for id := 0; id < w.NMessages(); id++ {
		h, err := w.Header(id)
		if err != nil {
			return nil, 0, err
		}
		if h.Source != self {
			continue
		}
		own = append(own, h)
		cursor = max(cursor, h.End)
	}
	return own, cursor, nil
}

// broadcastCounts shares every rank's message count, one root at a time.
func broadcastCounts(ctx context.Context, comm transport.Comm, mine int) ([]int, error) {
	counts := make([]int, comm.Size())
	word := make([]byte, buffer.WordSize)
	for root := range counts {
		if root == comm.Rank() {
			binary.LittleEndian.PutUint64(word, uint64(mine))
		}
		if err := comm.Broadcast(ctx, root, word); err != nil {
			return nil, errspkg.NewRankError(root, "broadcast count", err)
		}
		n := int64(binary.LittleEndian.Uint64(word))
		if n < 0 {
			return nil, errspkg.NewRankError(root, "broadcast count", fmt.Errorf("%w: count %d", errspkg.ErrMessageIndex, n))
		}
		counts[root] = int(n)
	}
	return counts, nil
}

// broadcastHeaders shares the n header entries of root. The root sends own.
func broadcastHeaders(ctx context.Context, comm transport.Comm, root, n int, own []buffer.Header) ([]buffer.Header, error) {
	const entry = buffer.HeaderFields * buffer.WordSize
	raw := make([]byte, n*entry)
	if root == comm.Rank() {
		for i, h := range own {
			encodeHeader(raw[i*entry:], h)
		}
	}
	if err := comm.Broadcast(ctx, root, raw); err != nil {
		return nil, errspkg.NewRankError(root, "broadcast headers", err)
	}
	headers := make([]buffer.Header, n)
	for i := range headers {
		headers[i] = decodeHeader(raw[i*entry:])
	}
	return headers, nil
}

func encodeHeader(b []byte, h buffer.Header) {
	for i, v := range [buffer.HeaderFields]int64{int64(h.Begin), int64(h.End), int64(h.Source), int64(h.Destination), int64(h.Key)} {
		binary.LittleEndian.PutUint64(b[i*buffer.WordSize:], uint64(v))
	}
}

func decodeHeader(b []byte) buffer.Header {
	word := func(i int) int64 { return int64(binary.LittleEndian.Uint64(b[i*buffer.WordSize:])) }
	return buffer.Header{
		Begin:       int(word(0)),
		End:         int(word(1)),
		Source:      int(word(2)),
		Destination: int(word(3)),
		Key:         buffer.Key(word(4)),
	}
}

// rebuildTable writes table into w and records next as the first free
// payload word.
func rebuildTable(w *buffer.Buffer, table []buffer.Header, next int) error {
	for i, h := range table {
		if err := w.SetHeader(i, h); err != nil {
			return err
		}
	}
	if err := w.SetHeader(len(table), buffer.Header{Begin: next}); err != nil {
		return err
	}
	return w.SetCount(len(table))
}
