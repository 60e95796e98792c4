package buffer

import (
	"fmt"
	"strings"
)

// Snapshot is a JSON-friendly copy of the header table.
type Snapshot struct {
	NMessages   int      `json:"n_messages"`
	MaxMessages int      `json:"max_messages"`
	HeaderWords int      `json:"header_words"`
	Capacity    int      `json:"capacity_words"`
	HeaderOnly  bool     `json:"header_only"`
	Headers     []Header `json:"headers"`
}

// Snapshot copies the header table. A count outside the slot range is clamped
// so a corrupt peer copy can still be inspected.
func (b *Buffer) Snapshot() Snapshot {
	n := b.NMessages()
	s := Snapshot{
		NMessages:   n,
		MaxMessages: b.maxMessages,
		HeaderWords: b.HeaderWords(),
		Capacity:    b.Capacity(),
		HeaderOnly:  b.headerOnly,
	}
	n = min(max(n, 0), b.maxMessages)
	s.Headers = make([]Header, 0, n)
	for id := 0; id < n; id++ {
		h, _ := b.Header(id)
		s.Headers = append(s.Headers, h)
	}
	return s
}

// HeadersString renders the count and every allocated header.
func (b *Buffer) HeadersString() string {
	s := b.Snapshot()
	var sb strings.Builder
	fmt.Fprintf(&sb, "messages %d/%d, header %d words, capacity %d words\n",
		s.NMessages, s.MaxMessages-1, s.HeaderWords, s.Capacity)
	for id, h := range s.Headers {
		fmt.Fprintf(&sb, "  %3d: [%d, %d) %d words, %d -> %d, key %d\n",
			id, h.Begin, h.End, h.SizeWords(), h.Source, h.Destination, h.Key)
	}
	return sb.String()
}

// Dump renders the headers followed by the payload words of every message
// whose payload lies inside this buffer.
func (b *Buffer) Dump() string {
	var sb strings.Builder
	sb.WriteString(b.HeadersString())
	if b.headerOnly {
		return sb.String()
	}
	for id, h := range b.Snapshot().Headers {
		payload, err := b.Range(h.Begin, h.End)
		if err != nil {
			fmt.Fprintf(&sb, "  %3d: <%v>\n", id, err)
			continue
		}
		fmt.Fprintf(&sb, "  %3d:", id)
		for w := 0; w < len(payload); w += WordSize {
			fmt.Fprintf(&sb, " %016x", order.Uint64(payload[w:]))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (b *Buffer) String() string {
	return b.HeadersString()
}
