// Package buffer implements the word-addressed message buffer shared through a
// remote-memory window.
//
// Layout, in 64-bit little-endian words:
//
//	word 0                      message count
//	words [1, 1+5*maxMessages)  header slots {begin, end, source, destination, key}
//	words [1+5*maxMessages, …)  payload
//
// begin and end are absolute word indices into the buffer. Allocation keeps
// begin(id+1) == end(id), so the slot after the last message always holds the
// next free payload word. A buffer with maxMessages slots therefore accepts at
// most maxMessages-1 messages.
package buffer

import (
	"encoding/binary"
	"fmt"

	errspkg "github.com/drblury/onesided/internal/runtime/errors"
)

const (
	// WordSize is the size of one buffer word in bytes.
	WordSize = 8
	// HeaderFields is the number of words in one header slot.
	HeaderFields = 5
)

const (
	fieldBegin = iota
	fieldEnd
	fieldSource
	fieldDestination
	fieldKey
)

var order = binary.LittleEndian

// Key identifies the handler that encoded a message.
type Key int64

// Header describes one message slot.
type Header struct {
	Begin       int `json:"begin"`
	End         int `json:"end"`
	Source      int `json:"source"`
	Destination int `json:"destination"`
	Key         Key `json:"key"`
}

// SizeWords returns the payload length in words.
func (h Header) SizeWords() int { return h.End - h.Begin }

// HeaderWords returns the number of words taken by the count and the header
// slots. It is also begin(0) of an initialized buffer.
func HeaderWords(maxMessages int) int { return 1 + HeaderFields*maxMessages }

// HeaderBytes returns HeaderWords in bytes.
func HeaderBytes(maxMessages int) int { return HeaderWords(maxMessages) * WordSize }

// WordsFor rounds a byte size up to whole words.
func WordsFor(sizeBytes int) int { return (sizeBytes + WordSize - 1) / WordSize }

// Buffer is a bounds-checked view over a flat word array.
type Buffer struct {
	data        []byte
	maxMessages int
	headerOnly  bool
}

// New allocates and initializes a buffer of capacityWords words.
func New(capacityWords, maxMessages int) (*Buffer, error) {
	if maxMessages < 1 {
		return nil, fmt.Errorf("%w: maxMessages %d", errspkg.ErrOutOfBounds, maxMessages)
	}
	if capacityWords < HeaderWords(maxMessages) {
		return nil, &errspkg.CapacityError{Need: HeaderWords(maxMessages), Have: capacityWords, Err: errspkg.ErrBufferFull}
	}
	b := &Buffer{data: make([]byte, capacityWords*WordSize), maxMessages: maxMessages}
	b.Init()
	return b, nil
}

// NewHeaderOnly allocates an initialized buffer holding only the count and the
// header slots. It is used as scratch space for a peer's headers.
func NewHeaderOnly(maxMessages int) (*Buffer, error) {
	b, err := New(HeaderWords(maxMessages), maxMessages)
	if err != nil {
		return nil, err
	}
	b.headerOnly = true
	return b, nil
}

// Wrap borrows data, typically the local memory of a window. The contents are
// left untouched; call Init before the first allocation.
func Wrap(data []byte, maxMessages int) (*Buffer, error) {
	if maxMessages < 1 {
		return nil, fmt.Errorf("%w: maxMessages %d", errspkg.ErrOutOfBounds, maxMessages)
	}
	if len(data)%WordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of words", errspkg.ErrOutOfBounds, len(data))
	}
	if len(data) < HeaderBytes(maxMessages) {
		return nil, &errspkg.CapacityError{Need: HeaderBytes(maxMessages), Have: len(data), Err: errspkg.ErrBufferFull}
	}
	return &Buffer{data: data, maxMessages: maxMessages}, nil
}

// Init zeroes the header section and sets begin(0).
func (b *Buffer) Init() {
	clear(b.data[:HeaderBytes(b.maxMessages)])
	b.Clear()
}

// Clear forgets every message. Payload bytes are not wiped.
func (b *Buffer) Clear() {
	b.put(0, 0)
	b.put(slotWord(0, fieldBegin), int64(b.HeaderWords()))
}

func (b *Buffer) MaxMessages() int { return b.maxMessages }
func (b *Buffer) HeaderOnly() bool { return b.headerOnly }

// HeaderWords returns the size of the count plus header slots in words.
func (b *Buffer) HeaderWords() int { return HeaderWords(b.maxMessages) }

// Capacity returns the buffer size in words.
func (b *Buffer) Capacity() int { return len(b.data) / WordSize }

// Bytes returns the backing storage.
func (b *Buffer) Bytes() []byte { return b.data }

// HeaderSection returns the bytes of the count and header slots.
func (b *Buffer) HeaderSection() []byte { return b.data[:HeaderBytes(b.maxMessages)] }

// NMessages returns the message count stored in word 0.
func (b *Buffer) NMessages() int { return int(b.get(0)) }

// SetCount overwrites the message count.
func (b *Buffer) SetCount(n int) error {
	if n < 0 || n >= b.maxMessages {
		return fmt.Errorf("%w: count %d with %d slots", errspkg.ErrMessageIndex, n, b.maxMessages)
	}
	b.put(0, int64(n))
	return nil
}

// Begin returns the first payload word of message id.
func (b *Buffer) Begin(id int) (int, error) { return b.field(id, fieldBegin) }

// End returns the word after the payload of message id.
func (b *Buffer) End(id int) (int, error) { return b.field(id, fieldEnd) }

func (b *Buffer) Source(id int) (int, error)      { return b.field(id, fieldSource) }
func (b *Buffer) Destination(id int) (int, error) { return b.field(id, fieldDestination) }

func (b *Buffer) HandlerKey(id int) (Key, error) {
	v, err := b.field(id, fieldKey)
	return Key(v), err
}

// SizeWords returns end-begin of message id.
func (b *Buffer) SizeWords(id int) (int, error) {
	h, err := b.Header(id)
	if err != nil {
		return 0, err
	}
	return h.SizeWords(), nil
}

// Header returns the whole slot of message id.
func (b *Buffer) Header(id int) (Header, error) {
	if err := b.checkSlot(id); err != nil {
		return Header{}, err
	}
	return Header{
		Begin:       int(b.get(slotWord(id, fieldBegin))),
		End:         int(b.get(slotWord(id, fieldEnd))),
		Source:      int(b.get(slotWord(id, fieldSource))),
		Destination: int(b.get(slotWord(id, fieldDestination))),
		Key:         Key(b.get(slotWord(id, fieldKey))),
	}, nil
}

// SetHeader overwrites slot id. Offsets are not checked here because a header
// table may describe payloads living in another rank's buffer; Payload checks
// them on access.
func (b *Buffer) SetHeader(id int, h Header) error {
	if err := b.checkSlot(id); err != nil {
		return err
	}
	b.put(slotWord(id, fieldBegin), int64(h.Begin))
	b.put(slotWord(id, fieldEnd), int64(h.End))
	b.put(slotWord(id, fieldSource), int64(h.Source))
	b.put(slotWord(id, fieldDestination), int64(h.Destination))
	b.put(slotWord(id, fieldKey), int64(h.Key))
	return nil
}

// NextBegin returns the first free payload word, begin(nMessages).
func (b *Buffer) NextBegin() (int, error) {
	return b.Begin(b.NMessages())
}

// CountFrom returns the number of allocated entries whose source is rank.
// After a broadcast pass the table also holds entries received from peers.
func (b *Buffer) CountFrom(rank int) int {
	n := 0
	for id := 0; id < b.NMessages(); id++ {
		if src, err := b.Source(id); err == nil && src == rank {
			n++
		}
	}
	return n
}

// Allocate reserves a header slot and ceil(sizeBytes/WordSize) payload words
// for a message from one rank to another. It returns the word-rounded payload
// slice and the message id. The caller must write the message into the slice
// before the buffer is exposed to peers.
func (b *Buffer) Allocate(sizeBytes, from, to int, key Key) ([]byte, int, error) {
	if b.headerOnly {
		return nil, 0, errspkg.ErrHeaderOnly
	}
	if sizeBytes < 0 {
		return nil, 0, fmt.Errorf("%w: negative size %d", errspkg.ErrOutOfBounds, sizeBytes)
	}
	id := b.NMessages()
	if id < 0 || id+1 >= b.maxMessages {
		return nil, 0, &errspkg.CapacityError{Need: id + 2, Have: b.maxMessages, Err: errspkg.ErrTooManyMessages}
	}
	begin := int(b.get(slotWord(id, fieldBegin)))
	end := begin + WordsFor(sizeBytes)
	if begin < b.HeaderWords() || end > b.Capacity() {
		return nil, 0, &errspkg.CapacityError{Need: end, Have: b.Capacity(), Err: errspkg.ErrBufferFull}
	}

	b.put(slotWord(id, fieldEnd), int64(end))
	b.put(slotWord(id, fieldSource), int64(from))
	b.put(slotWord(id, fieldDestination), int64(to))
	b.put(slotWord(id, fieldKey), int64(key))
	b.put(slotWord(id+1, fieldBegin), int64(end))
	b.put(0, int64(id+1))

	return b.data[begin*WordSize : end*WordSize : end*WordSize], id, nil
}

// Payload returns the payload words of message id.
func (b *Buffer) Payload(id int) ([]byte, error) {
	if b.headerOnly {
		return nil, errspkg.ErrHeaderOnly
	}
	if id < 0 || id >= b.NMessages() {
		return nil, fmt.Errorf("%w: %d of %d", errspkg.ErrMessageIndex, id, b.NMessages())
	}
	h, err := b.Header(id)
	if err != nil {
		return nil, err
	}
	return b.Range(h.Begin, h.End)
}

// Range returns the bytes of words [begin, end).
func (b *Buffer) Range(begin, end int) ([]byte, error) {
	if begin < b.HeaderWords() || end < begin || end > b.Capacity() {
		return nil, fmt.Errorf("%w: words [%d, %d) of %d", errspkg.ErrOutOfBounds, begin, end, b.Capacity())
	}
	return b.data[begin*WordSize : end*WordSize : end*WordSize], nil
}

// CheckLayout verifies begin(0) and the contiguity of all allocated messages.
func (b *Buffer) CheckLayout() error {
	n := b.NMessages()
	if n < 0 || n >= b.maxMessages {
		return fmt.Errorf("%w: count %d with %d slots", errspkg.ErrMessageIndex, n, b.maxMessages)
	}
	if begin := int(b.get(slotWord(0, fieldBegin))); begin != b.HeaderWords() {
		return fmt.Errorf("begin(0) = %d, want %d", begin, b.HeaderWords())
	}
	for id := 0; id < n; id++ {
		begin := int(b.get(slotWord(id, fieldBegin)))
		end := int(b.get(slotWord(id, fieldEnd)))
		next := int(b.get(slotWord(id+1, fieldBegin)))
		if end < begin {
			return fmt.Errorf("message %d: end %d before begin %d", id, end, begin)
		}
		if next != end {
			return fmt.Errorf("message %d: begin(%d) = %d, want end %d", id, id+1, next, end)
		}
		if !b.headerOnly && end > b.Capacity() {
			return fmt.Errorf("message %d: end %d past capacity %d", id, end, b.Capacity())
		}
	}
	return nil
}

func (b *Buffer) field(id, field int) (int, error) {
	if err := b.checkSlot(id); err != nil {
		return 0, err
	}
	return int(b.get(slotWord(id, field))), nil
}

func (b *Buffer) checkSlot(id int) error {
	if id < 0 || id >= b.maxMessages {
		return fmt.Errorf("%w: slot %d of %d", errspkg.ErrMessageIndex, id, b.maxMessages)
	}
	return nil
}

func slotWord(id, field int) int { return 1 + HeaderFields*id + field }

// get and put are only called with word indices inside the header section,
// which every constructor guarantees to exist.
func (b *Buffer) get(word int) int64 {
	return int64(order.Uint64(b.data[word*WordSize:]))
}

func (b *Buffer) put(word int, v int64) {
	order.PutUint64(b.data[word*WordSize:], uint64(v))
}
