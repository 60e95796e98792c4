package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/onesided/internal/runtime/buffer"
	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	"github.com/drblury/onesided/internal/runtime/wire"
)

type sample struct {
	I int32
	D float64
	V []int32
}

func (s *sample) message() *wire.Message {
	return wire.NewMessage(wire.Fixed(&s.I), wire.Fixed(&s.D), wire.Slice(&s.V))
}

func TestRegistryAssignsSequentialKeys(t *testing.T) {
	r := NewRegistry()
	var a, b, c sample

	ha, err := r.Register("a", a.message())
	require.NoError(t, err)
	hb, err := r.Register("b", b.message())
	require.NoError(t, err)
	hc := r.MustRegister("c", c.message())

	assert.Equal(t, buffer.Key(0), ha.Key())
	assert.Equal(t, buffer.Key(1), hb.Key())
	assert.Equal(t, buffer.Key(2), hc.Key())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []*Handler{ha, hb, hc}, r.Handlers())

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, hb, got)
	byName, ok := r.ByName("c")
	require.True(t, ok)
	assert.Same(t, hc, byName)
	_, ok = r.Lookup(9)
	assert.False(t, ok)
	assert.Equal(t, "b(key=1)", hb.String())
}

func TestRegistryValidation(t *testing.T) {
	var s sample
	var bad int

	tests := []struct {
		name    string
		handler string
		msg     *wire.Message
		wantErr error
	}{
		{"empty name", "", s.message(), errspkg.ErrHandlerNameRequired},
		{"nil message", "x", nil, errspkg.ErrMessageRequired},
		{"unsupported field", "x", wire.NewMessage(wire.Fixed(&bad)), errspkg.ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			_, err := r.Register(tt.handler, tt.msg)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, r.Len())
		})
	}

	t.Run("duplicate name", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Register("x", s.message())
		require.NoError(t, err)
		_, err = r.Register("x", s.message())
		assert.ErrorIs(t, err, errspkg.ErrDuplicateHandler)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("must register panics", func(t *testing.T) {
		assert.Panics(t, func() { NewRegistry().MustRegister("", s.message()) })
	})
}

func TestPostAndRead(t *testing.T) {
	r := NewRegistry()
	send := sample{I: 1, D: 11.0, V: []int32{12, 13, 14}}
	var recv sample
	hs := r.MustRegister("sample", send.message())

	buf, err := buffer.New(128, 8)
	require.NoError(t, err)

	id, err := hs.Post(buf, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	size, err := buf.SizeWords(id)
	require.NoError(t, err)
	assert.Equal(t, buffer.WordsFor(send.message().Size()), size)

	hr := &Handler{name: "receiver", key: hs.Key(), message: recv.message()}
	ok, err := hr.Read(buf, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, send, recv)
}

func TestReadKeyMismatchLeavesValues(t *testing.T) {
	r := NewRegistry()
	var first, second sample
	h0 := r.MustRegister("first", first.message())
	h1 := r.MustRegister("second", second.message())

	first = sample{I: 5, D: 2.5, V: []int32{1}}
	second = sample{I: 99, D: 99, V: []int32{99, 99}}

	buf, err := buffer.New(128, 8)
	require.NoError(t, err)
	id, err := h0.Post(buf, 0, 1)
	require.NoError(t, err)

	ok, err := h1.Read(buf, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, sample{I: 99, D: 99, V: []int32{99, 99}}, second)
}

func TestDispatch(t *testing.T) {
	r := NewRegistry()
	var a, b sample
	ha := r.MustRegister("a", a.message())
	r.MustRegister("b", b.message())

	buf, err := buffer.New(128, 8)
	require.NoError(t, err)

	a = sample{I: 3, D: 4, V: []int32{5}}
	id, err := ha.Post(buf, 2, 0)
	require.NoError(t, err)

	a = sample{}
	h, err := r.Dispatch(buf, id)
	require.NoError(t, err)
	assert.Same(t, ha, h)
	assert.Equal(t, sample{I: 3, D: 4, V: []int32{5}}, a)
	assert.Equal(t, sample{}, b)

	t.Run("unknown key", func(t *testing.T) {
		foreign, err := buffer.New(64, 4)
		require.NoError(t, err)
		_, _, err = foreign.Allocate(0, 1, 0, 42)
		require.NoError(t, err)

		_, err = r.Dispatch(foreign, 0)
		assert.ErrorIs(t, err, errspkg.ErrUnknownHandler)
	})

	t.Run("index out of range", func(t *testing.T) {
		_, err := r.Dispatch(buf, 99)
		assert.ErrorIs(t, err, errspkg.ErrMessageIndex)
	})
}

func TestPostCapacity(t *testing.T) {
	r := NewRegistry()
	s := sample{V: make([]int32, 64)}
	h := r.MustRegister("big", s.message())

	buf, err := buffer.New(buffer.HeaderWords(4)+4, 4)
	require.NoError(t, err)
	_, err = h.Post(buf, 0, 1)
	assert.ErrorIs(t, err, errspkg.ErrBufferFull)
}
