package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/onesided/internal/runtime/errors"
)

type point struct {
	X, Y int32
	W    float64
	On   bool
}

func TestFixedRoundTrip(t *testing.T) {
	t.Run("scalars", func(t *testing.T) {
		i, d := int32(-7), 11.5
		buf := make([]byte, 12)
		c := NewCursor(buf)

		require.NoError(t, Fixed(&i).Write(c))
		require.NoError(t, Fixed(&d).Write(c))
		assert.Equal(t, 12, c.Offset())

		var gi int32
		var gd float64
		r := NewCursor(buf)
		require.NoError(t, Fixed(&gi).Read(r))
		require.NoError(t, Fixed(&gd).Read(r))
		assert.Equal(t, i, gi)
		assert.Equal(t, d, gd)
		assert.Equal(t, 12, r.Offset())
	})

	t.Run("struct and array", func(t *testing.T) {
		p := point{X: 1, Y: -2, W: 3.25, On: true}
		arr := [3]uint16{4, 5, 6}
		m := NewMessage(Fixed(&p), Fixed(&arr))

		data, err := Marshal(m)
		require.NoError(t, err)
		assert.Len(t, data, m.Size())
		assert.Equal(t, 4+4+8+1+6, m.Size())

		var gp point
		var garr [3]uint16
		require.NoError(t, Unmarshal(data, NewMessage(Fixed(&gp), Fixed(&garr))))
		assert.Equal(t, p, gp)
		assert.Equal(t, arr, garr)
	})
}

func TestVariableRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    []float64
	}{
		{"empty", []float64{}},
		{"nil", nil},
		{"three", []float64{12, 13, 14}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.v
			f := Slice(&v)
			buf := make([]byte, f.Size())
			c := NewCursor(buf)
			require.NoError(t, f.Write(c))
			assert.Equal(t, CountSize+8*len(tt.v), c.Offset())

			got := []float64{99}
			r := NewCursor(buf)
			require.NoError(t, Slice(&got).Read(r))
			assert.Equal(t, c.Offset(), r.Offset())
			assert.Len(t, got, len(tt.v))
			for i := range tt.v {
				assert.Equal(t, tt.v[i], got[i])
			}
		})
	}

	t.Run("string", func(t *testing.T) {
		s := "hello window"
		data, err := Marshal(NewMessage(String(&s)))
		require.NoError(t, err)
		assert.Len(t, data, CountSize+len(s))

		var got string
		require.NoError(t, Unmarshal(data, NewMessage(String(&got))))
		assert.Equal(t, s, got)
	})

	t.Run("slice of structs", func(t *testing.T) {
		ps := []point{{X: 1}, {Y: 2, On: true}}
		data, err := Marshal(NewMessage(Slice(&ps)))
		require.NoError(t, err)

		var got []point
		require.NoError(t, Unmarshal(data, NewMessage(Slice(&got))))
		assert.Equal(t, ps, got)
	})
}

func TestMessageOrder(t *testing.T) {
	i := int32(1)
	d := 11.0
	v := []int32{12, 13, 14}
	m := NewMessage(Fixed(&i), Fixed(&d)).Add(Slice(&v))

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 4+8+CountSize+12, m.Size())

	data, err := Marshal(m)
	require.NoError(t, err)

	var gi int32
	var gd float64
	var gv []int32
	require.NoError(t, Unmarshal(data, NewMessage(Fixed(&gi), Fixed(&gd), Slice(&gv))))
	assert.Equal(t, int32(1), gi)
	assert.Equal(t, 11.0, gd)
	assert.Equal(t, []int32{12, 13, 14}, gv)

	assert.Equal(t, "\n0 [1]\n1 [11]\n2 (3)[ 12 13 14 ]", m.String())
}

func TestShortBuffer(t *testing.T) {
	t.Run("fixed write leaves cursor", func(t *testing.T) {
		x := int64(5)
		c := NewCursor(make([]byte, 4))
		err := Fixed(&x).Write(c)
		assert.ErrorIs(t, err, errspkg.ErrShortBuffer)
		assert.Equal(t, 0, c.Offset())
	})

	t.Run("message write restores cursor", func(t *testing.T) {
		a := int32(1)
		v := []int32{1, 2, 3}
		c := NewCursor(make([]byte, 10))
		err := NewMessage(Fixed(&a), Slice(&v)).Write(c)
		assert.ErrorIs(t, err, errspkg.ErrShortBuffer)
		assert.Equal(t, 0, c.Offset())
	})

	t.Run("oversized count is rejected", func(t *testing.T) {
		v := []int32{1, 2, 3}
		data, err := Marshal(NewMessage(Slice(&v)))
		require.NoError(t, err)

		var got []int32
		err = Slice(&got).Read(NewCursor(data[:CountSize+4]))
		assert.ErrorIs(t, err, errspkg.ErrShortBuffer)
		assert.Nil(t, got)
	})
}

func TestUnsupportedTypes(t *testing.T) {
	var n int
	var m map[string]int32
	var ss []string
	var nested [][]int32
	var nilPtr *int32

	tests := []struct {
		name  string
		field Field
	}{
		{"platform int", Fixed(&n)},
		{"map", Fixed(&m)},
		{"slice of strings", Slice(&ss)},
		{"nested slices", Slice(&nested)},
		{"nil pointer", Fixed(nilPtr)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.field.Err(), errspkg.ErrUnsupportedType)
			assert.Equal(t, 0, tt.field.Size())
			assert.ErrorIs(t, tt.field.Write(NewCursor(make([]byte, 64))), errspkg.ErrUnsupportedType)
		})
	}

	t.Run("message joins field errors", func(t *testing.T) {
		ok := int32(1)
		msg := NewMessage(Fixed(&ok), Fixed(&n))
		err := msg.Err()
		require.Error(t, err)
		assert.ErrorIs(t, err, errspkg.ErrUnsupportedType)
		assert.Contains(t, err.Error(), "field 1")
	})
}

func TestShape(t *testing.T) {
	x := int32(0)
	v := []byte{}
	s := ""
	assert.Equal(t, ShapeFixed, Fixed(&x).Shape())
	assert.Equal(t, ShapeVariable, Slice(&v).Shape())
	assert.Equal(t, ShapeVariable, String(&s).Shape())
	assert.Equal(t, "fixed", ShapeFixed.String())
	assert.Equal(t, "variable", ShapeVariable.String())
}
