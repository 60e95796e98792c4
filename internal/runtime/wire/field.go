package wire

import (
	"encoding/binary"
	"fmt"
	"strings"

	errspkg "github.com/drblury/onesided/internal/runtime/errors"
)

// CountSize is the width of the element count written in front of variable
// fields.
const CountSize = 8

var order = binary.LittleEndian

// Shape tells how a field is laid out on the wire.
type Shape int

const (
	// ShapeFixed fields are copied as a fixed number of bytes.
	ShapeFixed Shape = iota
	// ShapeVariable fields carry an element count followed by the elements.
	ShapeVariable
)

func (s Shape) String() string {
	switch s {
	case ShapeFixed:
		return "fixed"
	case ShapeVariable:
		return "variable"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Field serializes a variable owned by the caller. The field keeps a pointer
// to the variable; it never copies or owns the value.
type Field interface {
	Shape() Shape
	// Size returns the encoded size of the current value in bytes.
	Size() int
	Write(c *Cursor) error
	Read(c *Cursor) error
	String() string
	// Err reports a field that was bound to an unsupported type.
	Err() error
}

type fixedField[T any] struct {
	v    *T
	size int
	err  error
}

// Fixed binds a fixed-size value: numbers, bools, arrays and structs made of
// those. Any other type yields a field whose Err reports ErrUnsupportedType.
func Fixed[T any](v *T) Field {
	f := &fixedField[T]{v: v}
	if v == nil {
		f.err = fmt.Errorf("%w: nil %T", errspkg.ErrUnsupportedType, v)
		return f
	}
	f.size = binary.Size(v)
	if f.size < 0 {
		f.size = 0
		f.err = fmt.Errorf("%w: %T", errspkg.ErrUnsupportedType, *v)
	}
	return f
}

func (f *fixedField[T]) Shape() Shape { return ShapeFixed }
func (f *fixedField[T]) Size() int    { return f.size }
func (f *fixedField[T]) Err() error   { return f.err }

func (f *fixedField[T]) Write(c *Cursor) error {
	if f.err != nil {
		return f.err
	}
	b, err := c.next(f.size)
	if err != nil {
		return err
	}
	_, err = binary.Encode(b, order, f.v)
	return err
}

func (f *fixedField[T]) Read(c *Cursor) error {
	if f.err != nil {
		return f.err
	}
	mark := c.Offset()
	b, err := c.next(f.size)
	if err != nil {
		return err
	}
	if _, err := binary.Decode(b, order, f.v); err != nil {
		c.reset(mark)
		return err
	}
	return nil
}

func (f *fixedField[T]) String() string {
	if f.v == nil {
		return "[<nil>]"
	}
	return fmt.Sprintf("[%v]", *f.v)
}

type sliceField[E any] struct {
	v    *[]E
	elem int
	err  error
}

// Slice binds a slice of fixed-size elements. The bound slice is replaced by a
// slice of the received length on Read.
func Slice[E any](v *[]E) Field {
	f := &sliceField[E]{v: v}
	var zero E
	f.elem = binary.Size(zero)
	switch {
	case v == nil:
		f.err = fmt.Errorf("%w: nil %T", errspkg.ErrUnsupportedType, v)
	case f.elem <= 0:
		f.err = fmt.Errorf("%w: element %T", errspkg.ErrUnsupportedType, zero)
	}
	return f
}

func (f *sliceField[E]) Shape() Shape { return ShapeVariable }
func (f *sliceField[E]) Err() error   { return f.err }

func (f *sliceField[E]) Size() int {
	if f.err != nil {
		return 0
	}
	return CountSize + len(*f.v)*f.elem
}

func (f *sliceField[E]) Write(c *Cursor) error {
	if f.err != nil {
		return f.err
	}
	mark := c.Offset()
	if err := writeCount(c, len(*f.v)); err != nil {
		return err
	}
	body, err := c.next(len(*f.v) * f.elem)
	if err != nil {
		c.reset(mark)
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := binary.Encode(body, order, *f.v); err != nil {
		c.reset(mark)
		return err
	}
	return nil
}

func (f *sliceField[E]) Read(c *Cursor) error {
	if f.err != nil {
		return f.err
	}
	mark := c.Offset()
	n, err := readCount(c, f.elem)
	if err != nil {
		return err
	}
	body, err := c.next(n * f.elem)
	if err != nil {
		c.reset(mark)
		return err
	}
	s := make([]E, n)
	if n > 0 {
		if _, err := binary.Decode(body, order, s); err != nil {
			c.reset(mark)
			return err
		}
	}
	*f.v = s
	return nil
}

func (f *sliceField[E]) String() string {
	if f.v == nil {
		return "(0)[ ]"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "(%d)[ ", len(*f.v))
	for _, e := range *f.v {
		fmt.Fprintf(&b, "%v ", e)
	}
	b.WriteString("]")
	return b.String()
}

type stringField struct {
	v   *string
	err error
}

// String binds a string, encoded as a byte count followed by the bytes.
func String(v *string) Field {
	f := &stringField{v: v}
	if v == nil {
		f.err = fmt.Errorf("%w: nil *string", errspkg.ErrUnsupportedType)
	}
	return f
}

func (f *stringField) Shape() Shape { return ShapeVariable }
func (f *stringField) Err() error   { return f.err }

func (f *stringField) Size() int {
	if f.err != nil {
		return 0
	}
	return CountSize + len(*f.v)
}

func (f *stringField) Write(c *Cursor) error {
	if f.err != nil {
		return f.err
	}
	mark := c.Offset()
	if err := writeCount(c, len(*f.v)); err != nil {
		return err
	}
	body, err := c.next(len(*f.v))
	if err != nil {
		c.reset(mark)
		return err
	}
	copy(body, *f.v)
	return nil
}

func (f *stringField) Read(c *Cursor) error {
	if f.err != nil {
		return f.err
	}
	mark := c.Offset()
	n, err := readCount(c, 1)
	if err != nil {
		return err
	}
	body, err := c.next(n)
	if err != nil {
		c.reset(mark)
		return err
	}
	*f.v = string(body)
	return nil
}

func (f *stringField) String() string {
	if f.v == nil {
		return "(0)[ ]"
	}
	return fmt.Sprintf("(%d)[ %s ]", len(*f.v), *f.v)
}

func writeCount(c *Cursor, n int) error {
	b, err := c.next(CountSize)
	if err != nil {
		return err
	}
	order.PutUint64(b, uint64(n))
	return nil
}

// readCount decodes an element count and rejects counts that cannot fit into
// the bytes left after the cursor.
func readCount(c *Cursor, elem int) (int, error) {
	mark := c.Offset()
	b, err := c.next(CountSize)
	if err != nil {
		return 0, err
	}
	n := order.Uint64(b)
	if n > uint64(c.Remaining()/elem) {
		c.reset(mark)
		return 0, fmt.Errorf("%w: count %d exceeds remaining %d bytes", errspkg.ErrShortBuffer, n, c.Remaining())
	}
	return int(n), nil
}
