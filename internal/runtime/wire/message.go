package wire

import (
	"errors"
	"fmt"
	"strings"
)

// Message is an ordered list of fields. Fields are written and read in the
// order they were added and packed back to back.
type Message struct {
	fields []Field
}

// NewMessage returns a message made of the given fields.
func NewMessage(fields ...Field) *Message {
	return (&Message{}).Add(fields...)
}

// Add appends fields and returns the message for chaining.
func (m *Message) Add(fields ...Field) *Message {
	m.fields = append(m.fields, fields...)
	return m
}

func (m *Message) Len() int { return len(m.fields) }

// Fields returns the fields in wire order.
func (m *Message) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Size returns the encoded size of all fields in bytes.
func (m *Message) Size() int {
	total := 0
	for _, f := range m.fields {
		total += f.Size()
	}
	return total
}

// Err joins the errors of fields bound to unsupported types.
func (m *Message) Err() error {
	var errs []error
	for i, f := range m.fields {
		if err := f.Err(); err != nil {
			errs = append(errs, fmt.Errorf("field %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Write encodes every field at the cursor. On failure the cursor is restored.
func (m *Message) Write(c *Cursor) error {
	mark := c.Offset()
	for i, f := range m.fields {
		if err := f.Write(c); err != nil {
			c.reset(mark)
			return fmt.Errorf("write field %d: %w", i, err)
		}
	}
	return nil
}

// Read decodes every field from the cursor. Fields decoded before a failure
// keep their new values; the cursor is restored.
func (m *Message) Read(c *Cursor) error {
	mark := c.Offset()
	for i, f := range m.fields {
		if err := f.Read(c); err != nil {
			c.reset(mark)
			return fmt.Errorf("read field %d: %w", i, err)
		}
	}
	return nil
}

func (m *Message) String() string {
	var b strings.Builder
	for i, f := range m.fields {
		fmt.Fprintf(&b, "\n%d %s", i, f)
	}
	return b.String()
}

// Marshal encodes m into a new byte slice.
func Marshal(m *Message) ([]byte, error) {
	buf := make([]byte, m.Size())
	if err := m.Write(NewCursor(buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Unmarshal decodes data into the variables bound to m.
func Unmarshal(data []byte, m *Message) error {
	return m.Read(NewCursor(data))
}
