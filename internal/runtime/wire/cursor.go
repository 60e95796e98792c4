package wire

import (
	"fmt"

	errspkg "github.com/drblury/onesided/internal/runtime/errors"
)

// Cursor is a read/write position over a byte slice. Every access is checked
// against the end of the slice; a failed access leaves the cursor where it was.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor returns a cursor positioned at the start of buf.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int { return c.off }

// Remaining returns the number of bytes left after the cursor.
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }

// Len returns the size of the underlying slice.
func (c *Cursor) Len() int { return len(c.buf) }

func (c *Cursor) next(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", errspkg.ErrShortBuffer, n, c.off, c.Remaining())
	}
	b := c.buf[c.off : c.off+n : c.off+n]
	c.off += n
	return b, nil
}

func (c *Cursor) reset(off int) { c.off = off }
