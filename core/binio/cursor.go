// Package binio provides bounds-checked, endian-aware reading and writing of
// binary structures. Every parser in metastrip reads through a Cursor so that
// a malformed length or offset surfaces as ErrOutOfBounds instead of a panic.
package binio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned when a read or seek would leave the buffer.
var ErrOutOfBounds = errors.New("read out of bounds")

// Cursor reads fixed-width values from a byte slice.
type Cursor struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
}

// NewCursor returns a Cursor positioned at the start of buf.
func NewCursor(buf []byte, order binary.ByteOrder) *Cursor {
	return &Cursor{buf: buf, order: order}
}

func (c *Cursor) Order() binary.ByteOrder         { return c.order }
func (c *Cursor) SetOrder(order binary.ByteOrder) { c.order = order }
func (c *Cursor) Pos() int                        { return c.pos }
func (c *Cursor) Len() int                        { return len(c.buf) }
func (c *Cursor) Remaining() int                  { return len(c.buf) - c.pos }

func (c *Cursor) oob(n int) error {
	return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrOutOfBounds, n, c.pos, len(c.buf)-c.pos)
}

// Seek moves to an absolute offset. Seeking to Len() is allowed.
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > len(c.buf) {
		return fmt.Errorf("%w: seek to %d in %d bytes", ErrOutOfBounds, off, len(c.buf))
	}
	c.pos = off
	return nil
}

// Skip advances n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || n > c.Remaining() {
		return c.oob(n)
	}
	c.pos += n
	return nil
}

// Slice returns the next n bytes without copying and advances past them.
func (c *Cursor) Slice(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, c.oob(n)
	}
	b := c.buf[c.pos : c.pos+n : c.pos+n]
	c.pos += n
	return b, nil
}

// Peek returns the next n bytes without advancing.
func (c *Cursor) Peek(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, c.oob(n)
	}
	return c.buf[c.pos : c.pos+n : c.pos+n], nil
}

func (c *Cursor) U8() (uint8, error) {
	if c.Remaining() < 1 {
		return 0, c.oob(1)
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *Cursor) U16() (uint16, error) {
	if c.Remaining() < 2 {
		return 0, c.oob(2)
	}
	v := c.order.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *Cursor) U32() (uint32, error) {
	if c.Remaining() < 4 {
		return 0, c.oob(4)
	}
	v := c.order.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *Cursor) U64() (uint64, error) {
	if c.Remaining() < 8 {
		return 0, c.oob(8)
	}
	v := c.order.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *Cursor) I32() (int32, error) {
	v, err := c.U32()
	return int32(v), err
}

// UintN reads an unsigned big or little endian integer of 0, 1, 2, 4 or 8 bytes.
// Zero-width fields read as 0, which is how ISOBMFF encodes absent iloc fields.
func (c *Cursor) UintN(n int) (uint64, error) {
	switch n {
	case 0:
		return 0, nil
	case 1:
		v, err := c.U8()
		return uint64(v), err
	case 2:
		v, err := c.U16()
		return uint64(v), err
	case 4:
		v, err := c.U32()
		return uint64(v), err
	case 8:
		return c.U64()
	}
	return 0, fmt.Errorf("binio: unsupported integer width %d", n)
}

// Rational reads an unsigned numerator/denominator pair.
func (c *Cursor) Rational() (num, den uint32, err error) {
	if c.Remaining() < 8 {
		return 0, 0, c.oob(8)
	}
	num, _ = c.U32()
	den, _ = c.U32()
	return num, den, nil
}

// SRational reads a signed numerator/denominator pair.
func (c *Cursor) SRational() (num, den int32, err error) {
	n, d, err := c.Rational()
	return int32(n), int32(d), err
}
