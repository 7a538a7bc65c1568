package image

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/binio"
)

// ─── ISO base media boxes ────────────────────────────────────────────────────
//
// HEIF, AVIF and the JPEG XL container share the same box framing: a 32-bit
// size and a fourcc, a 64-bit largesize when size is 1, and size 0 meaning
// "to the end of the enclosing range".

type box struct {
	typ      string
	off      int // first byte of the size field
	hdr      int // header length, 8 or 16
	end      int
	sizeZero bool
}

func (b box) payload(data []byte) []byte { return data[b.off+b.hdr : b.end] }

// walkBoxes reads consecutive boxes in data[start:end]. The boxes before a
// framing error are returned along with it.
func walkBoxes(data []byte, start, end int) ([]box, error) {
	var out []box
	c := binio.NewCursor(data[:end], binary.BigEndian)
	if err := c.Seek(start); err != nil {
		return nil, errors.Wrap(core.ErrMalformedContainer, err.Error())
	}
	for c.Remaining() > 0 {
		off := c.Pos()
		size, err := c.U32()
		if err != nil {
			return out, errors.Wrapf(core.ErrMalformedContainer, "box at %d: %v", off, err)
		}
		typ, err := c.Slice(4)
		if err != nil {
			return out, errors.Wrapf(core.ErrMalformedContainer, "box at %d: %v", off, err)
		}
		b := box{typ: string(typ), off: off, hdr: 8}
		switch size {
		case 0:
			b.end, b.sizeZero = end, true
		case 1:
			large, err := c.U64()
			if err != nil {
				return out, errors.Wrapf(core.ErrMalformedContainer, "box %q at %d: %v", b.typ, off, err)
			}
			b.hdr = 16
			if large < 16 || large > uint64(end-off) {
				return out, errors.Wrapf(core.ErrMalformedContainer, "box %q at %d declares %d bytes, %d remain", b.typ, off, large, end-off)
			}
			b.end = off + int(large)
		default:
			if size < 8 || uint64(size) > uint64(end-off) {
				return out, errors.Wrapf(core.ErrMalformedContainer, "box %q at %d declares %d bytes, %d remain", b.typ, off, size, end-off)
			}
			b.end = off + int(size)
		}
		out = append(out, b)
		if err := c.Seek(b.end); err != nil {
			return out, errors.Wrap(core.ErrMalformedContainer, err.Error())
		}
	}
	return out, nil
}

func findBox(boxes []box, typ string) (box, int) {
	for i, b := range boxes {
		if b.typ == typ {
			return b, i
		}
	}
	return box{}, -1
}

// boxBytes frames payload as a box, switching to a largesize header when needed.
func boxBytes(typ string, payload []byte) []byte {
	n := uint64(8 + len(payload))
	var out []byte
	if n > 0xFFFFFFFF {
		out = make([]byte, 0, n+8)
		out = binary.BigEndian.AppendUint32(out, 1)
		out = append(out, typ...)
		out = binary.BigEndian.AppendUint64(out, n+8)
	} else {
		out = make([]byte, 0, n)
		out = binary.BigEndian.AppendUint32(out, uint32(n))
		out = append(out, typ...)
	}
	return append(out, payload...)
}

// fullBoxBytes frames a FullBox: version and 24-bit flags ahead of payload.
func fullBoxBytes(typ string, version uint8, flags uint32, payload []byte) []byte {
	body := make([]byte, 0, 4+len(payload))
	body = append(body, version, byte(flags>>16), byte(flags>>8), byte(flags))
	return boxBytes(typ, append(body, payload...))
}

// boxReader reads a box payload and keeps the first error, so parsers can
// check once after a run of fields.
type boxReader struct {
	c   *binio.Cursor
	err error
}

func newBoxReader(payload []byte) *boxReader {
	return &boxReader{c: binio.NewCursor(payload, binary.BigEndian)}
}

func (r *boxReader) keep(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

func (r *boxReader) u8() uint8 {
	v, err := r.c.U8()
	r.keep(err)
	return v
}

func (r *boxReader) u16() uint16 {
	v, err := r.c.U16()
	r.keep(err)
	return v
}

func (r *boxReader) u32() uint32 {
	v, err := r.c.U32()
	r.keep(err)
	return v
}

func (r *boxReader) uintN(n int) uint64 {
	v, err := r.c.UintN(n)
	r.keep(err)
	return v
}

// id reads an item ID, 32 bits wide when wide is set.
func (r *boxReader) id(wide bool) uint32 {
	if wide {
		return r.u32()
	}
	return uint32(r.u16())
}

func (r *boxReader) fourcc() string {
	b, err := r.c.Slice(4)
	r.keep(err)
	return string(b)
}

// fullBox reads the version and 24-bit flags at the front of a FullBox.
func (r *boxReader) fullBox() (version uint8, flags uint32) {
	v := r.u32()
	return uint8(v >> 24), v & 0xFFFFFF
}

func (r *boxReader) cString() string {
	rest, _ := r.c.Peek(r.c.Remaining())
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		r.keep(errors.Wrapf(binio.ErrOutOfBounds, "unterminated string at %d", r.c.Pos()))
		return ""
	}
	r.c.Skip(i + 1)
	return string(rest[:i])
}

// putID writes an item ID in the width a box version selects.
func putID(w *binio.Writer, wide bool, id uint32) {
	if wide {
		w.U32(id)
	} else {
		w.U16(uint16(id))
	}
}
