package binio

import (
	"encoding/binary"
	"fmt"
)

// Writer appends fixed-width values to a growing buffer.
type Writer struct {
	buf   []byte
	order binary.ByteOrder
}

// NewWriter returns a Writer with capacity for sizeHint bytes.
func NewWriter(order binary.ByteOrder, sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint), order: order}
}

func (w *Writer) Order() binary.ByteOrder { return w.order }
func (w *Writer) Len() int                { return len(w.buf) }
func (w *Writer) Bytes() []byte           { return w.buf }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) U16(v uint16) {
	var b [2]byte
	w.order.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) U32(v uint32) {
	var b [4]byte
	w.order.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) U64(v uint64) {
	var b [8]byte
	w.order.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// UintN writes v in n bytes (0, 1, 2, 4 or 8). It fails when v does not fit.
func (w *Writer) UintN(n int, v uint64) error {
	switch n {
	case 0:
		if v != 0 {
			return fmt.Errorf("binio: value %d in zero-width field", v)
		}
	case 1:
		if v > 0xFF {
			return fmt.Errorf("binio: value %d overflows 1 byte", v)
		}
		w.U8(uint8(v))
	case 2:
		if v > 0xFFFF {
			return fmt.Errorf("binio: value %d overflows 2 bytes", v)
		}
		w.U16(uint16(v))
	case 4:
		if v > 0xFFFFFFFF {
			return fmt.Errorf("binio: value %d overflows 4 bytes", v)
		}
		w.U32(uint32(v))
	case 8:
		w.U64(v)
	default:
		return fmt.Errorf("binio: unsupported integer width %d", n)
	}
	return nil
}

func (w *Writer) Write(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) String(s string) { w.buf = append(w.buf, s...) }

// Zero appends n zero bytes.
func (w *Writer) Zero(n int) {
	for ; n > 0; n-- {
		w.buf = append(w.buf, 0)
	}
}

// PutU32At overwrites four bytes at off, which must already be written.
func (w *Writer) PutU32At(off int, v uint32) {
	w.order.PutUint32(w.buf[off:], v)
}

// PutU16At overwrites two bytes at off, which must already be written.
func (w *Writer) PutU16At(off int, v uint16) {
	w.order.PutUint16(w.buf[off:], v)
}
