package exif

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/binio"
)

// maxIFDs bounds how many directories one stream may contain.
const maxIFDs = 8

// Decode parses an EXIF TIFF stream as embedded in JPEG, PNG, WebP, HEIF and JXL.
//
// A nil block means the stream is unusable. A non-nil block returned with a
// non-nil error (a *multierror.Error) is partial: the listed IFDs or tags were
// dropped and everything else decoded.
func Decode(raw []byte) (*Block, error) {
	return decode(raw, false)
}

// DecodeFile parses a whole TIFF file. JPEGInterchangeFormat tags in IFD1 stay
// ordinary values because the data they point at is never moved.
func DecodeFile(raw []byte) (*Block, error) {
	return decode(raw, true)
}

// ReadHeader returns the byte order and first IFD offset of a TIFF stream.
func ReadHeader(raw []byte) (binary.ByteOrder, uint32, error) {
	if len(raw) < 8 {
		return nil, 0, fmt.Errorf("%w: tiff header needs 8 bytes, have %d", core.ErrMalformedMetadata, len(raw))
	}
	var order binary.ByteOrder
	switch string(raw[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, 0, fmt.Errorf("%w: bad byte order mark %q", core.ErrMalformedMetadata, raw[:2])
	}
	if order.Uint16(raw[2:]) != 42 {
		return nil, 0, fmt.Errorf("%w: bad tiff magic %#x", core.ErrMalformedMetadata, order.Uint16(raw[2:]))
	}
	return order, order.Uint32(raw[4:]), nil
}

type rawEntry struct {
	tag   uint16
	typ   Type
	count uint32
	field []byte // the 4-byte value/offset field
}

type decoder struct {
	raw      []byte
	cur      *binio.Cursor
	block    *Block
	visited  map[uint32]bool
	pointers map[IFD]uint32
	thumbOff uint32
	thumbLen uint32
	errs     *multierror.Error
}

func decode(raw []byte, fileMode bool) (*Block, error) {
	order, first, err := ReadHeader(raw)
	if err != nil {
		return nil, err
	}
	d := &decoder{
		raw:      raw,
		cur:      binio.NewCursor(raw, order),
		block:    NewBlock(order),
		visited:  make(map[uint32]bool),
		pointers: make(map[IFD]uint32),
	}
	d.block.fileMode = fileMode
	if fileMode {
		d.block.srcLen = len(raw)
	}

	next, err := d.readIFD(IFDPrimary, first)
	if err != nil {
		return nil, fmt.Errorf("%w: primary IFD: %w", core.ErrMalformedMetadata, err)
	}
	if next != 0 {
		tail, err := d.readIFD(IFDThumbnail, next)
		if err != nil {
			d.fail(IFDThumbnail, err)
		} else if fileMode {
			d.block.tail = tail
		}
	}
	for _, sub := range []IFD{IFDExif, IFDGPS, IFDInterop} {
		off, ok := d.pointers[sub]
		if !ok {
			continue
		}
		if _, err := d.readIFD(sub, off); err != nil {
			d.fail(sub, err)
		}
	}
	if !fileMode && d.thumbLen > 0 {
		end := uint64(d.thumbOff) + uint64(d.thumbLen)
		if end > uint64(len(raw)) {
			d.fail(IFDThumbnail, fmt.Errorf("thumbnail at %d+%d outside %d-byte stream", d.thumbOff, d.thumbLen, len(raw)))
		} else {
			d.block.thumbnail = append([]byte(nil), raw[d.thumbOff:end]...)
		}
	}

	d.block.rev = 0
	d.block.partial = d.errs != nil
	return d.block, d.errs.ErrorOrNil()
}

func (d *decoder) fail(ifd IFD, err error) {
	d.errs = multierror.Append(d.errs, fmt.Errorf("%w: %s IFD: %w", core.ErrMalformedMetadata, ifd, err))
}

// readIFD decodes one directory and returns its next-IFD offset. The
// directory is committed only when its entry table is readable.
func (d *decoder) readIFD(ifd IFD, off uint32) (uint32, error) {
	if len(d.visited) >= maxIFDs {
		return 0, fmt.Errorf("more than %d IFDs", maxIFDs)
	}
	if d.visited[off] {
		return 0, fmt.Errorf("IFD offset %d already visited", off)
	}
	d.visited[off] = true

	c := d.cur
	if err := c.Seek(int(off)); err != nil {
		return 0, err
	}
	n, err := c.U16()
	if err != nil {
		return 0, err
	}
	entries := make([]rawEntry, 0, n)
	for i := 0; i < int(n); i++ {
		tag, err := c.U16()
		if err != nil {
			return 0, err
		}
		typ, err := c.U16()
		if err != nil {
			return 0, err
		}
		count, err := c.U32()
		if err != nil {
			return 0, err
		}
		field, err := c.Slice(4)
		if err != nil {
			return 0, err
		}
		entries = append(entries, rawEntry{tag: tag, typ: Type(typ), count: count, field: field})
	}
	// A missing next pointer ends the chain.
	next, err := c.U32()
	if err != nil {
		next = 0
	}
	if d.block.fileMode {
		d.block.srcMeta = append(d.block.srcMeta, Range{Off: uint64(off), Len: uint64(c.Pos()) - uint64(off)})
		d.block.srcMeta = append(d.block.srcMeta, valueRanges(entries, d.cur.Order(), len(d.raw))...)
	}

	seen := make(map[uint16]bool, len(entries))
	for _, e := range entries {
		k := Key{ifd, e.tag}
		if seen[e.tag] {
			d.errs = multierror.Append(d.errs, fmt.Errorf("%w: %s: duplicate tag, first kept", core.ErrMalformedMetadata, k))
			continue
		}
		seen[e.tag] = true
		if d.structure(ifd, e) {
			continue
		}
		v, err := d.value(e)
		if err != nil {
			d.errs = multierror.Append(d.errs, fmt.Errorf("%w: %s: %w", core.ErrMalformedMetadata, k, err))
			continue
		}
		if _, ok := d.block.vals[k]; !ok {
			d.block.keys = append(d.block.keys, k)
		}
		d.block.vals[k] = v
	}
	return next, nil
}

// structure records pointer and thumbnail entries instead of storing them.
func (d *decoder) structure(ifd IFD, e rawEntry) bool {
	order := d.cur.Order()
	target, isPtr := IFD(0), false
	switch {
	case ifd == IFDPrimary && e.tag == tagExifIFD:
		target, isPtr = IFDExif, true
	case ifd == IFDPrimary && e.tag == tagGPSIFD:
		target, isPtr = IFDGPS, true
	case ifd == IFDExif && e.tag == tagInteropIFD:
		target, isPtr = IFDInterop, true
	case ifd == IFDThumbnail && !d.block.fileMode && e.tag == tagThumbOffset:
		d.thumbOff = order.Uint32(e.field)
		return true
	case ifd == IFDThumbnail && !d.block.fileMode && e.tag == tagThumbLength:
		if e.typ == TypeShort {
			d.thumbLen = uint32(order.Uint16(e.field))
		} else {
			d.thumbLen = order.Uint32(e.field)
		}
		return true
	}
	if !isPtr {
		return false
	}
	if e.count != 1 {
		d.errs = multierror.Append(d.errs, fmt.Errorf("%w: %s pointer has count %d", core.ErrMalformedMetadata, target, e.count))
		return true
	}
	d.pointers[target] = order.Uint32(e.field)
	return true
}

func (d *decoder) value(e rawEntry) (Value, error) {
	size := e.typ.Size()
	if size == 0 {
		// Unknown type code: the field cannot be sized, so it is kept as
		// written. If it was an offset it still points into the source
		// stream, which a re-encode does not carry along.
		return Opaque{Typ: e.typ, N: e.count, Raw: append([]byte(nil), e.field...)}, nil
	}
	total := uint64(e.count) * uint64(size)
	var data []byte
	if total <= 4 {
		data = e.field[:total]
	} else {
		off := uint64(d.cur.Order().Uint32(e.field))
		if off+total > uint64(len(d.raw)) {
			return nil, fmt.Errorf("%s[%d] value at %d+%d outside %d-byte stream", e.typ, e.count, off, total, len(d.raw))
		}
		data = d.raw[off : off+total]
	}
	return decodeValue(e.typ, e.count, data, d.cur.Order()), nil
}

func decodeValue(typ Type, count uint32, data []byte, order binary.ByteOrder) Value {
	switch typ {
	case TypeByte:
		return Bytes(append([]byte(nil), data...))
	case TypeASCII:
		if count == 0 {
			// ASCII always re-encodes with a terminator; keep the empty field as written.
			return Opaque{Typ: typ, N: 0}
		}
		if n := len(data); n > 0 && data[n-1] == 0 {
			data = data[:n-1]
		}
		return ASCII(data)
	case TypeUndefined:
		return Undefined(append([]byte(nil), data...))
	case TypeShort:
		out := make(Shorts, count)
		for i := range out {
			out[i] = order.Uint16(data[2*i:])
		}
		return out
	case TypeLong:
		out := make(Longs, count)
		for i := range out {
			out[i] = order.Uint32(data[4*i:])
		}
		return out
	case TypeSLong:
		out := make(SLongs, count)
		for i := range out {
			out[i] = int32(order.Uint32(data[4*i:]))
		}
		return out
	case TypeRational:
		out := make(Rationals, count)
		for i := range out {
			out[i] = Rational{order.Uint32(data[8*i:]), order.Uint32(data[8*i+4:])}
		}
		return out
	case TypeSRational:
		out := make(SRationals, count)
		for i := range out {
			out[i] = SRational{int32(order.Uint32(data[8*i:])), int32(order.Uint32(data[8*i+4:]))}
		}
		return out
	}
	return Opaque{Typ: typ, N: count, Raw: append([]byte(nil), data...)}
}

// Range is a byte span of image data referenced from a TIFF file.
type Range struct {
	Off, Len uint64
}

// DataRanges returns the strip and tile spans of the primary and IFD1
// directories of a TIFF file.
func (b *Block) DataRanges() []Range {
	var out []Range
	for _, ifd := range []IFD{IFDPrimary, IFDThumbnail} {
		for _, pair := range [][2]uint16{{tagStripOffsets, tagStripByteCount}, {tagTileOffsets, tagTileByteCount}} {
			offs, ok1 := b.vals[Key{ifd, pair[0]}]
			lens, ok2 := b.vals[Key{ifd, pair[1]}]
			if !ok1 || !ok2 {
				continue
			}
			o, l := uints(offs), uints(lens)
			for i := 0; i < len(o) && i < len(l); i++ {
				out = append(out, Range{Off: uint64(o[i]), Len: uint64(l[i])})
			}
		}
	}
	return out
}

func uints(v Value) []uint32 {
	switch x := v.(type) {
	case Longs:
		return x
	case Shorts:
		out := make([]uint32, len(x))
		for i, s := range x {
			out[i] = uint32(s)
		}
		return out
	}
	return nil
}
