package exif

import (
	"encoding/binary"
	"fmt"

	"github.com/ankit-chaubey/metastrip/core"
)

// IFD identifies which directory a tag lives in.
type IFD uint8

const (
	IFDPrimary IFD = iota
	IFDExif
	IFDGPS
	IFDInterop
	IFDThumbnail
)

// ifdOrder is the order directories are written in.
var ifdOrder = []IFD{IFDPrimary, IFDExif, IFDInterop, IFDGPS, IFDThumbnail}

// String returns the group name used in tag keys (Exif.Image.Make).
func (i IFD) String() string {
	switch i {
	case IFDPrimary:
		return "Image"
	case IFDExif:
		return "Photo"
	case IFDGPS:
		return "GPSInfo"
	case IFDInterop:
		return "Iop"
	case IFDThumbnail:
		return "Thumbnail"
	}
	return fmt.Sprintf("IFD(%d)", uint8(i))
}

// Pointer and thumbnail tags that the encoder owns.
const (
	tagExifIFD        uint16 = 0x8769
	tagGPSIFD         uint16 = 0x8825
	tagInteropIFD     uint16 = 0xA005
	tagThumbOffset    uint16 = 0x0201
	tagThumbLength    uint16 = 0x0202
	tagXMLPacket      uint16 = 0x02BC
	tagIPTCNAA        uint16 = 0x83BB
	tagStripOffsets   uint16 = 0x0111
	tagStripByteCount uint16 = 0x0117
	tagTileOffsets    uint16 = 0x0144
	tagTileByteCount  uint16 = 0x0145
)

// Exported tag ids that containers need to reach directly.
const (
	TagXMLPacket = tagXMLPacket
	TagIPTCNAA   = tagIPTCNAA
)

// Key addresses one tag.
type Key struct {
	IFD IFD
	Tag uint16
}

// Block is the decoded content of one TIFF/EXIF stream.
type Block struct {
	// Order is the byte order used when the block is encoded.
	Order binary.ByteOrder

	thumbnail []byte
	keys      []Key
	vals      map[Key]Value
	fileMode  bool
	partial   bool
	rev       uint64

	// tail is the IFD that followed IFD1 in a TIFF file. Later pages are
	// not decoded but stay linked.
	tail uint32

	// srcLen and srcMeta describe the file a DecodeFile block was read
	// from: its size, and the directory tables and out-of-line values the
	// decoder walked.
	srcLen  int
	srcMeta []Range
}

// NewBlock returns an empty block.
func NewBlock(order binary.ByteOrder) *Block {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Block{Order: order, vals: make(map[Key]Value)}
}

// Rev changes every time the block is modified.
func (b *Block) Rev() uint64 { return b.rev }

// Partial reports whether some IFDs or tags were dropped while decoding.
func (b *Block) Partial() bool { return b.partial }

// Len returns the number of stored tags.
func (b *Block) Len() int { return len(b.keys) }

// Get returns the value stored under k.
func (b *Block) Get(k Key) (Value, bool) {
	v, ok := b.vals[k]
	return v, ok
}

// Raw returns the value under k as it is encoded in the block's byte order.
func (b *Block) Raw(k Key) ([]byte, bool) {
	v, ok := b.vals[k]
	if !ok {
		return nil, false
	}
	return v.encode(b.Order), true
}

// Set stores v under k, keeping the position of an existing entry.
func (b *Block) Set(k Key, v Value) error {
	if v == nil {
		return fmt.Errorf("%w: nil value for %s", core.ErrUnsupportedValue, k)
	}
	if b.structural(k) {
		return fmt.Errorf("%w: %s is maintained by the encoder", core.ErrUnsupportedValue, k)
	}
	if o, ok := v.(Opaque); ok && o.Typ.Size() > 0 && uint64(len(o.Raw)) != uint64(o.N)*uint64(o.Typ.Size()) {
		return fmt.Errorf("%w: %s: %d raw bytes for %d x %s", core.ErrUnsupportedValue, k, len(o.Raw), o.N, o.Typ)
	}
	if _, ok := b.vals[k]; !ok {
		b.keys = append(b.keys, k)
	}
	b.vals[k] = v
	b.rev++
	return nil
}

// Delete removes k and reports whether it was present.
func (b *Block) Delete(k Key) bool {
	if _, ok := b.vals[k]; !ok {
		return false
	}
	delete(b.vals, k)
	for i, kk := range b.keys {
		if kk == k {
			b.keys = append(b.keys[:i], b.keys[i+1:]...)
			break
		}
	}
	b.rev++
	return true
}

// DeleteIFD removes every tag of one directory and returns how many were removed.
func (b *Block) DeleteIFD(ifd IFD) int {
	n := 0
	kept := b.keys[:0]
	for _, k := range b.keys {
		if k.IFD == ifd {
			delete(b.vals, k)
			n++
			continue
		}
		kept = append(kept, k)
	}
	b.keys = kept
	if ifd == IFDThumbnail && b.thumbnail != nil {
		b.thumbnail = nil
		n++
	}
	if n > 0 {
		b.rev++
	}
	return n
}

// Keys returns all keys in insertion order.
func (b *Block) Keys() []Key {
	out := make([]Key, len(b.keys))
	copy(out, b.keys)
	return out
}

// HasIFD reports whether any tag lives in ifd.
func (b *Block) HasIFD(ifd IFD) bool {
	for _, k := range b.keys {
		if k.IFD == ifd {
			return true
		}
	}
	return false
}

// Thumbnail returns the embedded JPEG thumbnail, if any.
func (b *Block) Thumbnail() []byte { return b.thumbnail }

// SetThumbnail replaces the embedded JPEG thumbnail. A nil slice removes it.
func (b *Block) SetThumbnail(jpeg []byte) {
	b.thumbnail = jpeg
	b.rev++
}

// RemoveThumbnail drops IFD1 and its image data.
func (b *Block) RemoveThumbnail() bool {
	return b.DeleteIFD(IFDThumbnail) > 0
}

func (b *Block) structural(k Key) bool {
	if b.fileMode && k.IFD == IFDThumbnail && (k.Tag == tagThumbOffset || k.Tag == tagThumbLength) {
		return false
	}
	return pointerTag(k)
}

func pointerTag(k Key) bool {
	switch k.Tag {
	case tagExifIFD, tagGPSIFD:
		return k.IFD == IFDPrimary
	case tagInteropIFD:
		return k.IFD == IFDExif
	case tagThumbOffset, tagThumbLength:
		return k.IFD == IFDThumbnail
	}
	return false
}

func (k Key) String() string {
	if info, ok := infoFor(k); ok {
		return "Exif." + k.IFD.String() + "." + info.Name
	}
	return fmt.Sprintf("Exif.%s.0x%04x", k.IFD, k.Tag)
}
