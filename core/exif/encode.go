package exif

import (
	"encoding/binary"
	"fmt"
	"slices"

	"golang.org/x/exp/maps"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/binio"
)

const headerSize = 8

// planEntry is one directory entry with its final value bytes.
type planEntry struct {
	tag    uint16
	typ    Type
	count  uint32
	data   []byte
	valOff uint32 // absolute offset of out-of-line data
}

func (e *planEntry) inline() bool { return len(e.data) <= 4 }

type planDir struct {
	ifd     IFD
	off     uint32
	next    uint32
	entries []planEntry
}

func (d *planDir) size() uint32 { return 2 + 12*uint32(len(d.entries)) + 4 }

// plan is the complete, immutable layout of an encoded stream.
type plan struct {
	order    binary.ByteOrder
	base     uint32 // absolute offset of the first rendered byte
	header   bool
	dirs     []planDir
	thumb    []byte
	thumbOff uint32
	end      uint32 // absolute offset one past the last rendered byte
}

// Encode serialises the block as a standalone TIFF stream (header included).
func (b *Block) Encode() ([]byte, error) {
	p, err := b.plan(0, true)
	if err != nil {
		return nil, err
	}
	return p.render()
}

// EncodeAppend writes the block's directories after the end of a TIFF file
// and points the file header at them. Image data keeps its offset. When the
// block was decoded from orig, the directories and values it was read from
// are zeroed, and a zeroed run at the end of the file is reused.
func (b *Block) EncodeAppend(orig []byte) ([]byte, error) {
	order, _, err := ReadHeader(orig)
	if err != nil {
		return nil, err
	}
	if order != b.Order {
		return nil, fmt.Errorf("%w: block byte order differs from file header", core.ErrUnsupportedValue)
	}
	src := append([]byte(nil), orig...)
	cut := b.wipe(src)
	base := uint64(cut)
	base += base & 1
	if base > 0xFFFFFFFF {
		return nil, fmt.Errorf("%w: file exceeds 4 GiB TIFF offset range", core.ErrUnsupportedValue)
	}
	p, err := b.plan(uint32(base), false)
	if err != nil {
		return nil, err
	}
	body, err := p.render()
	if err != nil {
		return nil, err
	}
	out := make([]byte, base, int(base)+len(body))
	copy(out, src[:cut])
	out = append(out, body...)
	order.PutUint32(out[4:], p.dirs[0].off)
	return out, nil
}

// plan computes every directory and value offset before anything is written.
func (b *Block) plan(base uint32, header bool) (*plan, error) {
	byIFD := make(map[IFD]map[uint16]Value)
	for _, k := range b.keys {
		if byIFD[k.IFD] == nil {
			byIFD[k.IFD] = make(map[uint16]Value)
		}
		byIFD[k.IFD][k.Tag] = b.vals[k]
	}

	thumb := b.thumbnail
	if b.fileMode {
		thumb = nil
	}
	present := map[IFD]bool{IFDPrimary: true}
	for ifd := range byIFD {
		present[ifd] = true
	}
	if present[IFDInterop] {
		present[IFDExif] = true
	}
	if len(thumb) > 0 {
		present[IFDThumbnail] = true
	}

	p := &plan{order: b.Order, base: base, header: header, thumb: thumb}
	for _, ifd := range ifdOrder {
		if !present[ifd] {
			continue
		}
		dir := planDir{ifd: ifd}
		tags := maps.Keys(byIFD[ifd])
		slices.Sort(tags)
		for _, tag := range tags {
			v := byIFD[ifd][tag]
			data := v.encode(b.Order)
			if v.Type().Size() == 0 && len(data) != 4 {
				return nil, fmt.Errorf("%w: %s: opaque %s must carry its 4-byte field", core.ErrUnsupportedValue, Key{ifd, tag}, v.Type())
			}
			dir.entries = append(dir.entries, planEntry{tag: tag, typ: v.Type(), count: v.Count(), data: data})
		}
		p.dirs = append(p.dirs, dir)
	}

	// Pointer entries get their final values once directory offsets are known.
	p.addPointer(IFDPrimary, tagExifIFD, present[IFDExif])
	p.addPointer(IFDPrimary, tagGPSIFD, present[IFDGPS])
	p.addPointer(IFDExif, tagInteropIFD, present[IFDInterop])
	if len(thumb) > 0 {
		p.addPointer(IFDThumbnail, tagThumbOffset, true)
		p.addPointer(IFDThumbnail, tagThumbLength, true)
	}
	for i := range p.dirs {
		slices.SortFunc(p.dirs[i].entries, func(a, b planEntry) int { return int(a.tag) - int(b.tag) })
	}

	pos := uint64(base)
	if header {
		pos += headerSize
	}
	for i := range p.dirs {
		p.dirs[i].off = uint32(pos)
		pos += uint64(p.dirs[i].size())
	}
	for i := range p.dirs {
		for j := range p.dirs[i].entries {
			e := &p.dirs[i].entries[j]
			if e.inline() {
				continue
			}
			pos += pos & 1
			e.valOff = uint32(pos)
			pos += uint64(len(e.data))
		}
	}
	if len(thumb) > 0 {
		pos += pos & 1
		p.thumbOff = uint32(pos)
		pos += uint64(len(thumb))
	}
	if pos > 0xFFFFFFFF {
		return nil, fmt.Errorf("%w: encoded EXIF exceeds 4 GiB", core.ErrUnsupportedValue)
	}
	p.end = uint32(pos)

	for i := range p.dirs {
		d := &p.dirs[i]
		for j := range d.entries {
			e := &d.entries[j]
			switch {
			case d.ifd == IFDPrimary && e.tag == tagExifIFD:
				e.data = p.u32(p.offsetOf(IFDExif))
			case d.ifd == IFDPrimary && e.tag == tagGPSIFD:
				e.data = p.u32(p.offsetOf(IFDGPS))
			case d.ifd == IFDExif && e.tag == tagInteropIFD:
				e.data = p.u32(p.offsetOf(IFDInterop))
			case d.ifd == IFDThumbnail && e.tag == tagThumbOffset && len(thumb) > 0:
				e.data = p.u32(p.thumbOff)
			case d.ifd == IFDThumbnail && e.tag == tagThumbLength && len(thumb) > 0:
				e.data = p.u32(uint32(len(thumb)))
			}
		}
		if d.ifd == IFDPrimary {
			d.next = p.offsetOf(IFDThumbnail)
		}
		if d.ifd == IFDThumbnail && b.fileMode {
			d.next = b.tail
		}
	}
	return p, nil
}

func (p *plan) addPointer(ifd IFD, tag uint16, want bool) {
	if !want {
		return
	}
	for i := range p.dirs {
		if p.dirs[i].ifd == ifd {
			p.dirs[i].entries = append(p.dirs[i].entries, planEntry{tag: tag, typ: TypeLong, count: 1, data: make([]byte, 4)})
			return
		}
	}
}

func (p *plan) offsetOf(ifd IFD) uint32 {
	for _, d := range p.dirs {
		if d.ifd == ifd {
			return d.off
		}
	}
	return 0
}

func (p *plan) u32(v uint32) []byte {
	b := make([]byte, 4)
	p.order.PutUint32(b, v)
	return b
}

// render writes the plan front to back. Every region must start exactly at
// its planned offset; any drift is a bug and aborts the encode.
func (p *plan) render() ([]byte, error) {
	w := binio.NewWriter(p.order, int(p.end-p.base))
	at := func(want uint32, what string) error {
		// word alignment leaves at most one pad byte
		if uint32(w.Len())+p.base+1 == want {
			w.U8(0)
		}
		if got := uint32(w.Len()) + p.base; got != want {
			return fmt.Errorf("exif: %s planned at %d, writer at %d", what, want, got)
		}
		return nil
	}

	if p.header {
		if p.order == binary.BigEndian {
			w.String("MM")
		} else {
			w.String("II")
		}
		w.U16(42)
		w.U32(p.dirs[0].off)
	}
	for _, d := range p.dirs {
		if err := at(d.off, d.ifd.String()+" IFD"); err != nil {
			return nil, err
		}
		w.U16(uint16(len(d.entries)))
		for _, e := range d.entries {
			w.U16(e.tag)
			w.U16(uint16(e.typ))
			w.U32(e.count)
			if e.inline() {
				w.Write(e.data)
				w.Zero(4 - len(e.data))
			} else {
				w.U32(e.valOff)
			}
		}
		w.U32(d.next)
	}
	for _, d := range p.dirs {
		for _, e := range d.entries {
			if e.inline() {
				continue
			}
			if err := at(e.valOff, fmt.Sprintf("value of %s", Key{d.ifd, e.tag})); err != nil {
				return nil, err
			}
			w.Write(e.data)
		}
	}
	if len(p.thumb) > 0 {
		if err := at(p.thumbOff, "thumbnail"); err != nil {
			return nil, err
		}
		w.Write(p.thumb)
	}
	if got := uint32(w.Len()) + p.base; got != p.end {
		return nil, fmt.Errorf("exif: planned %d bytes, rendered %d", p.end-p.base, got-p.base)
	}
	return w.Bytes(), nil
}
