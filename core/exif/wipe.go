package exif

import (
	"encoding/binary"
	"slices"
)

// maxChainIFDs bounds the walk over the pages that follow IFD1.
const maxChainIFDs = 4096

// valueRanges lists the out-of-line value areas of one directory.
func valueRanges(entries []rawEntry, order binary.ByteOrder, limit int) []Range {
	var out []Range
	for _, e := range entries {
		size := e.typ.Size()
		if size == 0 {
			continue
		}
		total := uint64(e.count) * uint64(size)
		if total <= 4 {
			continue
		}
		off := uint64(order.Uint32(e.field))
		if off+total > uint64(limit) {
			continue
		}
		out = append(out, Range{Off: off, Len: total})
	}
	return out
}

// chainRanges lists the directory tables and value areas of the IFD chain
// starting at off. The chain is only read; nothing is decoded.
func chainRanges(raw []byte, order binary.ByteOrder, off uint32) []Range {
	var out []Range
	seen := make(map[uint32]bool)
	for off != 0 && !seen[off] && len(seen) < maxChainIFDs {
		seen[off] = true
		start := uint64(off)
		if start+2 > uint64(len(raw)) {
			break
		}
		n := uint64(order.Uint16(raw[start:]))
		end := start + 2 + 12*n
		if end > uint64(len(raw)) {
			break
		}
		entries := make([]rawEntry, 0, n)
		for p := start + 2; p < end; p += 12 {
			entries = append(entries, rawEntry{
				tag:   order.Uint16(raw[p:]),
				typ:   Type(order.Uint16(raw[p+2:])),
				count: order.Uint32(raw[p+4:]),
				field: raw[p+8 : p+12],
			})
		}
		out = append(out, valueRanges(entries, order, len(raw))...)
		for _, pair := range [][2]uint16{{tagStripOffsets, tagStripByteCount}, {tagTileOffsets, tagTileByteCount}} {
			out = append(out, entryRanges(raw, order, entries, pair[0], pair[1])...)
		}
		off = 0
		if end+4 <= uint64(len(raw)) {
			off = order.Uint32(raw[end:])
			end += 4
		}
		out = append(out, Range{Off: start, Len: end - start})
	}
	return out
}

// entryRanges decodes an offsets/byte-counts tag pair of a raw directory.
func entryRanges(raw []byte, order binary.ByteOrder, entries []rawEntry, offTag, lenTag uint16) []Range {
	var offs, lens Value
	for _, e := range entries {
		if e.tag != offTag && e.tag != lenTag {
			continue
		}
		size := e.typ.Size()
		if size == 0 {
			continue
		}
		total := uint64(e.count) * uint64(size)
		data := e.field
		if total > 4 {
			at := uint64(order.Uint32(e.field))
			if at+total > uint64(len(raw)) {
				continue
			}
			data = raw[at : at+total]
		} else {
			data = data[:total]
		}
		v := decodeValue(e.typ, e.count, data, order)
		if e.tag == offTag {
			offs = v
		} else {
			lens = v
		}
	}
	o, l := uints(offs), uints(lens)
	var out []Range
	for i := 0; i < len(o) && i < len(l); i++ {
		out = append(out, Range{Off: uint64(o[i]), Len: uint64(l[i])})
	}
	return out
}

// protected lists the bytes of a TIFF file that a rewrite must keep: the
// header, image strips and tiles, the IFD1 JPEG stream, and the pages linked
// after IFD1.
func (b *Block) protected(raw []byte) []Range {
	out := []Range{{Off: 0, Len: headerSize}}
	out = append(out, b.DataRanges()...)
	jo, ok1 := b.vals[Key{IFDThumbnail, tagThumbOffset}]
	jl, ok2 := b.vals[Key{IFDThumbnail, tagThumbLength}]
	if ok1 && ok2 {
		if o, l := uints(jo), uints(jl); len(o) == 1 && len(l) == 1 {
			out = append(out, Range{Off: uint64(o[0]), Len: uint64(l[0])})
		}
	}
	if b.tail != 0 {
		out = append(out, chainRanges(raw, b.Order, b.tail)...)
	}
	slices.SortFunc(out, func(x, y Range) int {
		switch {
		case x.Off < y.Off:
			return -1
		case x.Off > y.Off:
			return 1
		}
		return 0
	})
	return out
}

// subtract returns the parts of r not covered by prot, which is sorted by
// offset.
func subtract(r Range, prot []Range) []Range {
	var out []Range
	cur, end := r.Off, r.Off+r.Len
	for _, p := range prot {
		pend := p.Off + p.Len
		if pend <= cur {
			continue
		}
		if p.Off >= end {
			break
		}
		if p.Off > cur {
			out = append(out, Range{Off: cur, Len: p.Off - cur})
		}
		cur = max(cur, pend)
	}
	if cur < end {
		out = append(out, Range{Off: cur, Len: end - cur})
	}
	return out
}

// wipe zeroes, in out, the directories and values the block was decoded
// from, except protected bytes. It returns where new directories may start:
// the beginning of a wiped run that reaches the end of out, else len(out).
func (b *Block) wipe(out []byte) int {
	if !b.fileMode || b.srcLen != len(out) {
		return len(out)
	}
	prot := b.protected(out)
	var wiped []Range
	for _, r := range b.srcMeta {
		for _, piece := range subtract(r, prot) {
			clear(out[piece.Off : piece.Off+piece.Len])
			wiped = append(wiped, piece)
		}
	}
	if len(wiped) == 0 {
		return len(out)
	}
	slices.SortFunc(wiped, func(x, y Range) int {
		switch {
		case x.Off+x.Len > y.Off+y.Len:
			return -1
		case x.Off+x.Len < y.Off+y.Len:
			return 1
		}
		return 0
	})
	// Walk back from the end over wiped runs and single zero pad bytes.
	cut := uint64(len(out))
	for _, w := range wiped {
		end := w.Off + w.Len
		if end+1 < cut || (end+1 == cut && (out[end] != 0 || isProtected(end, prot))) {
			break
		}
		cut = min(cut, w.Off)
	}
	if cut == uint64(len(out)) || cut < headerSize {
		return len(out)
	}
	for _, p := range prot {
		if p.Len > 0 && p.Off+p.Len > cut && p.Off < uint64(len(out)) {
			return len(out)
		}
	}
	for _, c := range out[cut:] {
		if c != 0 {
			return len(out)
		}
	}
	return int(cut)
}

func isProtected(off uint64, prot []Range) bool {
	for _, p := range prot {
		if off >= p.Off && off < p.Off+p.Len {
			return true
		}
	}
	return false
}
