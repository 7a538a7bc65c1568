package image

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/binio"
)

// ─── HEIF / HEIC / AVIF ──────────────────────────────────────────────────────
//
// Metadata are items: an "Exif" item whose payload starts with a 32-bit
// offset to the TIFF header, and a "mime" item of type application/rdf+xml
// holding XMP. Item bytes are located through iloc. Edited payloads are
// written to a new mdat at the end of the file and every iloc extent behind
// the meta box is shifted by the change in meta size.

const (
	heifExifType   = "Exif"
	heifMimeType   = "mime"
	xmpContentType = "application/rdf+xml"
)

type heifInfe struct {
	id          uint32
	typ         string
	contentType string
	raw         []byte // nil for items added by a rewrite
}

type ilocExtent struct{ index, off, length uint64 }

type ilocEntry struct {
	id      uint32
	method  uint8
	dataRef uint16
	base    uint64
	extents []ilocExtent
}

func (e ilocEntry) clone() ilocEntry {
	e.extents = append([]ilocExtent(nil), e.extents...)
	return e
}

type ilocBox struct {
	version  uint8
	flags    uint32
	offSize  int
	lenSize  int
	baseSize int
	idxSize  int
	entries  []ilocEntry
}

type irefEntry struct {
	typ  string
	from uint32
	to   []uint32
}

type heifWalk struct {
	tail     int // end of the last well-formed top-level box
	sizeZero int // index into top of a box running to EOF, or -1
	top      []box
	meta     box
	metaHead []byte
	kids     []box

	iinfVersion uint8
	infes       []heifInfe
	loc         *ilocBox
	irefVersion uint8
	refs        []irefEntry
	pitm        uint32
	idat        *box
	iprp        *box

	exifID, xmpID uint32
}

type isobmffParser struct {
	format core.FormatID
}

func (p isobmffParser) Locate(data []byte) (*Layout, error) {
	top, err := walkBoxes(data, 0, len(data))
	if len(top) == 0 || top[0].typ != "ftyp" {
		return nil, errors.Wrapf(core.ErrMalformedContainer, "%s: no leading ftyp box", p.format)
	}
	l := newLayout(p.format)
	w := &heifWalk{top: top, tail: top[len(top)-1].end, sizeZero: -1}
	l.priv = w
	if err != nil {
		l.warn("", errors.Wrapf(err, "%s", p.format))
	}
	if last := top[len(top)-1]; last.sizeZero {
		w.sizeZero = len(top) - 1
	}

	meta, mi := findBox(top, "meta")
	if mi < 0 || meta.end-meta.off-meta.hdr < 4 {
		return nil, errors.Wrapf(core.ErrMalformedContainer, "%s: no meta box", p.format)
	}
	w.meta = meta
	w.metaHead = data[meta.off+meta.hdr : meta.off+meta.hdr+4]
	if w.kids, err = walkBoxes(data, meta.off+meta.hdr+4, meta.end); err != nil {
		return nil, errors.Wrapf(err, "%s: meta", p.format)
	}
	for i := range w.kids {
		k := w.kids[i]
		switch k.typ {
		case "pitm":
			err = w.readPitm(data, k)
		case "iinf":
			err = w.readIinf(data, k)
		case "iloc":
			err = w.readIloc(data, k)
		case "iref":
			err = w.readIref(data, k)
		case "idat":
			w.idat = &w.kids[i]
		case "iprp":
			w.iprp = &w.kids[i]
		}
		if err != nil {
			return nil, errors.Wrapf(core.ErrMalformedContainer, "%s: %s: %v", p.format, k.typ, err)
		}
	}
	if w.loc == nil {
		return nil, errors.Wrapf(core.ErrMalformedContainer, "%s: meta has no iloc", p.format)
	}

	for _, it := range w.infes {
		switch {
		case it.typ == heifExifType && w.exifID == 0:
			w.exifID = it.id
		case it.typ == heifMimeType && it.contentType == xmpContentType && w.xmpID == 0:
			w.xmpID = it.id
		}
	}
	for _, e := range w.loc.entries {
		if e.id == w.exifID || e.id == w.xmpID {
			continue
		}
		spans, err := w.spans(data, e)
		if err != nil {
			l.warn("", err)
			continue
		}
		l.ImageData = append(l.ImageData, spans...)
	}

	if w.exifID != 0 {
		payload, first, err := w.itemData(data, w.exifID)
		switch {
		case err != nil:
			l.warn(core.NSExif, err)
		case len(payload) < 4:
			l.warn(core.NSExif, errors.Wrapf(core.ErrMalformedMetadata, "%s: Exif item of %d bytes", p.format, len(payload)))
		default:
			skip := uint64(binary.BigEndian.Uint32(payload))
			if skip > uint64(len(payload)-4) {
				l.warn(core.NSExif, errors.Wrapf(core.ErrMalformedMetadata, "%s: Exif header offset %d past item end", p.format, skip))
				break
			}
			l.Meta[core.NSExif] = &Location{Off: int(first.Off), Len: len(payload), Prefix: payload[:4+skip], Data: payload[4+skip:]}
		}
	}
	if w.xmpID != 0 {
		payload, first, err := w.itemData(data, w.xmpID)
		if err != nil {
			l.warn(core.NSXMP, err)
		} else {
			l.Meta[core.NSXMP] = &Location{Off: int(first.Off), Len: len(payload), Data: payload}
		}
	}
	return l, nil
}

// ─── meta children ───────────────────────────────────────────────────────────

func (w *heifWalk) readPitm(data []byte, k box) error {
	r := newBoxReader(k.payload(data))
	v, _ := r.fullBox()
	w.pitm = r.id(v > 0)
	return r.err
}

func (w *heifWalk) readIinf(data []byte, k box) error {
	r := newBoxReader(k.payload(data))
	v, _ := r.fullBox()
	w.iinfVersion = v
	var count uint32
	if v == 0 {
		count = uint32(r.u16())
	} else {
		count = r.u32()
	}
	if r.err != nil {
		return r.err
	}
	start := k.off + k.hdr + r.c.Pos()
	entries, err := walkBoxes(data, start, k.end)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.typ != "infe" {
			continue
		}
		it, err := readInfe(data, e)
		if err != nil {
			return err
		}
		w.infes = append(w.infes, it)
	}
	if uint32(len(w.infes)) != count {
		return errors.Errorf("iinf declares %d entries, holds %d", count, len(w.infes))
	}
	return nil
}

func readInfe(data []byte, e box) (heifInfe, error) {
	r := newBoxReader(e.payload(data))
	v, _ := r.fullBox()
	it := heifInfe{raw: data[e.off:e.end]}
	if v < 2 {
		it.id = uint32(r.u16())
		r.u16()
		r.cString()
		it.contentType = r.cString()
		return it, r.err
	}
	it.id = r.id(v > 2)
	r.u16()
	it.typ = r.fourcc()
	r.cString()
	if it.typ == heifMimeType {
		it.contentType = r.cString()
	}
	return it, r.err
}

func (w *heifWalk) readIloc(data []byte, k box) error {
	r := newBoxReader(k.payload(data))
	v, flags := r.fullBox()
	if v > 2 {
		return errors.Errorf("iloc version %d", v)
	}
	b1, b2 := r.u8(), r.u8()
	loc := &ilocBox{version: v, flags: flags, offSize: int(b1 >> 4), lenSize: int(b1 & 15), baseSize: int(b2 >> 4)}
	if v > 0 {
		loc.idxSize = int(b2 & 15)
	}
	for _, n := range []int{loc.offSize, loc.lenSize, loc.baseSize, loc.idxSize} {
		if n != 0 && n != 4 && n != 8 {
			return errors.Errorf("iloc field width %d", n)
		}
	}
	var count uint32
	if v < 2 {
		count = uint32(r.u16())
	} else {
		count = r.u32()
	}
	for i := uint32(0); i < count && r.err == nil; i++ {
		e := ilocEntry{id: r.id(v == 2)}
		if v > 0 {
			e.method = uint8(r.u16() & 15)
		}
		e.dataRef = r.u16()
		e.base = r.uintN(loc.baseSize)
		n := r.u16()
		for j := uint16(0); j < n && r.err == nil; j++ {
			var x ilocExtent
			if v > 0 {
				x.index = r.uintN(loc.idxSize)
			}
			x.off = r.uintN(loc.offSize)
			x.length = r.uintN(loc.lenSize)
			e.extents = append(e.extents, x)
		}
		loc.entries = append(loc.entries, e)
	}
	if r.err != nil {
		return r.err
	}
	w.loc = loc
	return nil
}

func (w *heifWalk) readIref(data []byte, k box) error {
	r := newBoxReader(k.payload(data))
	v, _ := r.fullBox()
	w.irefVersion = v
	if r.err != nil {
		return r.err
	}
	refs, err := walkBoxes(data, k.off+k.hdr+4, k.end)
	if err != nil {
		return err
	}
	for _, b := range refs {
		rr := newBoxReader(b.payload(data))
		ref := irefEntry{typ: b.typ, from: rr.id(v > 0)}
		n := rr.u16()
		for i := uint16(0); i < n && rr.err == nil; i++ {
			ref.to = append(ref.to, rr.id(v > 0))
		}
		if rr.err != nil {
			return rr.err
		}
		w.refs = append(w.refs, ref)
	}
	return nil
}

// spans resolves an iloc entry to absolute file ranges.
func (w *heifWalk) spans(data []byte, e ilocEntry) ([]Span, error) {
	if e.dataRef != 0 {
		return nil, errors.Wrapf(core.ErrUnsupportedValue, "heif: item %d lives in an external file", e.id)
	}
	var start, bound uint64
	switch e.method {
	case 0:
		bound = uint64(len(data))
	case 1:
		if w.idat == nil {
			return nil, errors.Wrapf(core.ErrMalformedContainer, "heif: item %d refers to a missing idat", e.id)
		}
		start, bound = uint64(w.idat.off+w.idat.hdr), uint64(w.idat.end)
	default:
		return nil, errors.Wrapf(core.ErrUnsupportedValue, "heif: item %d uses construction method %d", e.id, e.method)
	}
	out := make([]Span, 0, len(e.extents))
	for _, x := range e.extents {
		off := start + e.base + x.off
		if off < e.base || off > bound {
			return nil, errors.Wrapf(core.ErrMalformedContainer, "heif: item %d extent at %d outside the file", e.id, off)
		}
		n := x.length
		if n == 0 {
			n = bound - off
		}
		if n > bound-off {
			return nil, errors.Wrapf(core.ErrMalformedContainer, "heif: item %d extent %d+%d outside the file", e.id, off, n)
		}
		out = append(out, Span{Off: int64(off), Len: int64(n)})
	}
	return out, nil
}

func (w *heifWalk) entry(id uint32) (ilocEntry, bool) {
	for _, e := range w.loc.entries {
		if e.id == id {
			return e, true
		}
	}
	return ilocEntry{}, false
}

// itemData returns an item's bytes and its first extent.
func (w *heifWalk) itemData(data []byte, id uint32) ([]byte, Span, error) {
	e, ok := w.entry(id)
	if !ok {
		return nil, Span{}, errors.Wrapf(core.ErrMalformedContainer, "heif: item %d has no location", id)
	}
	spans, err := w.spans(data, e)
	if err != nil {
		return nil, Span{}, err
	}
	if len(spans) == 0 {
		return nil, Span{}, nil
	}
	if len(spans) == 1 {
		s := spans[0]
		return data[s.Off : s.Off+s.Len], s, nil
	}
	var out []byte
	for _, s := range spans {
		out = append(out, data[s.Off:s.Off+s.Len]...)
	}
	return out, spans[0], nil
}

// ─── rewrite ─────────────────────────────────────────────────────────────────

type heifPlan struct {
	infes     []heifInfe
	entries   []ilocEntry
	refs      []irefEntry
	refsDirty bool
	fresh     map[uint32][]byte
	order     []uint32 // fresh item IDs in mdat order
}

func (p isobmffParser) Rewrite(data []byte, l *Layout, edits Edits) ([]byte, error) {
	if err := checkEdits(p.format, edits); err != nil {
		return nil, err
	}
	w, ok := l.priv.(*heifWalk)
	if !ok {
		return nil, errors.Errorf("%s: layout was not produced by the heif parser", p.format)
	}

	plan := &heifPlan{
		infes: append([]heifInfe(nil), w.infes...),
		fresh: make(map[uint32][]byte),
	}
	for _, e := range w.loc.entries {
		plan.entries = append(plan.entries, e.clone())
	}
	for _, r := range w.refs {
		r.to = append([]uint32(nil), r.to...)
		plan.refs = append(plan.refs, r)
	}
	nextID := uint32(1)
	for _, it := range w.infes {
		if it.id >= nextID {
			nextID = it.id + 1
		}
	}
	for _, e := range w.loc.entries {
		if e.id >= nextID {
			nextID = e.id + 1
		}
	}

	var wipe []Span
	changed := false
	for _, ns := range []core.Namespace{core.NSExif, core.NSXMP} {
		e, ok := edits[ns]
		if !ok {
			continue
		}
		id, typ, ctype := w.exifID, heifExifType, ""
		if ns == core.NSXMP {
			id, typ, ctype = w.xmpID, heifMimeType, xmpContentType
		}
		if id != 0 {
			if old, ok := w.entry(id); ok {
				if s, err := w.spans(data, old); err == nil {
					wipe = append(wipe, s...)
				}
			}
		}
		if e.Remove {
			if id != 0 {
				plan.drop(id)
				changed = true
			}
			continue
		}
		payload := e.Data
		if ns == core.NSExif {
			prefix := []byte{0, 0, 0, 0}
			if loc := l.Meta[core.NSExif]; loc != nil {
				prefix = loc.Prefix
			}
			payload = append(cloneBytes(prefix), e.Data...)
		}
		if id == 0 {
			id = nextID
			nextID++
			plan.infes = append(plan.infes, heifInfe{id: id, typ: typ, contentType: ctype})
			plan.entries = append(plan.entries, ilocEntry{id: id})
			if w.pitm != 0 {
				plan.refs = append(plan.refs, irefEntry{typ: "cdsc", from: id, to: []uint32{w.pitm}})
				plan.refsDirty = true
			}
		}
		plan.fresh[id] = payload
		plan.order = append(plan.order, id)
		changed = true
	}
	if !changed {
		return cloneBytes(data), nil
	}

	src := cloneBytes(data)
	w.wipe(src, wipe, l.ImageData)

	var freshLen uint64
	for _, id := range plan.order {
		freshLen += uint64(len(plan.fresh[id]))
	}
	mdatHdr := 0
	if len(plan.order) > 0 {
		mdatHdr = 8
		if freshLen+8 > 0xFFFFFFFF {
			mdatHdr = 16
		}
	}

	oldMeta := w.meta.end - w.meta.off
	widths := *w.loc
	widths.entries = nil
	var meta []byte
	delta := 0
	for i := 0; ; i++ {
		m, err := w.buildMeta(src, plan, &widths, delta, uint64(w.tail+delta+mdatHdr))
		if err != nil {
			return nil, err
		}
		d := len(m) - oldMeta
		if d == delta {
			meta = m
			break
		}
		if i == 8 {
			return nil, errors.Errorf("%s: iloc layout did not settle", p.format)
		}
		delta = d
	}

	out := make([]byte, 0, len(data)+delta+mdatHdr+int(freshLen))
	out = append(out, src[:w.meta.off]...)
	out = append(out, meta...)
	restAt := len(out)
	out = append(out, src[w.meta.end:w.tail]...)
	if w.sizeZero >= 0 && mdatHdr > 0 {
		b := w.top[w.sizeZero]
		if b.off >= w.meta.end {
			n := uint64(b.end - b.off)
			if n > 0xFFFFFFFF {
				return nil, errors.Wrapf(core.ErrUnsupportedValue, "%s: %q box runs to EOF and is too large to size", p.format, b.typ)
			}
			binary.BigEndian.PutUint32(out[restAt+b.off-w.meta.end:], uint32(n))
		}
	}
	if mdatHdr > 0 {
		if mdatHdr == 16 {
			out = binary.BigEndian.AppendUint32(out, 1)
			out = append(out, "mdat"...)
			out = binary.BigEndian.AppendUint64(out, freshLen+16)
		} else {
			out = binary.BigEndian.AppendUint32(out, uint32(freshLen+8))
			out = append(out, "mdat"...)
		}
		for _, id := range plan.order {
			out = append(out, plan.fresh[id]...)
		}
	}
	return append(out, src[w.tail:]...), nil
}

// drop removes an item and every reference to it.
func (p *heifPlan) drop(id uint32) {
	infes := p.infes[:0]
	for _, it := range p.infes {
		if it.id != id {
			infes = append(infes, it)
		}
	}
	p.infes = infes
	entries := p.entries[:0]
	for _, e := range p.entries {
		if e.id != id {
			entries = append(entries, e)
		}
	}
	p.entries = entries
	refs := p.refs[:0]
	for _, r := range p.refs {
		if r.from == id {
			p.refsDirty = true
			continue
		}
		to := r.to[:0]
		for _, t := range r.to {
			if t != id {
				to = append(to, t)
			}
		}
		if len(to) != len(r.to) {
			p.refsDirty = true
		}
		if len(to) == 0 {
			continue
		}
		r.to = to
		refs = append(refs, r)
	}
	p.refs = refs
}

// wipe zeroes the old extents of replaced or removed items so their bytes do
// not survive in the file. Extents that overlap image data or sit in meta
// outside idat are left alone.
func (w *heifWalk) wipe(src []byte, spans, image []Span) {
	metaOff, metaEnd := int64(w.meta.off), int64(w.meta.end)
next:
	for _, s := range spans {
		end := s.Off + s.Len
		if s.Off < metaEnd && end > metaOff {
			if w.idat == nil || s.Off < int64(w.idat.off+w.idat.hdr) || end > int64(w.idat.end) {
				continue
			}
		}
		for _, im := range image {
			if s.Off < im.Off+im.Len && end > im.Off {
				continue next
			}
		}
		clear(src[s.Off:end])
	}
}

// buildMeta encodes the meta box for a given size delta. mdatData is the
// absolute offset of the first fresh payload byte. widths carries the iloc
// field sizes and only ever grows between attempts.
func (w *heifWalk) buildMeta(src []byte, plan *heifPlan, widths *ilocBox, delta int, mdatData uint64) ([]byte, error) {
	metaEnd := uint64(w.meta.end)
	fileLen := uint64(len(src))
	shift := func(v uint64) uint64 { return uint64(int64(v) + int64(delta)) }

	entries := make([]ilocEntry, 0, len(plan.entries))
	cursor := mdatData
	freshAt := make(map[uint32]uint64)
	for _, id := range plan.order {
		freshAt[id] = cursor
		cursor += uint64(len(plan.fresh[id]))
	}
	for _, e := range plan.entries {
		e = e.clone()
		if at, ok := freshAt[e.id]; ok {
			e.method, e.dataRef, e.base = 0, 0, 0
			e.extents = []ilocExtent{{off: at, length: uint64(len(plan.fresh[e.id]))}}
			entries = append(entries, e)
			continue
		}
		if e.method == 0 && e.dataRef == 0 {
			if len(e.extents) == 1 && e.extents[0].length == 0 {
				e.extents[0].length = fileLen - (e.base + e.extents[0].off)
			}
			if e.base >= metaEnd {
				e.base = shift(e.base)
			} else {
				for i := range e.extents {
					if e.base+e.extents[i].off >= metaEnd {
						e.extents[i].off = shift(e.extents[i].off)
					}
				}
			}
		}
		entries = append(entries, e)
	}

	wideIDs := false
	for _, e := range entries {
		widths.baseSize = max(widths.baseSize, fieldWidth(e.base))
		for _, x := range e.extents {
			widths.offSize = max(widths.offSize, fieldWidth(x.off))
			widths.lenSize = max(widths.lenSize, fieldWidth(x.length))
		}
		if e.id > 0xFFFF {
			wideIDs = true
		}
	}
	if wideIDs {
		widths.version = 2
	}
	widths.entries = entries

	iloc, err := encodeIloc(widths)
	if err != nil {
		return nil, err
	}
	iinf := w.encodeIinf(plan.infes)

	body := make([]byte, 0, w.meta.end-w.meta.off)
	body = append(body, w.metaHead...)
	wroteIinf, wroteIref := false, false
	for _, k := range w.kids {
		switch k.typ {
		case "iinf":
			body = append(body, iinf...)
			wroteIinf = true
			if !wroteIref && plan.refsDirty {
				body = append(body, w.encodeIref(plan.refs)...)
				wroteIref = true
			}
		case "iloc":
			body = append(body, iloc...)
		case "iref":
			if !plan.refsDirty {
				body = append(body, src[k.off:k.end]...)
			} else if !wroteIref {
				body = append(body, w.encodeIref(plan.refs)...)
			}
			wroteIref = true
		default:
			body = append(body, src[k.off:k.end]...)
		}
	}
	if !wroteIinf {
		body = append(body, iinf...)
	}
	if !wroteIref && plan.refsDirty {
		body = append(body, w.encodeIref(plan.refs)...)
	}
	return boxBytes("meta", body), nil
}

func fieldWidth(v uint64) int {
	switch {
	case v == 0:
		return 0
	case v <= 0xFFFFFFFF:
		return 4
	}
	return 8
}

func encodeIloc(loc *ilocBox) ([]byte, error) {
	bw := binio.NewWriter(binary.BigEndian, 16+len(loc.entries)*16)
	bw.U8(byte(loc.offSize<<4 | loc.lenSize))
	idx := 0
	if loc.version > 0 {
		idx = loc.idxSize
	}
	bw.U8(byte(loc.baseSize<<4 | idx))
	if loc.version < 2 {
		bw.U16(uint16(len(loc.entries)))
	} else {
		bw.U32(uint32(len(loc.entries)))
	}
	for _, e := range loc.entries {
		putID(bw, loc.version == 2, e.id)
		if loc.version > 0 {
			bw.U16(uint16(e.method))
		}
		bw.U16(e.dataRef)
		if err := bw.UintN(loc.baseSize, e.base); err != nil {
			return nil, errors.Wrapf(core.ErrUnsupportedValue, "iloc item %d: %v", e.id, err)
		}
		bw.U16(uint16(len(e.extents)))
		for _, x := range e.extents {
			if loc.version > 0 {
				if err := bw.UintN(idx, x.index); err != nil {
					return nil, errors.Wrapf(core.ErrUnsupportedValue, "iloc item %d: %v", e.id, err)
				}
			}
			if err := bw.UintN(loc.offSize, x.off); err != nil {
				return nil, errors.Wrapf(core.ErrUnsupportedValue, "iloc item %d: %v", e.id, err)
			}
			if err := bw.UintN(loc.lenSize, x.length); err != nil {
				return nil, errors.Wrapf(core.ErrUnsupportedValue, "iloc item %d: %v", e.id, err)
			}
		}
	}
	return fullBoxBytes("iloc", loc.version, loc.flags, bw.Bytes()), nil
}

func (w *heifWalk) encodeIinf(infes []heifInfe) []byte {
	v := w.iinfVersion
	if len(infes) > 0xFFFF {
		v = 1
	}
	bw := binio.NewWriter(binary.BigEndian, 64*len(infes))
	if v == 0 {
		bw.U16(uint16(len(infes)))
	} else {
		bw.U32(uint32(len(infes)))
	}
	for _, it := range infes {
		if it.raw != nil {
			bw.Write(it.raw)
			continue
		}
		ib := binio.NewWriter(binary.BigEndian, 32)
		ver := uint8(2)
		if it.id > 0xFFFF {
			ver = 3
		}
		putID(ib, ver == 3, it.id)
		ib.U16(0)
		ib.String(it.typ)
		ib.U8(0)
		if it.typ == heifMimeType {
			ib.String(it.contentType)
			ib.U8(0)
		}
		bw.Write(fullBoxBytes("infe", ver, 0, ib.Bytes()))
	}
	return fullBoxBytes("iinf", v, 0, bw.Bytes())
}

func (w *heifWalk) encodeIref(refs []irefEntry) []byte {
	v := w.irefVersion
	for _, r := range refs {
		if r.from > 0xFFFF {
			v = 1
		}
		for _, t := range r.to {
			if t > 0xFFFF {
				v = 1
			}
		}
	}
	if len(refs) == 0 {
		return nil
	}
	bw := binio.NewWriter(binary.BigEndian, 16*len(refs))
	for _, r := range refs {
		rb := binio.NewWriter(binary.BigEndian, 8+4*len(r.to))
		putID(rb, v > 0, r.from)
		rb.U16(uint16(len(r.to)))
		for _, t := range r.to {
			putID(rb, v > 0, t)
		}
		bw.Write(boxBytes(r.typ, rb.Bytes()))
	}
	return fullBoxBytes("iref", v, 0, bw.Bytes())
}

// ─── properties ──────────────────────────────────────────────────────────────

// primarySize reads the ispe property associated with the primary item.
func (w *heifWalk) primarySize(data []byte) (width, height int, ok bool) {
	if w.iprp == nil {
		return 0, 0, false
	}
	kids, err := walkBoxes(data, w.iprp.off+w.iprp.hdr, w.iprp.end)
	if err != nil {
		return 0, 0, false
	}
	ipco, ci := findBox(kids, "ipco")
	if ci < 0 {
		return 0, 0, false
	}
	props, err := walkBoxes(data, ipco.off+ipco.hdr, ipco.end)
	if err != nil {
		return 0, 0, false
	}
	for _, k := range kids {
		if k.typ != "ipma" {
			continue
		}
		r := newBoxReader(k.payload(data))
		v, flags := r.fullBox()
		n := r.u32()
		for i := uint32(0); i < n && r.err == nil; i++ {
			id := r.id(v > 0)
			assoc := r.u8()
			for j := uint8(0); j < assoc && r.err == nil; j++ {
				var idx int
				if flags&1 != 0 {
					idx = int(r.u16() & 0x7FFF)
				} else {
					idx = int(r.u8() & 0x7F)
				}
				if id != w.pitm || idx < 1 || idx > len(props) || props[idx-1].typ != "ispe" {
					continue
				}
				pr := newBoxReader(props[idx-1].payload(data))
				pr.fullBox()
				wd, ht := pr.u32(), pr.u32()
				if pr.err == nil {
					return int(wd), int(ht), true
				}
			}
		}
	}
	return 0, 0, false
}
