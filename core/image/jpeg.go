package image

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/iptc"
)

// ─── JPEG ────────────────────────────────────────────────────────────────────

const (
	markerSOI   = 0xD8
	markerEOI   = 0xD9
	markerSOS   = 0xDA
	markerTEM   = 0x01
	markerAPP0  = 0xE0
	markerAPP1  = 0xE1
	markerAPP13 = 0xED
	markerAPP15 = 0xEF

	maxSegmentLen = 0xFFFF
)

var (
	jpegExifHeader = []byte("Exif\x00\x00")
	jpegXMPHeader  = []byte("http://ns.adobe.com/xap/1.0/\x00")
	jfifHeader     = []byte("JFIF\x00")
)

type jpegSegment struct {
	marker byte
	off    int // first 0xFF, fill bytes included
	body   int // payload after the length field
	end    int
	broken bool // declared length was wrong; end is the next marker found
}

func (s jpegSegment) payload(data []byte) []byte { return data[s.body:s.end] }

type jpegWalk struct {
	segs  []jpegSegment
	tail  int // scan data or the unparsed remainder, copied verbatim
	exif  int
	xmp   int
	app13 int
	irb   *iptc.IRB
}

type jpegParser struct{}

func (jpegParser) Locate(data []byte) (*Layout, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, errors.Wrap(core.ErrMalformedContainer, "jpeg: missing SOI")
	}
	l := newLayout(core.FmtJPEG)
	w := &jpegWalk{tail: len(data), exif: -1, xmp: -1, app13: -1}
	l.priv = w

	pos := 2
walk:
	for pos < len(data) {
		if data[pos] != 0xFF {
			l.warn("", errors.Wrapf(core.ErrMalformedContainer, "jpeg: byte %#x at %d where a marker was expected", data[pos], pos))
			w.tail = pos
			break
		}
		off := pos
		for pos < len(data) && data[pos] == 0xFF {
			pos++
		}
		if pos >= len(data) {
			w.tail = off
			break
		}
		marker := data[pos]
		pos++
		switch {
		case marker == markerSOS || marker == markerEOI:
			w.tail = off
			break walk
		case marker == markerTEM || (marker >= 0xD0 && marker <= 0xD7):
			w.segs = append(w.segs, jpegSegment{marker: marker, off: off, body: pos, end: pos})
			continue
		}
		if pos+2 > len(data) {
			l.warn("", errors.Wrapf(core.ErrMalformedContainer, "jpeg: segment %#x at %d has no length", marker, off))
			w.tail = off
			break
		}
		n := int(binary.BigEndian.Uint16(data[pos:]))
		if n < 2 || pos+n > len(data) {
			l.warn(segmentNamespace(marker, data[pos+2:]),
				errors.Wrapf(core.ErrMalformedContainer, "jpeg: segment %#x at %d declares %d bytes, %d remain", marker, off, n, len(data)-pos))
			next := resync(data, pos+2)
			if next < 0 {
				w.tail = off
				break
			}
			w.segs = append(w.segs, jpegSegment{marker: marker, off: off, body: pos + 2, end: next, broken: true})
			pos = next
			continue
		}
		w.segs = append(w.segs, jpegSegment{marker: marker, off: off, body: pos + 2, end: pos + n})
		pos += n
	}
	l.ImageData = []Span{{Off: int64(w.tail), Len: int64(len(data) - w.tail)}}

	// Well-formed segments win; a broken one stands in for a namespace
	// only when nothing else carries it.
	for _, broken := range []bool{false, true} {
		w.identify(l, data, broken)
	}
	return l, nil
}

func (w *jpegWalk) identify(l *Layout, data []byte, broken bool) {
	for i, s := range w.segs {
		if s.broken != broken {
			continue
		}
		p := s.payload(data)
		switch {
		case s.marker == markerAPP1 && w.exif < 0 && bytes.HasPrefix(p, jpegExifHeader):
			w.exif = i
			l.Meta[core.NSExif] = &Location{Off: s.off, Len: s.end - s.off, Prefix: jpegExifHeader, Data: p[len(jpegExifHeader):]}
		case s.marker == markerAPP1 && w.xmp < 0 && bytes.HasPrefix(p, jpegXMPHeader):
			w.xmp = i
			l.Meta[core.NSXMP] = &Location{Off: s.off, Len: s.end - s.off, Prefix: jpegXMPHeader, Data: p[len(jpegXMPHeader):]}
		case s.marker == markerAPP13 && w.app13 < 0 && bytes.HasPrefix(p, iptc.PhotoshopPrefix):
			w.app13 = i
			irb, err := iptc.ParseIRB(p[len(iptc.PhotoshopPrefix):])
			if err != nil {
				l.warn(core.NSIPTC, errors.Wrap(err, "jpeg: APP13"))
			}
			w.irb = irb
			if rec, ok := irb.Get(iptc.ResourceIPTC); ok {
				l.Meta[core.NSIPTC] = &Location{Off: s.off, Len: s.end - s.off, Prefix: iptc.PhotoshopPrefix, Data: rec}
			}
		}
	}
}

// resync returns the offset of the next plausible marker at or after from,
// or -1. Segments with a length must fit in data to count.
func resync(data []byte, from int) int {
	for i := from; i+1 < len(data); i++ {
		if data[i] != 0xFF {
			continue
		}
		m := data[i+1]
		switch {
		case m == markerSOS || m == markerEOI || m == markerTEM || (m >= 0xD0 && m <= 0xD7):
			return i
		case m >= 0xC0 && m != 0xFF && i+4 <= len(data):
			n := int(binary.BigEndian.Uint16(data[i+2:]))
			if n >= 2 && i+2+n <= len(data) {
				return i
			}
		}
	}
	return -1
}

// segmentNamespace attributes a broken segment to the namespace it would hold.
func segmentNamespace(marker byte, p []byte) core.Namespace {
	switch {
	case marker == markerAPP1 && bytes.HasPrefix(p, jpegExifHeader[:4]):
		return core.NSExif
	case marker == markerAPP1 && bytes.HasPrefix(p, jpegXMPHeader[:10]):
		return core.NSXMP
	case marker == markerAPP13:
		return core.NSIPTC
	}
	return ""
}

func (jpegParser) Rewrite(data []byte, l *Layout, edits Edits) ([]byte, error) {
	if err := checkEdits(core.FmtJPEG, edits); err != nil {
		return nil, err
	}
	w, ok := l.priv.(*jpegWalk)
	if !ok {
		return nil, errors.New("jpeg: layout was not produced by the jpeg parser")
	}
	replace := make(map[int][]byte)
	drop := make(map[int]bool)
	inserts := make(map[int][][]byte)

	exifAt := 0
	if len(w.segs) > 0 && w.segs[0].marker == markerAPP0 && bytes.HasPrefix(w.segs[0].payload(data), jfifHeader) {
		exifAt = 1
	}
	xmpAt := exifAt
	if w.exif >= 0 {
		xmpAt = w.exif + 1
	}
	iptcAt := 0
	for iptcAt < len(w.segs) && w.segs[iptcAt].marker >= markerAPP0 && w.segs[iptcAt].marker <= markerAPP15 {
		iptcAt++
	}

	place := func(idx, at int, seg []byte, remove bool) {
		switch {
		case remove && idx >= 0:
			drop[idx] = true
		case remove:
		case idx >= 0:
			replace[idx] = seg
		default:
			inserts[at] = append(inserts[at], seg)
		}
	}

	if e, ok := edits[core.NSExif]; ok {
		var seg []byte
		if !e.Remove {
			var err error
			if seg, err = appSegment(markerAPP1, jpegExifHeader, e.Data); err != nil {
				return nil, err
			}
		}
		place(w.exif, exifAt, seg, e.Remove)
	}
	if e, ok := edits[core.NSXMP]; ok {
		var seg []byte
		if !e.Remove {
			var err error
			if seg, err = appSegment(markerAPP1, jpegXMPHeader, e.Data); err != nil {
				return nil, err
			}
		}
		place(w.xmp, xmpAt, seg, e.Remove)
	}
	if e, ok := edits[core.NSIPTC]; ok {
		irb := &iptc.IRB{}
		if w.irb != nil {
			irb.Resources = append(irb.Resources, w.irb.Resources...)
			irb.Trailer = w.irb.Trailer
		}
		if e.Remove {
			irb.Delete(iptc.ResourceIPTC)
		} else {
			irb.Set(iptc.ResourceIPTC, e.Data)
		}
		empty := irb.Len() == 0 && len(irb.Trailer) == 0
		var seg []byte
		if !empty {
			var err error
			if seg, err = appSegment(markerAPP13, iptc.PhotoshopPrefix, irb.Encode()); err != nil {
				return nil, err
			}
		}
		place(w.app13, iptcAt, seg, empty)
	}

	out := make([]byte, 0, len(data)+1024)
	out = append(out, data[:2]...)
	for i, s := range w.segs {
		for _, seg := range inserts[i] {
			out = append(out, seg...)
		}
		if drop[i] {
			continue
		}
		if r, ok := replace[i]; ok {
			out = append(out, r...)
			continue
		}
		out = append(out, data[s.off:s.end]...)
	}
	for _, seg := range inserts[len(w.segs)] {
		out = append(out, seg...)
	}
	return append(out, data[w.tail:]...), nil
}

// appSegment frames prefix+payload as an APPn segment.
func appSegment(marker byte, prefix, payload []byte) ([]byte, error) {
	n := 2 + len(prefix) + len(payload)
	if n > maxSegmentLen {
		return nil, errors.Wrapf(core.ErrUnsupportedValue, "jpeg: APP%d payload of %d bytes exceeds one segment", marker-markerAPP0, n)
	}
	seg := make([]byte, 0, 2+n)
	seg = append(seg, 0xFF, marker, byte(n>>8), byte(n))
	seg = append(seg, prefix...)
	return append(seg, payload...), nil
}
