package image

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ankit-chaubey/metastrip/core"
)

// ─── JPEG XL ─────────────────────────────────────────────────────────────────

var (
	jxlSignature = []byte{0, 0, 0, 0x0C, 'J', 'X', 'L', ' ', 0x0D, 0x0A, 0x87, 0x0A}
	jxlNaked     = []byte{0xFF, 0x0A}
	jxlFtyp      = []byte{0, 0, 0, 0x14, 'f', 't', 'y', 'p', 'j', 'x', 'l', ' ', 0, 0, 0, 0, 'j', 'x', 'l', ' '}
)

type jxlWalk struct {
	naked bool
	boxes []box
	tail  int
	exif  int
	xmp   int
	brob  map[core.Namespace][]int // Brotli-compressed metadata boxes
}

type jxlParser struct{}

func (jxlParser) Locate(data []byte) (*Layout, error) {
	l := newLayout(core.FmtJXL)
	w := &jxlWalk{exif: -1, xmp: -1, brob: make(map[core.Namespace][]int)}
	l.priv = w
	if bytes.HasPrefix(data, jxlNaked) {
		w.naked = true
		l.ImageData = []Span{{Off: 0, Len: int64(len(data))}}
		return l, nil
	}
	if !bytes.HasPrefix(data, jxlSignature) {
		return nil, errors.Wrap(core.ErrMalformedContainer, "jxl: missing signature box")
	}
	boxes, err := walkBoxes(data, 0, len(data))
	if err != nil {
		l.warn("", errors.Wrap(err, "jxl"))
	}
	w.boxes = boxes
	w.tail = boxes[len(boxes)-1].end

	for i, b := range boxes {
		p := b.payload(data)
		switch b.typ {
		case "jxlc", "jxlp", "jbrd":
			l.ImageData = append(l.ImageData, Span{Off: int64(b.off + b.hdr), Len: int64(len(p))})
		case "Exif":
			if w.exif >= 0 {
				continue
			}
			if len(p) < 4 {
				l.warn(core.NSExif, errors.Wrapf(core.ErrMalformedMetadata, "jxl: Exif box of %d bytes", len(p)))
				continue
			}
			skip := uint64(binary.BigEndian.Uint32(p))
			if skip > uint64(len(p)-4) {
				l.warn(core.NSExif, errors.Wrapf(core.ErrMalformedMetadata, "jxl: Exif header offset %d past box end", skip))
				continue
			}
			w.exif = i
			l.Meta[core.NSExif] = &Location{Off: b.off, Len: b.end - b.off, Prefix: p[:4+skip], Data: p[4+skip:]}
		case "xml ":
			if w.xmp < 0 {
				w.xmp = i
				l.Meta[core.NSXMP] = &Location{Off: b.off, Len: b.end - b.off, Data: p}
			}
		case "brob":
			if len(p) < 4 {
				continue
			}
			var ns core.Namespace
			switch string(p[:4]) {
			case "Exif":
				ns = core.NSExif
			case "xml ":
				ns = core.NSXMP
			default:
				continue
			}
			w.brob[ns] = append(w.brob[ns], i)
			l.warn(ns, errors.Wrapf(core.ErrUnsupportedValue, "jxl: Brotli-compressed %q box at %d is not decoded", p[:4], b.off))
		}
	}
	return l, nil
}

func (jxlParser) Rewrite(data []byte, l *Layout, edits Edits) ([]byte, error) {
	if err := checkEdits(core.FmtJXL, edits); err != nil {
		return nil, err
	}
	w, ok := l.priv.(*jxlWalk)
	if !ok {
		return nil, errors.New("jxl: layout was not produced by the jxl parser")
	}

	replace := make(map[int][]byte)
	drop := make(map[int]bool)
	var fresh [][]byte
	for _, ns := range []core.Namespace{core.NSExif, core.NSXMP} {
		e, ok := edits[ns]
		if !ok {
			continue
		}
		// a compressed copy would contradict the edit
		for _, i := range w.brob[ns] {
			drop[i] = true
		}
		idx, typ := w.exif, "Exif"
		if ns == core.NSXMP {
			idx, typ = w.xmp, "xml "
		}
		if e.Remove {
			if idx >= 0 {
				drop[idx] = true
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
		b := boxBytes(typ, payload)
		if idx >= 0 {
			replace[idx] = b
		} else {
			fresh = append(fresh, b)
		}
	}

	if w.naked {
		if len(fresh) == 0 {
			return cloneBytes(data), nil
		}
		out := make([]byte, 0, len(data)+1024)
		out = append(out, jxlSignature...)
		out = append(out, jxlFtyp...)
		for _, f := range fresh {
			out = append(out, f...)
		}
		return append(out, boxBytes("jxlc", data)...), nil
	}

	out := make([]byte, 0, len(data)+1024)
	placed := false
	for i, b := range w.boxes {
		if !placed && (b.typ == "jxlc" || b.typ == "jxlp") {
			for _, f := range fresh {
				out = append(out, f...)
			}
			placed = true
		}
		if drop[i] {
			continue
		}
		if r, ok := replace[i]; ok {
			out = append(out, r...)
			continue
		}
		out = append(out, data[b.off:b.end]...)
	}
	if !placed {
		for _, f := range fresh {
			out = append(out, f...)
		}
	}
	return append(out, data[w.tail:]...), nil
}
