package image

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/image/webp"

	"github.com/ankit-chaubey/metastrip/core"
)

// ─── WebP ────────────────────────────────────────────────────────────────────

const (
	vp8xFlagAlpha = 0x10
	vp8xFlagEXIF  = 0x08
	vp8xFlagXMP   = 0x04
)

type riffChunk struct {
	id   string
	off  int // start of the fourcc
	data []byte
	end  int // one past the pad byte, if any
}

type webpWalk struct {
	chunks  []riffChunk
	bodyEnd int // end of the RIFF body; later bytes are kept as trailer
	vp8x    int
	exif    int
	xmp     int
}

type webpParser struct{}

func (webpParser) Locate(data []byte) (*Layout, error) {
	if len(data) < 12 || string(data[:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil, errors.Wrap(core.ErrMalformedContainer, "webp: missing RIFF/WEBP header")
	}
	l := newLayout(core.FmtWebP)
	w := &webpWalk{vp8x: -1, exif: -1, xmp: -1}
	l.priv = w

	end := 8 + int64(binary.LittleEndian.Uint32(data[4:]))
	if end > int64(len(data)) {
		l.warn("", errors.Wrapf(core.ErrMalformedContainer, "webp: RIFF size %d exceeds %d-byte file", end-8, len(data)))
		end = int64(len(data))
	}
	w.bodyEnd = int(end)

	pos := 12
	for pos < w.bodyEnd {
		if pos+8 > w.bodyEnd {
			l.warn("", errors.Wrapf(core.ErrMalformedContainer, "webp: %d stray bytes at %d", w.bodyEnd-pos, pos))
			break
		}
		id := string(data[pos : pos+4])
		n := int64(binary.LittleEndian.Uint32(data[pos+4:]))
		if int64(pos)+8+n > int64(w.bodyEnd) {
			l.warn(riffNamespace(id), errors.Wrapf(core.ErrMalformedContainer, "webp: chunk %q at %d declares %d bytes", id, pos, n))
			break
		}
		c := riffChunk{id: id, off: pos, data: data[pos+8 : pos+8+int(n)], end: pos + 8 + int(n)}
		if n%2 == 1 && c.end < w.bodyEnd {
			c.end++
		}
		w.chunks = append(w.chunks, c)
		pos = c.end
	}
	// bytes the walk could not split stay where they are
	if pos < w.bodyEnd {
		w.chunks = append(w.chunks, riffChunk{id: "", off: pos, end: w.bodyEnd})
	}

	for i, c := range w.chunks {
		switch c.id {
		case "VP8X":
			if w.vp8x < 0 {
				w.vp8x = i
			}
		case "VP8 ", "VP8L", "ALPH", "ANIM", "ANMF":
			l.ImageData = append(l.ImageData, Span{Off: int64(c.off + 8), Len: int64(len(c.data))})
		case "EXIF":
			if w.exif >= 0 {
				continue
			}
			w.exif = i
			loc := &Location{Off: c.off, Len: c.end - c.off, Data: c.data}
			if bytes.HasPrefix(c.data, jpegExifHeader) {
				loc.Prefix, loc.Data = jpegExifHeader, c.data[len(jpegExifHeader):]
			}
			l.Meta[core.NSExif] = loc
		case "XMP ":
			if w.xmp < 0 {
				w.xmp = i
				l.Meta[core.NSXMP] = &Location{Off: c.off, Len: c.end - c.off, Data: c.data}
			}
		}
	}
	return l, nil
}

func riffNamespace(id string) core.Namespace {
	switch id {
	case "EXIF":
		return core.NSExif
	case "XMP ":
		return core.NSXMP
	}
	return ""
}

func (webpParser) Rewrite(data []byte, l *Layout, edits Edits) ([]byte, error) {
	if err := checkEdits(core.FmtWebP, edits); err != nil {
		return nil, err
	}
	w, ok := l.priv.(*webpWalk)
	if !ok {
		return nil, errors.New("webp: layout was not produced by the webp parser")
	}

	replace := make(map[int][]byte)
	drop := make(map[int]bool)
	var fresh [][]byte
	hasEXIF, hasXMP := w.exif >= 0, w.xmp >= 0

	apply := func(ns core.Namespace, idx int, id string, has *bool) {
		e, ok := edits[ns]
		if !ok {
			return
		}
		if e.Remove {
			if idx >= 0 {
				drop[idx] = true
			}
			*has = false
			return
		}
		body := e.Data
		if loc := l.Meta[ns]; loc != nil && len(loc.Prefix) > 0 {
			body = append(cloneBytes(loc.Prefix), e.Data...)
		}
		c := riffChunkBytes(id, body)
		if idx >= 0 {
			replace[idx] = c
		} else {
			fresh = append(fresh, c)
		}
		*has = true
	}
	apply(core.NSExif, w.exif, "EXIF", &hasEXIF)
	apply(core.NSXMP, w.xmp, "XMP ", &hasXMP)

	var flags byte
	if hasEXIF {
		flags |= vp8xFlagEXIF
	}
	if hasXMP {
		flags |= vp8xFlagXMP
	}

	body := make([]byte, 0, len(data)+256)
	body = append(body, "WEBP"...)
	if w.vp8x < 0 && flags != 0 {
		x, err := synthesizeVP8X(data, w, flags)
		if err != nil {
			return nil, err
		}
		body = append(body, x...)
	}
	for i, c := range w.chunks {
		switch {
		case drop[i]:
		case replace[i] != nil:
			body = append(body, replace[i]...)
		case i == w.vp8x && len(c.data) >= 1:
			chunk := cloneBytes(data[c.off:c.end])
			chunk[8] = chunk[8]&^(vp8xFlagEXIF|vp8xFlagXMP) | flags
			body = append(body, chunk...)
		default:
			body = append(body, data[c.off:c.end]...)
		}
	}
	for _, f := range fresh {
		body = append(body, f...)
	}
	if uint64(len(body)) > 0xFFFFFFFF {
		return nil, errors.Wrap(core.ErrUnsupportedValue, "webp: RIFF body exceeds 4 GiB")
	}

	out := make([]byte, 0, 8+len(body)+len(data)-w.bodyEnd)
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, body...)
	return append(out, data[w.bodyEnd:]...), nil
}

func riffChunkBytes(id string, body []byte) []byte {
	c := make([]byte, 0, 9+len(body))
	c = append(c, id...)
	c = binary.LittleEndian.AppendUint32(c, uint32(len(body)))
	c = append(c, body...)
	if len(body)%2 == 1 {
		c = append(c, 0)
	}
	return c
}

// synthesizeVP8X builds the extended header a simple VP8/VP8L file needs
// before it can carry metadata chunks.
func synthesizeVP8X(data []byte, w *webpWalk, flags byte) ([]byte, error) {
	cfg, err := webp.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(core.ErrMalformedContainer, "webp: reading canvas size: %v", err)
	}
	if cfg.Width < 1 || cfg.Height < 1 || cfg.Width > 1<<24 || cfg.Height > 1<<24 {
		return nil, errors.Wrapf(core.ErrMalformedContainer, "webp: canvas %dx%d", cfg.Width, cfg.Height)
	}
	for _, c := range w.chunks {
		if c.id == "ALPH" {
			flags |= vp8xFlagAlpha
		}
		// VP8L header: signature byte, then 14+14 bits of size and the alpha hint
		if c.id == "VP8L" && len(c.data) >= 5 && binary.LittleEndian.Uint32(c.data[1:])>>28&1 == 1 {
			flags |= vp8xFlagAlpha
		}
	}
	x := make([]byte, 10)
	x[0] = flags
	put24(x[4:], uint32(cfg.Width-1))
	put24(x[7:], uint32(cfg.Height-1))
	return riffChunkBytes("VP8X", x), nil
}

func put24(b []byte, v uint32) {
	b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
}
