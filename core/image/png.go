package image

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"

	"github.com/ankit-chaubey/metastrip/core"
)

// ─── PNG ─────────────────────────────────────────────────────────────────────

const pngXMPKeyword = "XML:com.adobe.xmp"

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

type pngChunk struct {
	typ  string
	off  int // start of the length field
	data []byte
	end  int // one past the CRC
}

type pngWalk struct {
	chunks []pngChunk
	tail   int
	exif   int
	xmp    int
	// iTXt fields of the XMP chunk, reused when it is rewritten
	lang, transKey []byte
}

type pngParser struct{}

func (pngParser) Locate(data []byte) (*Layout, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, errors.Wrap(core.ErrMalformedContainer, "png: bad signature")
	}
	l := newLayout(core.FmtPNG)
	w := &pngWalk{tail: len(data), exif: -1, xmp: -1}
	l.priv = w

	pos := len(pngSignature)
	for pos < len(data) {
		if pos+12 > len(data) {
			l.warn("", errors.Wrapf(core.ErrMalformedContainer, "png: %d trailing bytes at %d", len(data)-pos, pos))
			w.tail = pos
			break
		}
		n := binary.BigEndian.Uint32(data[pos:])
		typ := string(data[pos+4 : pos+8])
		if uint64(pos)+12+uint64(n) > uint64(len(data)) {
			l.warn(chunkNamespace(typ), errors.Wrapf(core.ErrMalformedContainer, "png: chunk %q at %d declares %d bytes", typ, pos, n))
			w.tail = pos
			break
		}
		c := pngChunk{typ: typ, off: pos, data: data[pos+8 : pos+8+int(n)], end: pos + 12 + int(n)}
		want := binary.BigEndian.Uint32(data[c.end-4:])
		if got := pngCRC(typ, c.data); got != want && chunkNamespace(typ) != "" {
			l.warn(chunkNamespace(typ), errors.Wrapf(core.ErrMalformedMetadata, "png: chunk %q CRC %08x, computed %08x", typ, want, got))
		}
		w.chunks = append(w.chunks, c)
		pos = c.end
		if typ == "IEND" {
			w.tail = pos
			break
		}
	}

	for i, c := range w.chunks {
		switch c.typ {
		case "IDAT":
			l.ImageData = append(l.ImageData, Span{Off: int64(c.off + 8), Len: int64(len(c.data))})
		case "eXIf":
			if w.exif >= 0 {
				continue
			}
			w.exif = i
			loc := &Location{Off: c.off, Len: c.end - c.off, Data: c.data}
			if bytes.HasPrefix(c.data, jpegExifHeader) {
				loc.Prefix, loc.Data = jpegExifHeader, c.data[len(jpegExifHeader):]
			}
			l.Meta[core.NSExif] = loc
		case "iTXt", "tEXt", "zTXt":
			if w.xmp >= 0 {
				continue
			}
			text, lang, trans, isXMP, err := readTextChunk(c)
			if !isXMP {
				continue
			}
			if err != nil {
				l.warn(core.NSXMP, err)
				continue
			}
			w.xmp, w.lang, w.transKey = i, lang, trans
			l.Meta[core.NSXMP] = &Location{Off: c.off, Len: c.end - c.off, Data: text}
		}
	}
	return l, nil
}

func chunkNamespace(typ string) core.Namespace {
	switch typ {
	case "eXIf":
		return core.NSExif
	case "iTXt", "tEXt", "zTXt":
		return core.NSXMP
	}
	return ""
}

// readTextChunk returns the text of an XMP text chunk. Other keywords report
// isXMP false.
func readTextChunk(c pngChunk) (text, lang, trans []byte, isXMP bool, err error) {
	key, rest, ok := bytes.Cut(c.data, []byte{0})
	if !ok || string(key) != pngXMPKeyword {
		return nil, nil, nil, false, nil
	}
	switch c.typ {
	case "tEXt":
		return rest, nil, nil, true, nil
	case "zTXt":
		if len(rest) < 1 {
			return nil, nil, nil, true, errors.Wrap(core.ErrMalformedMetadata, "png: empty zTXt")
		}
		text, err = inflate(rest[1:])
		return text, nil, nil, true, err
	}
	if len(rest) < 2 {
		return nil, nil, nil, true, errors.Wrap(core.ErrMalformedMetadata, "png: short iTXt")
	}
	compressed := rest[0] == 1
	rest = rest[2:]
	if lang, rest, ok = bytes.Cut(rest, []byte{0}); !ok {
		return nil, nil, nil, true, errors.Wrap(core.ErrMalformedMetadata, "png: iTXt language tag not terminated")
	}
	if trans, rest, ok = bytes.Cut(rest, []byte{0}); !ok {
		return nil, nil, nil, true, errors.Wrap(core.ErrMalformedMetadata, "png: iTXt keyword not terminated")
	}
	if compressed {
		text, err = inflate(rest)
		return text, lang, trans, true, err
	}
	return rest, lang, trans, true, nil
}

func inflate(b []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrapf(core.ErrMalformedMetadata, "png: zlib: %v", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrapf(core.ErrMalformedMetadata, "png: zlib: %v", err)
	}
	return out, nil
}

func (pngParser) Rewrite(data []byte, l *Layout, edits Edits) ([]byte, error) {
	if err := checkEdits(core.FmtPNG, edits); err != nil {
		return nil, err
	}
	w, ok := l.priv.(*pngWalk)
	if !ok {
		return nil, errors.New("png: layout was not produced by the png parser")
	}

	replace := make(map[int][]byte)
	drop := make(map[int]bool)
	var fresh [][]byte

	if e, ok := edits[core.NSExif]; ok {
		switch {
		case e.Remove && w.exif >= 0:
			drop[w.exif] = true
		case e.Remove:
		default:
			body := e.Data
			if loc := l.Meta[core.NSExif]; loc != nil && len(loc.Prefix) > 0 {
				body = append(cloneBytes(loc.Prefix), e.Data...)
			}
			c := pngChunkBytes("eXIf", body)
			if w.exif >= 0 {
				replace[w.exif] = c
			} else {
				fresh = append(fresh, c)
			}
		}
	}
	if e, ok := edits[core.NSXMP]; ok {
		switch {
		case e.Remove && w.xmp >= 0:
			drop[w.xmp] = true
		case e.Remove:
		default:
			var body []byte
			body = append(body, pngXMPKeyword...)
			body = append(body, 0, 0, 0)
			body = append(body, w.lang...)
			body = append(body, 0)
			body = append(body, w.transKey...)
			body = append(body, 0)
			body = append(body, e.Data...)
			c := pngChunkBytes("iTXt", body)
			if w.xmp >= 0 {
				replace[w.xmp] = c
			} else {
				fresh = append(fresh, c)
			}
		}
	}

	out := make([]byte, 0, len(data)+1024)
	out = append(out, pngSignature...)
	placed := false
	for i, c := range w.chunks {
		if !placed && (c.typ == "IDAT" || c.typ == "IEND") {
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
		out = append(out, data[c.off:c.end]...)
	}
	if !placed {
		for _, f := range fresh {
			out = append(out, f...)
		}
	}
	return append(out, data[w.tail:]...), nil
}

func pngChunkBytes(typ string, body []byte) []byte {
	c := make([]byte, 0, 12+len(body))
	c = binary.BigEndian.AppendUint32(c, uint32(len(body)))
	c = append(c, typ...)
	c = append(c, body...)
	return binary.BigEndian.AppendUint32(c, pngCRC(typ, body))
}

// pngCRC is the chunk CRC over type and data.
func pngCRC(typ string, data []byte) uint32 {
	h := crc32.NewIEEE()
	io.WriteString(h, typ)
	h.Write(data)
	return h.Sum32()
}
