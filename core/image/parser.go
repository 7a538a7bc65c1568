// Package image locates and rewrites metadata inside image containers:
// JPEG, PNG, TIFF, WebP, HEIC/HEIF/AVIF and JPEG XL. Parsers never decode
// pixels; every byte outside the metadata they replace is copied as found.
package image

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/exif"
)

// ──────────────────────────────────────────────────────────────────────────────
// Layout
// ──────────────────────────────────────────────────────────────────────────────

// Location is where one namespace lives in a file.
type Location struct {
	Off, Len int    // structural span: segment, chunk, box or item extent
	Prefix   []byte // container bytes kept in front of the payload ("Exif\0\0", offset words)
	Data     []byte // the payload: a TIFF stream, an XMP packet or an IIM record
}

// Span is a byte range of image data.
type Span struct {
	Off, Len int64
}

// Layout is the result of walking a container.
type Layout struct {
	Format    core.FormatID
	Meta      map[core.Namespace]*Location
	ImageData []Span
	Warnings  []core.Warning

	priv any // format-private walk result consumed by Rewrite
}

func newLayout(f core.FormatID) *Layout {
	return &Layout{Format: f, Meta: make(map[core.Namespace]*Location)}
}

func (l *Layout) warn(ns core.Namespace, err error) {
	l.Warnings = append(l.Warnings, core.Warning{Namespace: ns, Err: err})
}

// Has reports whether the namespace was found.
func (l *Layout) Has(ns core.Namespace) bool {
	_, ok := l.Meta[ns]
	return ok
}

// Edit is the new state of one namespace. An absent namespace in Edits is
// copied verbatim.
type Edit struct {
	Remove bool
	Data   []byte      // encoded payload without container prefix
	Block  *exif.Block // the edited block; TIFF files encode it themselves
}

// Edits maps namespaces to their replacement.
type Edits map[core.Namespace]Edit

// Parser walks and rewrites one container format.
type Parser interface {
	// Locate finds the metadata payloads. It fails only when the container
	// envelope is unusable; problems inside a namespace become warnings.
	Locate(data []byte) (*Layout, error)
	// Rewrite applies edits to data, which must be the bytes l was located from.
	Rewrite(data []byte, l *Layout, edits Edits) ([]byte, error)
}

// For returns the parser for a detected format.
func For(f core.FormatID) (Parser, error) {
	switch f {
	case core.FmtJPEG:
		return jpegParser{}, nil
	case core.FmtPNG:
		return pngParser{}, nil
	case core.FmtTIFF:
		return tiffParser{}, nil
	case core.FmtWebP:
		return webpParser{}, nil
	case core.FmtHEIC, core.FmtHEIF, core.FmtAVIF:
		return isobmffParser{format: f}, nil
	case core.FmtJXL:
		return jxlParser{}, nil
	}
	return nil, errors.Wrapf(core.ErrUnknownFormat, "no parser for %q", f)
}

// Locate detects the format of data and walks it.
func Locate(data []byte) (*Layout, error) {
	p, err := For(core.DetectBytes(data))
	if err != nil {
		return nil, err
	}
	return p.Locate(data)
}

// Digest hashes the image data spans with BLAKE2b-256. Two files whose
// digests match carry identical image payloads.
func Digest(data []byte, spans []Span) ([32]byte, error) {
	var sum [32]byte
	h, err := blake2b.New256(nil)
	if err != nil {
		return sum, err
	}
	for _, s := range spans {
		if s.Off < 0 || s.Len < 0 || s.Off+s.Len > int64(len(data)) {
			return sum, errors.Wrapf(core.ErrMalformedContainer, "image span %d+%d outside %d bytes", s.Off, s.Len, len(data))
		}
		h.Write(data[s.Off : s.Off+s.Len])
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// checkEdits rejects namespaces a format cannot store.
func checkEdits(f core.FormatID, edits Edits) error {
	for ns, e := range edits {
		if e.Remove {
			continue
		}
		if !core.CanWrite(f, ns) {
			return errors.Wrapf(core.ErrUnsupportedValue, "%s cannot store %s metadata", f, ns)
		}
	}
	return nil
}

func cloneBytes(b []byte) []byte { return append([]byte(nil), b...) }
