// Package core defines the shared types, error taxonomy, and format registry
// for metastrip.
package core

import (
	"errors"
	"fmt"
	"strings"
)

// Namespace identifies one metadata standard embedded in an image.
type Namespace string

const (
	NSExif Namespace = "exif"
	NSIPTC Namespace = "iptc"
	NSXMP  Namespace = "xmp"
)

// Namespaces lists every namespace in display order.
var Namespaces = []Namespace{NSExif, NSIPTC, NSXMP}

// ParseNamespace maps a user supplied name ("EXIF", "xmp", ...) to a Namespace.
func ParseNamespace(s string) (Namespace, bool) {
	switch Namespace(strings.ToLower(strings.TrimSpace(s))) {
	case NSExif:
		return NSExif, true
	case NSIPTC:
		return NSIPTC, true
	case NSXMP:
		return NSXMP, true
	}
	return "", false
}

// Error taxonomy. Callers test with errors.Is.
var (
	// ErrUnknownFormat means the header matched no supported container.
	ErrUnknownFormat = errors.New("unknown format")
	// ErrMalformedContainer means a structural walk hit an inconsistent length or offset.
	ErrMalformedContainer = errors.New("malformed container")
	// ErrMalformedMetadata means a metadata block could not be decoded.
	ErrMalformedMetadata = errors.New("malformed metadata")
	// ErrUnsupportedValue means a value cannot be interpreted or written.
	ErrUnsupportedValue = errors.New("unsupported value")
	// ErrIO wraps file read and write failures.
	ErrIO = errors.New("io error")
)

// Warning is a recoverable problem found while reading one namespace.
type Warning struct {
	Namespace Namespace // empty when the problem is container-wide
	Err       error
}

func (w Warning) String() string {
	if w.Namespace == "" {
		return w.Err.Error()
	}
	return fmt.Sprintf("%s: %v", w.Namespace, w.Err)
}

// MetaField represents a single metadata key-value pair.
type MetaField struct {
	Key      string // Canonical field name (e.g. "Exif.Image.Make", "iptc:Keywords")
	Value    string // String representation of the value
	Category string // Category label (e.g. "Camera", "Location", "XMP")
	Editable bool   // Whether the field can be written back
	Raw      string // Raw / hex representation if different from Value
}

// Metadata holds all metadata extracted from a single file.
type Metadata struct {
	FilePath string
	Format   string // Human-readable format name (e.g. "JPEG", "HEIC")
	Width    int
	Height   int
	Fields   []MetaField
	Warnings []string
}

// Summary returns a short string of key fields for quick display.
func (m *Metadata) Summary() string {
	for _, f := range m.Fields {
		if f.Key == "Exif.Image.Model" || f.Key == "Exif.Image.Make" {
			return f.Key + ": " + f.Value
		}
	}
	return m.Format
}

// FormatInfo describes what the container support for one format can do.
type FormatInfo struct {
	ID         FormatID
	Name       string   // "JPEG"
	Extensions []string // [".jpg", ".jpeg"]
	MIMETypes  []string
	Read       []Namespace
	Write      []Namespace
	Notes      string
}

// StripOptions controls which parts of metadata to remove.
type StripOptions struct {
	// KeepFields lists field keys that should NOT be removed.
	// If empty with nothing else set, all metadata is stripped.
	KeepFields []string
	// StripGPS removes GPS coordinates only (for privacy).
	StripGPS bool
	// StripAll removes every namespace.
	StripAll bool
	// StripThumbnail removes the embedded EXIF preview.
	StripThumbnail bool
	// Namespaces removes whole namespaces.
	Namespaces []Namespace
}

// EditOptions holds field changes for an edit operation.
type EditOptions struct {
	// Set is a map of Key → Value for fields to set or update.
	Set map[string]string
	// Delete is a list of field keys to remove.
	Delete []string
	// DryRun previews changes without writing.
	DryRun bool
}
