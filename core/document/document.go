// Package document holds the editable metadata of one image file: its EXIF
// block, IPTC record and XMP packet, with dirty tracking and lossless save.
package document

import (
	"encoding/binary"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/exif"
	"github.com/ankit-chaubey/metastrip/core/image"
	"github.com/ankit-chaubey/metastrip/core/iptc"
	"github.com/ankit-chaubey/metastrip/core/xmp"
)

// Document is one loaded image. It is not safe for concurrent use.
type Document struct {
	// Verify re-decodes every encoded EXIF block before it is written.
	Verify bool

	path   string
	data   []byte
	format core.FormatID
	parser image.Parser
	layout *image.Layout
	broken error // why the container could not be walked

	exif *exif.Block
	iptc *iptc.Record
	xmp  *xmp.Packet

	base    map[core.Namespace]uint64 // revision at load or add
	added   map[core.Namespace]bool
	removed map[core.Namespace]bool

	warnings []core.Warning
}

// Load reads and parses path. Only read failures and unrecognised headers
// are errors; damaged metadata is reported through Warnings.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(core.ErrIO, "read %s: %v", path, err)
	}
	return Parse(path, data)
}

// Parse builds a document from file contents. path is kept for saving and
// display only.
func Parse(path string, data []byte) (*Document, error) {
	f := core.DetectBytes(data)
	if f == core.FmtUnknown {
		return nil, errors.Wrapf(core.ErrUnknownFormat, "%s", path)
	}
	p, err := image.For(f)
	if err != nil {
		return nil, err
	}
	d := &Document{
		Verify:  true,
		path:    path,
		data:    data,
		format:  f,
		parser:  p,
		base:    make(map[core.Namespace]uint64),
		added:   make(map[core.Namespace]bool),
		removed: make(map[core.Namespace]bool),
	}
	l, err := p.Locate(data)
	if err != nil {
		d.broken = err
		d.warn("", err)
		return d, nil
	}
	d.layout = l
	d.warnings = append(d.warnings, l.Warnings...)
	d.decode()
	return d, nil
}

func (d *Document) decode() {
	if loc := d.layout.Meta[core.NSExif]; loc != nil {
		var blk *exif.Block
		var err error
		if d.format == core.FmtTIFF {
			blk, err = exif.DecodeFile(loc.Data)
		} else {
			blk, err = exif.Decode(loc.Data)
		}
		d.warnAll(core.NSExif, err)
		if blk != nil {
			d.exif = blk
			d.base[core.NSExif] = blk.Rev()
		}
	}
	if loc := d.layout.Meta[core.NSIPTC]; loc != nil {
		rec, err := iptc.Decode(loc.Data)
		d.warnAll(core.NSIPTC, err)
		if rec != nil && rec.Len() > 0 {
			d.iptc = rec
			d.base[core.NSIPTC] = rec.Rev()
		}
	}
	if loc := d.layout.Meta[core.NSXMP]; loc != nil {
		pkt, err := xmp.Parse(loc.Data)
		d.warnAll(core.NSXMP, err)
		if pkt != nil {
			d.xmp = pkt
			d.base[core.NSXMP] = pkt.Rev()
		}
	}
}

func (d *Document) warn(ns core.Namespace, err error) {
	d.warnings = append(d.warnings, core.Warning{Namespace: ns, Err: err})
}

// warnAll flattens the partial-decode errors of one namespace.
func (d *Document) warnAll(ns core.Namespace, err error) {
	if err == nil {
		return
	}
	var me *multierror.Error
	if errors.As(err, &me) {
		for _, e := range me.Errors {
			d.warn(ns, e)
		}
		return
	}
	d.warn(ns, err)
}

// Path is the file the document was loaded from or last saved to.
func (d *Document) Path() string { return d.path }

// Format is the detected container format.
func (d *Document) Format() core.FormatID { return d.format }

// Warnings lists the problems met while loading.
func (d *Document) Warnings() []core.Warning { return d.warnings }

// Partial reports whether some metadata could not be read.
func (d *Document) Partial() bool {
	return len(d.warnings) > 0 || (d.exif != nil && d.exif.Partial())
}

// Exif returns the EXIF block, or nil when the file has none.
func (d *Document) Exif() *exif.Block { return d.exif }

// IPTC returns the IPTC record, or nil.
func (d *Document) IPTC() *iptc.Record { return d.iptc }

// XMP returns the XMP packet, or nil.
func (d *Document) XMP() *xmp.Packet { return d.xmp }

// Has reports whether a namespace is present.
func (d *Document) Has(ns core.Namespace) bool {
	switch ns {
	case core.NSExif:
		return d.exif != nil
	case core.NSIPTC:
		return d.iptc != nil
	case core.NSXMP:
		return d.xmp != nil
	}
	return false
}

func (d *Document) rev(ns core.Namespace) uint64 {
	switch ns {
	case core.NSExif:
		return d.exif.Rev()
	case core.NSIPTC:
		return d.iptc.Rev()
	case core.NSXMP:
		return d.xmp.Rev()
	}
	return 0
}

// dirty reports whether saving must rewrite ns.
func (d *Document) dirty(ns core.Namespace) bool {
	if !d.Has(ns) {
		return d.removed[ns] && d.layout != nil && d.layout.Has(ns)
	}
	return d.added[ns] || d.rev(ns) != d.base[ns]
}

// Dirty reports whether any namespace changed since load.
func (d *Document) Dirty() bool {
	return len(d.DirtyNamespaces()) > 0
}

// DirtyNamespaces lists the namespaces a save would rewrite.
func (d *Document) DirtyNamespaces() []core.Namespace {
	var out []core.Namespace
	for _, ns := range core.Namespaces {
		if d.dirty(ns) {
			out = append(out, ns)
		}
	}
	return out
}

// AddNamespace creates an empty block for ns. It is a no-op when the block
// exists and fails when the format cannot store ns.
func (d *Document) AddNamespace(ns core.Namespace) error {
	if d.Has(ns) {
		return nil
	}
	if !core.CanWrite(d.format, ns) {
		return errors.Wrapf(core.ErrUnsupportedValue, "%s cannot store %s metadata", d.format, ns)
	}
	switch ns {
	case core.NSExif:
		if d.format == core.FmtTIFF {
			return errors.Wrap(core.ErrMalformedContainer, "tiff: no primary IFD to extend")
		}
		d.exif = exif.NewBlock(binary.BigEndian)
	case core.NSIPTC:
		d.iptc = iptc.New()
	case core.NSXMP:
		d.xmp = xmp.New()
	default:
		return errors.Wrapf(core.ErrUnsupportedValue, "namespace %q", ns)
	}
	d.added[ns] = true
	d.removed[ns] = false
	d.base[ns] = d.rev(ns)
	return nil
}

// RemoveNamespace drops ns. In a TIFF file the primary IFD describes the
// image, so removing EXIF drops only the Exif, GPS and Interop directories.
func (d *Document) RemoveNamespace(ns core.Namespace) {
	if ns == core.NSExif && d.format == core.FmtTIFF && d.exif != nil {
		for _, ifd := range []exif.IFD{exif.IFDExif, exif.IFDGPS, exif.IFDInterop} {
			d.exif.DeleteIFD(ifd)
		}
		return
	}
	switch ns {
	case core.NSExif:
		d.exif = nil
	case core.NSIPTC:
		d.iptc = nil
	case core.NSXMP:
		d.xmp = nil
	}
	d.added[ns] = false
	d.removed[ns] = true
}

func (d *Document) ensure(ns core.Namespace) error {
	if d.Has(ns) {
		return nil
	}
	return d.AddNamespace(ns)
}

// ─── Tags ────────────────────────────────────────────────────────────────────

// Value is a tag value. EXIF tags carry a typed value; IPTC datasets and XMP
// properties carry text, one entry per repetition.
type Value struct {
	Exif exif.Value
	Text []string
}

// ExifValue wraps a typed EXIF value.
func ExifValue(v exif.Value) Value { return Value{Exif: v} }

// TextValue wraps one or more text values.
func TextValue(s ...string) Value { return Value{Text: s} }

func (v Value) String() string {
	if v.Exif != nil && len(v.Text) == 0 {
		return v.Exif.String()
	}
	return strings.Join(v.Text, "; ")
}

// KeyNamespace picks the namespace a tag key addresses: "Exif.", "Iptc." and
// "Xmp." prefixes, "2:25" for IPTC, "dc:title" for XMP, and EXIF otherwise.
func KeyNamespace(key string) core.Namespace {
	lower := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasPrefix(lower, "exif."):
		return core.NSExif
	case strings.HasPrefix(lower, "iptc."):
		return core.NSIPTC
	case strings.HasPrefix(lower, "xmp."):
		return core.NSXMP
	}
	if rec, id, ok := strings.Cut(lower, ":"); ok {
		if isDigits(rec) && isDigits(id) {
			return core.NSIPTC
		}
		return core.NSXMP
	}
	return core.NSExif
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func exifKey(tag string) (exif.Key, error) {
	k, ok := exif.LookupName(tag)
	if !ok {
		return exif.Key{}, errors.Wrapf(core.ErrUnsupportedValue, "unknown exif tag %q", tag)
	}
	return k, nil
}

func iptcKey(tag string) (iptc.Key, error) {
	k, ok := iptc.LookupName(tag)
	if !ok {
		return iptc.Key{}, errors.Wrapf(core.ErrUnsupportedValue, "unknown iptc dataset %q", tag)
	}
	return k, nil
}

// Get returns the value of tag in ns. EXIF values also carry their display
// text.
func (d *Document) Get(ns core.Namespace, tag string) (Value, bool) {
	switch ns {
	case core.NSExif:
		k, err := exifKey(tag)
		if err != nil || d.exif == nil {
			return Value{}, false
		}
		v, ok := d.exif.Get(k)
		if !ok {
			return Value{}, false
		}
		return Value{Exif: v, Text: []string{exif.Display(k, v)}}, true
	case core.NSIPTC:
		k, err := iptcKey(tag)
		if err != nil || d.iptc == nil {
			return Value{}, false
		}
		texts := d.iptc.Texts(k.Record, k.ID)
		if len(texts) == 0 {
			return Value{}, false
		}
		return TextValue(texts...), true
	case core.NSXMP:
		if d.xmp == nil {
			return Value{}, false
		}
		s, ok := d.xmp.Get(tag)
		if !ok {
			return Value{}, false
		}
		return TextValue(s), true
	}
	return Value{}, false
}

// Set stores v under tag, creating the namespace block when the file has
// none. An EXIF tag given as text is parsed into the tag's default type.
func (d *Document) Set(ns core.Namespace, tag string, v Value) error {
	switch ns {
	case core.NSExif:
		k, err := exifKey(tag)
		if err != nil {
			return err
		}
		ev := v.Exif
		if ev == nil {
			if ev, err = exif.ParseValue(k, strings.Join(v.Text, " ")); err != nil {
				return err
			}
		}
		if err := d.ensure(ns); err != nil {
			return err
		}
		return d.exif.Set(k, ev)
	case core.NSIPTC:
		k, err := iptcKey(tag)
		if err != nil {
			return err
		}
		texts := v.Text
		if len(texts) == 0 && v.Exif != nil {
			texts = []string{v.Exif.String()}
		}
		if len(texts) == 0 {
			return errors.Wrapf(core.ErrUnsupportedValue, "iptc %s: empty value", k)
		}
		if len(texts) > 1 && !k.Repeatable() {
			return errors.Wrapf(core.ErrUnsupportedValue, "iptc %s is not repeatable", k)
		}
		if err := d.ensure(ns); err != nil {
			return err
		}
		if err := d.iptc.SetText(k.Record, k.ID, texts[0]); err != nil {
			return err
		}
		for _, s := range texts[1:] {
			if err := d.iptc.AddText(k.Record, k.ID, s); err != nil {
				return err
			}
		}
		return nil
	case core.NSXMP:
		if len(v.Text) > 1 {
			return errors.Wrapf(core.ErrUnsupportedValue, "xmp %s: arrays are not written", tag)
		}
		s := v.String()
		if err := d.ensure(ns); err != nil {
			return err
		}
		return d.xmp.Set(tag, s)
	}
	return errors.Wrapf(core.ErrUnsupportedValue, "namespace %q", ns)
}

// SetText is Set with a text value.
func (d *Document) SetText(ns core.Namespace, tag, text string) error {
	return d.Set(ns, tag, TextValue(text))
}

// Remove deletes tag from ns and reports whether it was present.
func (d *Document) Remove(ns core.Namespace, tag string) bool {
	switch ns {
	case core.NSExif:
		k, err := exifKey(tag)
		if err != nil || d.exif == nil {
			return false
		}
		return d.exif.Delete(k)
	case core.NSIPTC:
		k, err := iptcKey(tag)
		if err != nil || d.iptc == nil {
			return false
		}
		return d.iptc.Remove(k.Record, k.ID) > 0
	case core.NSXMP:
		if d.xmp == nil {
			return false
		}
		ok, _ := d.xmp.Remove(tag)
		return ok
	}
	return false
}

// ─── GPS ─────────────────────────────────────────────────────────────────────

// GPS returns the position from EXIF, falling back to XMP.
func (d *Document) GPS() (lat, lon float64, ok bool) {
	if d.exif != nil {
		if lat, lon, ok = d.exif.LatLong(); ok {
			return lat, lon, true
		}
	}
	if d.xmp != nil {
		return d.xmp.GPS()
	}
	return 0, 0, false
}

// SetGPS writes the position to EXIF. An XMP packet that already carries a
// position is updated too so the two agree.
func (d *Document) SetGPS(lat, lon float64) error {
	if err := d.ensure(core.NSExif); err != nil {
		return err
	}
	if err := d.exif.SetLatLong(lat, lon); err != nil {
		return err
	}
	if d.xmp != nil && d.xmp.HasGPS() {
		return d.xmp.SetGPS(lat, lon)
	}
	return nil
}

// RemoveGPS drops the GPS IFD and the XMP position properties.
func (d *Document) RemoveGPS() (bool, error) {
	removed := false
	if d.exif != nil {
		removed = d.exif.RemoveGPS()
	}
	if d.xmp != nil {
		ok, err := d.xmp.RemoveGPS()
		if err != nil {
			return removed, err
		}
		removed = removed || ok
	}
	return removed, nil
}

// Altitude returns the GPS altitude in metres.
func (d *Document) Altitude() (float64, bool) {
	if d.exif == nil {
		return 0, false
	}
	return d.exif.Altitude()
}

// SetAltitude writes the GPS altitude in metres.
func (d *Document) SetAltitude(metres float64) error {
	if err := d.ensure(core.NSExif); err != nil {
		return err
	}
	return d.exif.SetAltitude(metres)
}

// RemoveThumbnail drops the EXIF thumbnail directory and its JPEG.
func (d *Document) RemoveThumbnail() bool {
	if d.exif == nil {
		return false
	}
	return d.exif.RemoveThumbnail()
}
