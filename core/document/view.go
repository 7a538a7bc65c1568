package document

import (
	"fmt"
	"strings"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/exif"
	"github.com/ankit-chaubey/metastrip/core/image"
	"github.com/ankit-chaubey/metastrip/core/iptc"
)

// Dimensions returns the pixel size of the primary image, zero when unknown.
func (d *Document) Dimensions() (width, height int) {
	if d.layout == nil {
		return 0, 0
	}
	return image.Dimensions(d.data, d.layout)
}

// Fields lists every tag for display: EXIF by IFD, then IPTC datasets, then
// XMP properties.
func (d *Document) Fields() []core.MetaField {
	var out []core.MetaField
	if d.exif != nil {
		for _, k := range d.exif.Keys() {
			if d.format == core.FmtTIFF && k.IFD == exif.IFDPrimary && (k.Tag == exif.TagXMLPacket || k.Tag == exif.TagIPTCNAA) {
				continue
			}
			v, _ := d.exif.Get(k)
			_, opaque := v.(exif.Opaque)
			out = append(out, core.MetaField{
				Key:      k.String(),
				Value:    exif.Display(k, v),
				Category: string(exif.CategoryOf(k)),
				Editable: !opaque,
				Raw:      fmt.Sprintf("%s[%d]", v.Type(), v.Count()),
			})
		}
		if t := d.exif.Thumbnail(); len(t) > 0 {
			out = append(out, core.MetaField{
				Key:      "Exif.Thumbnail.JPEGData",
				Value:    fmt.Sprintf("%d bytes", len(t)),
				Category: string(exif.CatImage),
			})
		}
	}
	if d.iptc != nil {
		seen := make(map[iptc.Key]bool)
		for _, ds := range d.iptc.Datasets {
			k := iptc.Key{Record: ds.Record, ID: ds.ID}
			if seen[k] {
				continue
			}
			seen[k] = true
			if ds.Record != iptc.RecordApplication || ds.ID == 0 || ds.ID >= 200 {
				for _, raw := range d.iptc.Values(k.Record, k.ID) {
					out = append(out, core.MetaField{Key: k.String(), Value: fmt.Sprintf("%x", raw), Category: "IPTC"})
				}
				continue
			}
			for _, s := range d.iptc.Texts(k.Record, k.ID) {
				out = append(out, core.MetaField{Key: k.String(), Value: s, Category: "IPTC", Editable: true})
			}
		}
	}
	if d.xmp != nil {
		for _, p := range d.xmp.Properties() {
			out = append(out, core.MetaField{
				Key:      "Xmp." + strings.Replace(p.Name, ":", ".", 1),
				Value:    p.Value,
				Category: "XMP",
				Editable: true,
			})
		}
	}
	return out
}

// Metadata returns the display view of the document.
func (d *Document) Metadata() *core.Metadata {
	m := &core.Metadata{FilePath: d.path, Format: string(d.format), Fields: d.Fields()}
	if info, ok := core.Info(d.format); ok {
		m.Format = info.Name
	}
	m.Width, m.Height = d.Dimensions()
	for _, w := range d.warnings {
		m.Warnings = append(m.Warnings, w.String())
	}
	return m
}

// RawExif returns the EXIF stream as found in the file, or nil.
func (d *Document) RawExif() []byte {
	if d.layout == nil {
		return nil
	}
	if loc := d.layout.Meta[core.NSExif]; loc != nil {
		return loc.Data
	}
	return nil
}
