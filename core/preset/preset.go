// Package preset describes reusable metadata clean-up rules and applies them
// to documents.
package preset

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/document"
	"github.com/ankit-chaubey/metastrip/core/exif"
	"github.com/ankit-chaubey/metastrip/core/iptc"
)

// UserValue is replaced in SetTags values by the value given to Apply.
const UserValue = "{user_value}"

// Preset is a named set of rules. Rules run in field order: namespace
// strips, GPS, thumbnail, categories, single tags, the keep list, and
// finally SetTags.
type Preset struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	StripAll       bool `yaml:"strip_all,omitempty"`
	StripExif      bool `yaml:"strip_exif,omitempty"`
	StripIPTC      bool `yaml:"strip_iptc,omitempty"`
	StripXMP       bool `yaml:"strip_xmp,omitempty"`
	StripGPS       bool `yaml:"strip_gps,omitempty"`
	StripThumbnail bool `yaml:"strip_thumbnail,omitempty"`

	// RemoveTags are tag keys in any namespace ("Exif.Photo.BodySerialNumber",
	// "Iptc.Application2.City", "Xmp.dc.creator").
	RemoveTags []string `yaml:"remove_tags,omitempty"`
	// RemoveCategories are EXIF categories ("Location", "Software").
	RemoveCategories []string `yaml:"remove_categories,omitempty"`
	// KeepTags, when set, removes every tag not named here. Entries are tag
	// keys or EXIF category names.
	KeepTags []string `yaml:"keep_tags,omitempty"`
	// SetTags maps tag keys to values, which may contain UserValue.
	SetTags map[string]string `yaml:"set_tags,omitempty"`

	Builtin bool `yaml:"-"`
}

// NeedsValue reports whether Apply needs a user value.
func (p *Preset) NeedsValue() bool {
	for _, v := range p.SetTags {
		if strings.Contains(v, UserValue) {
			return true
		}
	}
	return false
}

// Validate checks that every category and key the preset names exists.
func (p *Preset) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.Wrap(core.ErrUnsupportedValue, "preset without a name")
	}
	for _, c := range p.RemoveCategories {
		if _, ok := exif.ParseCategory(c); !ok {
			return errors.Wrapf(core.ErrUnsupportedValue, "preset %q: unknown category %q", p.Name, c)
		}
	}
	for _, k := range p.KeepTags {
		if _, ok := exif.ParseCategory(k); ok {
			continue
		}
		if !knownKey(k) {
			return errors.Wrapf(core.ErrUnsupportedValue, "preset %q: unknown tag %q", p.Name, k)
		}
	}
	for k := range p.SetTags {
		if !knownKey(k) {
			return errors.Wrapf(core.ErrUnsupportedValue, "preset %q: unknown tag %q", p.Name, k)
		}
	}
	return nil
}

func knownKey(k string) bool {
	switch document.KeyNamespace(k) {
	case core.NSExif:
		_, ok := exif.LookupName(k)
		return ok
	case core.NSIPTC:
		_, ok := iptc.LookupName(k)
		return ok
	}
	return strings.ContainsAny(k, ".:")
}

// Apply runs the preset against d. userValue fills UserValue placeholders.
// Apply only changes d in memory; the caller saves it.
func (p *Preset) Apply(d *document.Document, userValue string) error {
	if p.NeedsValue() && userValue == "" {
		return errors.Wrapf(core.ErrUnsupportedValue, "preset %q needs a value", p.Name)
	}
	for _, ns := range core.Namespaces {
		if p.StripAll || p.strips(ns) {
			d.RemoveNamespace(ns)
		}
	}
	if p.StripGPS {
		if _, err := d.RemoveGPS(); err != nil {
			return err
		}
	}
	if p.StripThumbnail {
		d.RemoveThumbnail()
	}
	if err := p.removeCategories(d); err != nil {
		return err
	}
	for _, k := range p.RemoveTags {
		d.Remove(document.KeyNamespace(k), k)
	}
	if len(p.KeepTags) > 0 {
		p.keepOnly(d)
	}

	keys := maps.Keys(p.SetTags)
	slices.Sort(keys)
	for _, k := range keys {
		v := strings.ReplaceAll(p.SetTags[k], UserValue, userValue)
		if err := d.SetText(document.KeyNamespace(k), k, v); err != nil {
			return errors.Wrapf(err, "preset %q: set %s", p.Name, k)
		}
	}
	return nil
}

func (p *Preset) strips(ns core.Namespace) bool {
	switch ns {
	case core.NSExif:
		return p.StripExif
	case core.NSIPTC:
		return p.StripIPTC
	case core.NSXMP:
		return p.StripXMP
	}
	return false
}

func (p *Preset) removeCategories(d *document.Document) error {
	cats := make(map[exif.Category]bool)
	for _, c := range p.RemoveCategories {
		cat, ok := exif.ParseCategory(c)
		if !ok {
			return errors.Wrapf(core.ErrUnsupportedValue, "preset %q: unknown category %q", p.Name, c)
		}
		cats[cat] = true
	}
	if len(cats) == 0 {
		return nil
	}
	if blk := d.Exif(); blk != nil {
		for _, k := range blk.Keys() {
			if cats[exif.CategoryOf(k)] && !describesImage(d, k) {
				blk.Delete(k)
			}
		}
	}
	if cats[exif.CatLocation] && d.XMP() != nil {
		if _, err := d.XMP().RemoveGPS(); err != nil {
			return err
		}
	}
	return nil
}

// keepOnly drops every EXIF tag and IPTC dataset the keep list does not
// name. XMP is dropped whole unless the list names an XMP property.
func (p *Preset) keepOnly(d *document.Document) {
	keepKeys := make(map[exif.Key]bool)
	keepCats := make(map[exif.Category]bool)
	keepIPTC := make(map[iptc.Key]bool)
	keepXMP := false
	for _, s := range p.KeepTags {
		if c, ok := exif.ParseCategory(s); ok {
			keepCats[c] = true
			continue
		}
		switch document.KeyNamespace(s) {
		case core.NSExif:
			if k, ok := exif.LookupName(s); ok {
				keepKeys[k] = true
			}
		case core.NSIPTC:
			if k, ok := iptc.LookupName(s); ok {
				keepIPTC[k] = true
			}
		case core.NSXMP:
			keepXMP = true
		}
	}

	if blk := d.Exif(); blk != nil {
		thumb := false
		for _, k := range blk.Keys() {
			if keepKeys[k] || keepCats[exif.CategoryOf(k)] {
				thumb = thumb || k.IFD == exif.IFDThumbnail
				continue
			}
			if k.IFD == exif.IFDThumbnail || describesImage(d, k) {
				continue
			}
			blk.Delete(k)
		}
		if !thumb && d.Format() != core.FmtTIFF {
			blk.RemoveThumbnail()
		}
	}
	if rec := d.IPTC(); rec != nil {
		if len(keepIPTC) == 0 {
			d.RemoveNamespace(core.NSIPTC)
		} else {
			for _, ds := range slices.Clone(rec.Datasets) {
				k := iptc.Key{Record: ds.Record, ID: ds.ID}
				if !keepIPTC[k] && !(k.Record == iptc.RecordEnvelope && k.ID == 90) {
					rec.Remove(k.Record, k.ID)
				}
			}
		}
	}
	if d.XMP() != nil && !keepXMP {
		d.RemoveNamespace(core.NSXMP)
	}
}

// describesImage reports whether k is part of the image structure of a TIFF
// file, which a preset must never remove.
func describesImage(d *document.Document, k exif.Key) bool {
	if d.Format() != core.FmtTIFF {
		return false
	}
	if k.IFD == exif.IFDThumbnail {
		return true
	}
	if k.IFD != exif.IFDPrimary {
		return false
	}
	switch exif.CategoryOf(k) {
	case exif.CatImage, exif.CatOther:
		return true
	}
	return false
}
