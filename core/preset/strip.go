package preset

import (
	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/document"
)

// FromStripOptions turns command-line strip options into an unnamed preset.
// Options with nothing selected strip everything.
func FromStripOptions(opts core.StripOptions) *Preset {
	p := &Preset{
		Name:           "strip",
		StripAll:       opts.StripAll,
		StripGPS:       opts.StripGPS,
		StripThumbnail: opts.StripThumbnail,
		KeepTags:       opts.KeepFields,
	}
	for _, ns := range opts.Namespaces {
		switch ns {
		case core.NSExif:
			p.StripExif = true
		case core.NSIPTC:
			p.StripIPTC = true
		case core.NSXMP:
			p.StripXMP = true
		}
	}
	if !p.StripGPS && !p.StripThumbnail && !p.StripExif && !p.StripIPTC && !p.StripXMP && len(p.KeepTags) == 0 {
		p.StripAll = true
	}
	return p
}

// Strip removes metadata from path, saving to outPath ("" for in place).
func Strip(path, outPath string, opts core.StripOptions) error {
	d, err := document.Load(path)
	if err != nil {
		return err
	}
	if err := FromStripOptions(opts).Apply(d, ""); err != nil {
		return err
	}
	return d.Save(core.ResolveOutPath(path, outPath))
}
