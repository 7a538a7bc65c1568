package preset

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ankit-chaubey/metastrip/core"
)

// Builtins returns the presets that ship with metastrip.
func Builtins() []*Preset {
	return []*Preset{
		{
			Name:        "Strip All",
			Description: "Remove every metadata tag",
			StripAll:    true,
			Builtin:     true,
		},
		{
			Name:             "Privacy Clean",
			Description:      "Remove GPS, serial numbers, and software tags",
			StripGPS:         true,
			RemoveCategories: []string{"Location", "Software"},
			RemoveTags:       []string{"Exif.Photo.BodySerialNumber", "Exif.Image.CameraSerialNumber"},
			Builtin:          true,
		},
		{
			Name:        "Social Media",
			Description: "Keep orientation and display dimensions while stripping identifying data",
			KeepTags: []string{
				"Exif.Image.Orientation",
				"Exif.Photo.PixelXDimension",
				"Exif.Photo.PixelYDimension",
				"Exif.Photo.ColorSpace",
			},
			Builtin: true,
		},
		{
			Name:             "GPS Only",
			Description:      "Remove only location metadata",
			StripGPS:         true,
			RemoveCategories: []string{"Location"},
			Builtin:          true,
		},
		{
			Name:             "Keep Basics",
			Description:      "Keep camera, capture, datetime, and image tags",
			RemoveCategories: []string{"Location", "Description", "Software", "Other"},
			Builtin:          true,
		},
		{
			Name:        "Copyright Stamp",
			Description: "Strip all tags then set the copyright field",
			StripAll:    true,
			SetTags:     map[string]string{"Exif.Image.Copyright": UserValue},
			Builtin:     true,
		},
	}
}

// ByName finds a preset case-insensitively. Spaces, dashes and underscores
// are interchangeable, so "privacy-clean" finds "Privacy Clean".
func ByName(presets []*Preset, name string) (*Preset, bool) {
	want := fold(name)
	for _, p := range presets {
		if fold(p.Name) == want {
			return p, true
		}
	}
	return nil, false
}

func fold(s string) string {
	return strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToLower(strings.TrimSpace(s)))
}

type file struct {
	Presets []*Preset `yaml:"presets"`
}

// LoadFile reads a YAML preset file and merges it over the built-ins: a
// preset with a built-in's name replaces it, others are appended.
func LoadFile(path string) ([]*Preset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(core.ErrIO, "read presets %s: %v", path, err)
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrapf(core.ErrUnsupportedValue, "parse presets %s: %v", path, err)
	}
	return Merge(Builtins(), f.Presets)
}

// Merge overlays extra on base by name.
func Merge(base, extra []*Preset) ([]*Preset, error) {
	out := append([]*Preset(nil), base...)
	for _, p := range extra {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		replaced := false
		for i, cur := range out {
			if fold(cur.Name) == fold(p.Name) {
				out[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, p)
		}
	}
	return out, nil
}

// SaveFile writes presets as YAML.
func SaveFile(path string, presets []*Preset) error {
	raw, err := yaml.Marshal(file{Presets: presets})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(core.ErrIO, "write presets %s: %v", path, err)
	}
	return nil
}
