package preset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/document"
	"github.com/ankit-chaubey/metastrip/core/exif"
	"github.com/ankit-chaubey/metastrip/core/internal/testimg"
)

func load(t *testing.T, name string, data []byte) *document.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := document.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// applySaveReload runs p, saves in place and loads the result.
func applySaveReload(t *testing.T, p *Preset, d *document.Document, value string) *document.Document {
	t.Helper()
	if err := p.Apply(d, value); err != nil {
		t.Fatalf("Apply(%s): %v", p.Name, err)
	}
	if err := d.Save(""); err != nil {
		t.Fatalf("Save: %v", err)
	}
	back, err := document.Load(d.Path())
	if err != nil {
		t.Fatal(err)
	}
	return back
}

func builtin(t *testing.T, name string) *Preset {
	t.Helper()
	p, ok := ByName(Builtins(), name)
	if !ok {
		t.Fatalf("no preset %q", name)
	}
	return p
}

func exifKeys(d *document.Document) []string {
	var out []string
	if d.Exif() == nil {
		return nil
	}
	for _, k := range d.Exif().Keys() {
		out = append(out, k.String())
	}
	return out
}

func TestByName(t *testing.T) {
	for _, name := range []string{"Privacy Clean", "privacy clean", "PRIVACY-CLEAN", "privacy_clean"} {
		if p, ok := ByName(Builtins(), name); !ok || p.Name != "Privacy Clean" {
			t.Errorf("ByName(%q) = %v, %v", name, p, ok)
		}
	}
	if _, ok := ByName(Builtins(), "nope"); ok {
		t.Error("found a preset that does not exist")
	}
	for _, p := range Builtins() {
		if err := p.Validate(); err != nil {
			t.Errorf("built-in %q: %v", p.Name, err)
		}
	}
}

func TestStripGPSOnPNG(t *testing.T) {
	m := testimg.Full(t)
	m.IPTC = nil
	d := load(t, "a.png", testimg.PNG(t, m))
	xmpBefore := append([]byte(nil), d.XMP().Bytes()...)

	back := applySaveReload(t, &Preset{Name: "gps", StripGPS: true}, d, "")
	if back.Exif().HasIFD(exif.IFDGPS) {
		t.Error("GPS IFD survived")
	}
	if v, _ := back.Get(core.NSExif, "Model"); v.String() != "EOS R5" {
		t.Errorf("Model = %q", v)
	}
	if v, ok := back.Get(core.NSExif, "Exif.Photo.MakerNote"); !ok || !bytes.Equal(v.Exif.(exif.Undefined), testimg.MakerNote) {
		t.Error("MakerNote changed")
	}
	if !bytes.Equal(back.XMP().Bytes(), xmpBefore) {
		t.Error("XMP changed")
	}

	out, err := os.ReadFile(back.Path())
	if err != nil {
		t.Fatal(err)
	}
	for pos := 8; pos+12 <= len(out); {
		n := int(binary.BigEndian.Uint32(out[pos:]))
		typ := out[pos+4 : pos+8]
		want := binary.BigEndian.Uint32(out[pos+8+n:])
		if got := crc32.ChecksumIEEE(out[pos+4 : pos+8+n]); got != want {
			t.Errorf("chunk %s: stored CRC %08x, computed %08x", typ, want, got)
		}
		pos += 12 + n
	}
}

func TestPrivacyClean(t *testing.T) {
	d := load(t, "a.jpg", testimg.JPEG(t, testimg.Full(t)))
	if err := d.SetText(core.NSExif, "Software", "Firmware 1.0"); err != nil {
		t.Fatal(err)
	}
	if err := d.SetText(core.NSExif, "Exif.Photo.BodySerialNumber", "0123456"); err != nil {
		t.Fatal(err)
	}
	back := applySaveReload(t, builtin(t, "privacy clean"), d, "")
	for _, tag := range []string{"Software", "Exif.Photo.BodySerialNumber", "Exif.GPSInfo.GPSLatitude"} {
		if _, ok := back.Get(core.NSExif, tag); ok {
			t.Errorf("%s survived", tag)
		}
	}
	if _, ok := back.Get(core.NSExif, "Make"); !ok {
		t.Error("Make removed")
	}
	if !back.Has(core.NSIPTC) || !back.Has(core.NSXMP) {
		t.Error("IPTC or XMP removed")
	}
}

func TestSocialMediaKeepsOnlyListedTags(t *testing.T) {
	d := load(t, "a.jpg", testimg.JPEG(t, testimg.Full(t)))
	if err := d.SetText(core.NSExif, "Orientation", "6"); err != nil {
		t.Fatal(err)
	}
	back := applySaveReload(t, builtin(t, "Social Media"), d, "")
	if diff := cmp.Diff([]string{"Exif.Image.Orientation"}, exifKeys(back)); diff != "" {
		t.Errorf("EXIF keys (-want +got):\n%s", diff)
	}
	if back.Has(core.NSIPTC) || back.Has(core.NSXMP) {
		t.Error("IPTC or XMP kept")
	}
}

func TestCopyrightStamp(t *testing.T) {
	p := builtin(t, "Copyright Stamp")
	if !p.NeedsValue() {
		t.Fatal("NeedsValue() = false")
	}
	d := load(t, "a.jpg", testimg.JPEG(t, testimg.Full(t)))
	if err := p.Apply(d, ""); !errors.Is(err, core.ErrUnsupportedValue) {
		t.Errorf("Apply without value: err = %v", err)
	}
	back := applySaveReload(t, p, d, "(c) 2024 Jane Doe")
	if diff := cmp.Diff([]string{"Exif.Image.Copyright"}, exifKeys(back)); diff != "" {
		t.Errorf("EXIF keys (-want +got):\n%s", diff)
	}
	if v, _ := back.Get(core.NSExif, "Copyright"); v.String() != "(c) 2024 Jane Doe" {
		t.Errorf("Copyright = %q", v)
	}
	if back.Has(core.NSIPTC) || back.Has(core.NSXMP) {
		t.Error("IPTC or XMP kept")
	}
}

func TestStripAllOnTIFFKeepsImage(t *testing.T) {
	d := load(t, "a.tif", testimg.TIFF(t, testimg.Full(t)))
	w, h := d.Dimensions()
	back := applySaveReload(t, builtin(t, "Strip All"), d, "")
	if back.Exif().HasIFD(exif.IFDGPS) || back.Exif().HasIFD(exif.IFDExif) {
		t.Error("sub-IFDs survived")
	}
	if back.Has(core.NSXMP) || back.Has(core.NSIPTC) {
		t.Error("XMP or IPTC survived")
	}
	if gw, gh := back.Dimensions(); gw != w || gh != h {
		t.Errorf("dimensions %dx%d, want %dx%d", gw, gh, w, h)
	}
}

func TestStripAllRemovesUndecodableMetadata(t *testing.T) {
	data := testimg.JPEG(t, testimg.Meta{
		Exif: []byte("XX*\x00\x08\x00\x00\x00GPS-SECRET"),
		XMP:  testimg.XMP(t),
		IPTC: []byte("\x55IPTC-SECRET"),
	})
	d := load(t, "broken.jpg", data)
	if d.Has(core.NSExif) || d.Has(core.NSIPTC) {
		t.Fatal("undecodable blocks loaded")
	}
	if len(d.Warnings()) == 0 {
		t.Fatal("no warnings for undecodable blocks")
	}
	back := applySaveReload(t, builtin(t, "Strip All"), d, "")
	out, err := os.ReadFile(back.Path())
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"GPS-SECRET", "IPTC-SECRET", "Exif\x00\x00", "Photoshop 3.0"} {
		if bytes.Contains(out, []byte(secret)) {
			t.Errorf("%q survived Strip All", secret)
		}
	}
	for _, ns := range core.Namespaces {
		if back.Has(ns) {
			t.Errorf("%s survived Strip All", ns)
		}
	}
	if w := back.Warnings(); len(w) > 0 {
		t.Errorf("warnings after strip: %v", w)
	}
}

func TestKeepBasicsOnTIFFKeepsStructure(t *testing.T) {
	d := load(t, "a.tif", testimg.TIFF(t, testimg.Full(t)))
	w, h := d.Dimensions()
	back := applySaveReload(t, builtin(t, "Keep Basics"), d, "")
	if _, ok := back.Get(core.NSExif, "Make"); !ok {
		t.Error("Make removed")
	}
	if gw, gh := back.Dimensions(); gw != w || gh != h {
		t.Errorf("dimensions %dx%d, want %dx%d", gw, gh, w, h)
	}
}

func TestLoadFileMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	yml := `presets:
  - name: privacy clean
    description: stricter
    strip_gps: true
    strip_xmp: true
  - name: Studio
    strip_iptc: true
    set_tags:
      Exif.Image.Artist: "{user_value}"
      Xmp.dc.rights: All rights reserved
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	ps, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != len(Builtins())+1 {
		t.Errorf("%d presets, want %d", len(ps), len(Builtins())+1)
	}
	p, _ := ByName(ps, "Privacy Clean")
	if p.Description != "stricter" || !p.StripXMP || p.Builtin {
		t.Errorf("override not applied: %+v", p)
	}
	studio, ok := ByName(ps, "studio")
	if !ok || !studio.NeedsValue() {
		t.Fatalf("Studio = %+v", studio)
	}

	d := load(t, "a.jpg", testimg.JPEG(t, testimg.Full(t)))
	back := applySaveReload(t, studio, d, "Jane Doe")
	if v, _ := back.Get(core.NSExif, "Artist"); v.String() != "Jane Doe" {
		t.Errorf("Artist = %q", v)
	}
	if v, _ := back.Get(core.NSXMP, "dc:rights"); v.String() != "All rights reserved" {
		t.Errorf("dc:rights = %q", v)
	}
	if back.Has(core.NSIPTC) {
		t.Error("IPTC kept")
	}

	saved := filepath.Join(t.TempDir(), "out.yaml")
	if err := SaveFile(saved, []*Preset{studio}); err != nil {
		t.Fatal(err)
	}
	again, err := LoadFile(saved)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := ByName(again, "Studio")
	if diff := cmp.Diff(studio, got); diff != "" {
		t.Errorf("saved preset (-want +got):\n%s", diff)
	}
}

func TestLoadFileRejectsUnknownCategory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	yml := "presets:\n  - name: bad\n    remove_categories: [Weather]\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); !errors.Is(err, core.ErrUnsupportedValue) {
		t.Errorf("err = %v, want ErrUnsupportedValue", err)
	}
}
