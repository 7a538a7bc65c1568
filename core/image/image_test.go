package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"

	dexif "github.com/dsoprea/go-exif/v3"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
	pngstructure "github.com/dsoprea/go-png-image-structure/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/exif"
	"github.com/ankit-chaubey/metastrip/core/internal/testimg"
	"github.com/ankit-chaubey/metastrip/core/xmp"
)

type fixture struct {
	name   string
	format core.FormatID
	full   func(testing.TB) []byte
	bare   func(testing.TB) []byte
}

func exifXMP(tb testing.TB) testimg.Meta {
	m := testimg.Full(tb)
	m.IPTC = nil
	return m
}

var fixtures = []fixture{
	{"jpeg", core.FmtJPEG,
		func(tb testing.TB) []byte { return testimg.JPEG(tb, testimg.Full(tb)) },
		func(tb testing.TB) []byte { return testimg.JPEG(tb, testimg.Meta{}) }},
	{"png", core.FmtPNG,
		func(tb testing.TB) []byte { return testimg.PNG(tb, exifXMP(tb)) },
		func(tb testing.TB) []byte { return testimg.PNG(tb, testimg.Meta{}) }},
	{"tiff", core.FmtTIFF,
		func(tb testing.TB) []byte { return testimg.TIFF(tb, testimg.Full(tb)) },
		func(tb testing.TB) []byte { return testimg.TIFF(tb, testimg.Meta{}) }},
	{"webp", core.FmtWebP,
		func(tb testing.TB) []byte { return testimg.WebP(tb, exifXMP(tb), false) },
		func(tb testing.TB) []byte { return testimg.WebP(tb, testimg.Meta{}, false) }},
	{"heic", core.FmtHEIC,
		func(tb testing.TB) []byte { return testimg.HEIF(tb, exifXMP(tb), testimg.HEIFOptions{}) },
		func(tb testing.TB) []byte { return testimg.HEIF(tb, testimg.Meta{}, testimg.HEIFOptions{}) }},
	{"avif", core.FmtAVIF,
		func(tb testing.TB) []byte { return testimg.HEIF(tb, exifXMP(tb), testimg.HEIFOptions{Brand: "avif"}) },
		func(tb testing.TB) []byte { return testimg.HEIF(tb, testimg.Meta{}, testimg.HEIFOptions{Brand: "avif"}) }},
	{"jxl", core.FmtJXL,
		func(tb testing.TB) []byte { return testimg.JXL(tb, exifXMP(tb), false) },
		func(tb testing.TB) []byte { return testimg.JXL(tb, testimg.Meta{}, true) }},
}

func mustLocate(t *testing.T, data []byte) *Layout {
	t.Helper()
	l, err := Locate(data)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	return l
}

func mustRewrite(t *testing.T, data []byte, edits Edits) []byte {
	t.Helper()
	l := mustLocate(t, data)
	p, err := For(l.Format)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Rewrite(data, l, edits)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	return out
}

func digest(t *testing.T, data []byte, l *Layout) [32]byte {
	t.Helper()
	sum, err := Digest(data, l.ImageData)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	return sum
}

func decodeExif(t *testing.T, f core.FormatID, loc *Location) *exif.Block {
	t.Helper()
	var (
		blk *exif.Block
		err error
	)
	if f == core.FmtTIFF {
		blk, err = exif.DecodeFile(loc.Data)
	} else {
		blk, err = exif.Decode(loc.Data)
	}
	if err != nil {
		t.Fatalf("decoding EXIF: %v", err)
	}
	return blk
}

func model(t *testing.T, f core.FormatID, loc *Location) string {
	t.Helper()
	v, ok := decodeExif(t, f, loc).Get(testimg.KeyModel)
	if !ok {
		t.Fatal("no Model tag")
	}
	return string(v.(exif.ASCII))
}

// exifEdit replaces the camera model. TIFF files take the edited block.
func exifEdit(t *testing.T, f core.FormatID, data []byte, newModel string) Edit {
	t.Helper()
	if f == core.FmtTIFF {
		blk, err := exif.DecodeFile(data)
		if err != nil {
			t.Fatal(err)
		}
		if err := blk.Set(testimg.KeyModel, exif.ASCII(newModel)); err != nil {
			t.Fatal(err)
		}
		return Edit{Block: blk}
	}
	return Edit{Data: testimg.Exif(t, "Canon", newModel, 37.7749, -122.4194)}
}

func TestDetectsFixtures(t *testing.T) {
	for _, f := range fixtures {
		if got := core.DetectBytes(f.full(t)); got != f.format {
			t.Errorf("%s: DetectBytes = %s", f.name, got)
		}
		if got := core.DetectBytes(f.bare(t)); got != f.format {
			t.Errorf("%s bare: DetectBytes = %s", f.name, got)
		}
	}
}

func TestLocateFindsMetadata(t *testing.T) {
	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			data := f.full(t)
			l := mustLocate(t, data)
			if len(l.Warnings) > 0 {
				t.Errorf("warnings: %v", l.Warnings)
			}
			loc := l.Meta[core.NSExif]
			if loc == nil {
				t.Fatal("EXIF not found")
			}
			if got := model(t, f.format, loc); got != "EOS R5" {
				t.Errorf("Model = %q", got)
			}
			xl := l.Meta[core.NSXMP]
			if xl == nil {
				t.Fatal("XMP not found")
			}
			p, err := xmp.Parse(xl.Data)
			if err != nil {
				t.Fatal(err)
			}
			if city, _ := p.Get("photoshop:City"); city != "San Francisco" {
				t.Errorf("City = %q", city)
			}
			if len(l.ImageData) == 0 {
				t.Error("no image data spans")
			}
		})
	}
}

func TestRewriteWithoutEditsIsIdentity(t *testing.T) {
	for _, f := range fixtures {
		for _, data := range [][]byte{f.full(t), f.bare(t)} {
			if out := mustRewrite(t, data, nil); !bytes.Equal(out, data) {
				t.Errorf("%s: rewrite without edits changed %d-byte file", f.name, len(data))
			}
		}
	}
}

func TestReplaceKeepsImageData(t *testing.T) {
	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			data := f.full(t)
			before := mustLocate(t, data)

			p, err := xmp.Parse(before.Meta[core.NSXMP].Data)
			if err != nil {
				t.Fatal(err)
			}
			if err := p.Set("photoshop:City", "Oakland"); err != nil {
				t.Fatal(err)
			}
			out := mustRewrite(t, data, Edits{
				core.NSExif: exifEdit(t, f.format, data, "EOS R5 II"),
				core.NSXMP:  {Data: p.Bytes()},
			})

			after := mustLocate(t, out)
			if got := model(t, f.format, after.Meta[core.NSExif]); got != "EOS R5 II" {
				t.Errorf("Model = %q", got)
			}
			if !bytes.Contains(after.Meta[core.NSXMP].Data, []byte("Oakland")) {
				t.Error("XMP edit lost")
			}
			if digest(t, data, before) != digest(t, out, after) {
				t.Error("image data changed")
			}
			if len(after.Warnings) > 0 {
				t.Errorf("warnings after rewrite: %v", after.Warnings)
			}
			again := mustRewrite(t, out, nil)
			if !bytes.Equal(again, out) {
				t.Error("second save without edits changed the file")
			}
		})
	}
}

// modelOf reads the camera model with go-exif from a root IFD found by the
// dsoprea structure parsers.
func modelOf(t *testing.T, root *dexif.Ifd) string {
	t.Helper()
	results, err := root.FindTagWithName("Model")
	if err != nil || len(results) == 0 {
		t.Fatalf("go-exif: no Model: %v", err)
	}
	v, err := results[0].Value()
	if err != nil {
		t.Fatal(err)
	}
	s, _ := v.(string)
	return s
}

func TestRewritesParseWithSegmentReaders(t *testing.T) {
	t.Run("jpeg", func(t *testing.T) {
		data := testimg.JPEG(t, testimg.Full(t))
		out := mustRewrite(t, data, Edits{core.NSExif: exifEdit(t, core.FmtJPEG, data, "EOS R5 II")})
		intfc, err := jpegstructure.NewJpegMediaParser().ParseBytes(out)
		if err != nil {
			t.Fatalf("jpegstructure: %v", err)
		}
		sl, ok := intfc.(*jpegstructure.SegmentList)
		if !ok {
			t.Fatalf("jpegstructure returned %T", intfc)
		}
		if err := sl.Validate(out); err != nil {
			t.Errorf("segment offsets: %v", err)
		}
		root, _, err := sl.Exif()
		if err != nil {
			t.Fatalf("jpegstructure Exif: %v", err)
		}
		if got := modelOf(t, root); got != "EOS R5 II" {
			t.Errorf("Model = %q", got)
		}
	})
	t.Run("png", func(t *testing.T) {
		data := testimg.PNG(t, exifXMP(t))
		out := mustRewrite(t, data, Edits{core.NSExif: exifEdit(t, core.FmtPNG, data, "EOS R5 II")})
		intfc, err := pngstructure.NewPngMediaParser().ParseBytes(out)
		if err != nil {
			t.Fatalf("pngstructure: %v", err)
		}
		cs, ok := intfc.(*pngstructure.ChunkSlice)
		if !ok {
			t.Fatalf("pngstructure returned %T", intfc)
		}
		for _, c := range cs.Chunks() {
			if !c.CheckCrc32() {
				t.Errorf("%s: bad CRC", c.Type)
			}
		}
		root, _, err := cs.Exif()
		if err != nil {
			t.Fatalf("pngstructure Exif: %v", err)
		}
		if got := modelOf(t, root); got != "EOS R5 II" {
			t.Errorf("Model = %q", got)
		}
	})
}

func TestRemoveKeepsImageData(t *testing.T) {
	for _, f := range fixtures {
		if f.format == core.FmtTIFF {
			continue
		}
		t.Run(f.name, func(t *testing.T) {
			data := f.full(t)
			before := mustLocate(t, data)
			edits := Edits{core.NSExif: {Remove: true}, core.NSXMP: {Remove: true}}
			if before.Has(core.NSIPTC) {
				edits[core.NSIPTC] = Edit{Remove: true}
			}
			out := mustRewrite(t, data, edits)
			after := mustLocate(t, out)
			for _, ns := range core.Namespaces {
				if after.Has(ns) {
					t.Errorf("%s still present", ns)
				}
			}
			if digest(t, data, before) != digest(t, out, after) {
				t.Error("image data changed")
			}
			if bytes.Contains(out, []byte("Canon")) {
				t.Error("removed EXIF bytes survive in the file")
			}
		})
	}
}

func TestTIFFRemoveKeepsPrimaryIFD(t *testing.T) {
	data := testimg.TIFF(t, testimg.Full(t))
	out := mustRewrite(t, data, Edits{core.NSExif: {Remove: true}, core.NSXMP: {Remove: true}})
	after := mustLocate(t, out)
	blk := decodeExif(t, core.FmtTIFF, after.Meta[core.NSExif])
	if blk.HasIFD(exif.IFDGPS) || blk.HasIFD(exif.IFDExif) {
		t.Error("Exif or GPS IFD survived removal")
	}
	if after.Has(core.NSXMP) {
		t.Error("XMP survived removal")
	}
	if _, ok := blk.Get(testimg.KeyMake); !ok {
		t.Error("primary IFD lost its Make tag")
	}
}

func TestTIFFRewriteWipesReplacedDirectories(t *testing.T) {
	data := testimg.TIFF(t, testimg.Full(t))
	src, err := exif.DecodeFile(data)
	if err != nil {
		t.Fatal(err)
	}
	gpsLat, ok := src.Raw(exif.Key{IFD: exif.IFDGPS, Tag: 0x0002})
	if !ok || !bytes.Contains(data, gpsLat) {
		t.Fatal("fixture lacks an out-of-line GPS latitude")
	}
	secrets := [][]byte{gpsLat, []byte("San Francisco"), []byte("Jane Doe"), testimg.MakerNote}
	for _, s := range secrets {
		if !bytes.Contains(data, s) {
			t.Fatalf("fixture lacks %q", s)
		}
	}
	before := mustLocate(t, data)

	out := mustRewrite(t, data, Edits{
		core.NSExif: {Remove: true},
		core.NSXMP:  {Remove: true},
		core.NSIPTC: {Remove: true},
	})
	for _, s := range secrets {
		if bytes.Contains(out, s) {
			t.Errorf("%q still in the rewritten file", s)
		}
	}
	after := mustLocate(t, out)
	if digest(t, data, before) != digest(t, out, after) {
		t.Error("image data changed")
	}
	if len(out) > len(data) {
		t.Errorf("file grew from %d to %d bytes while shrinking its metadata", len(data), len(out))
	}

	// Saving the same content again reuses the space at the end.
	blk := decodeExif(t, core.FmtTIFF, after.Meta[core.NSExif])
	v, _ := blk.Get(testimg.KeyMake)
	if err := blk.Set(testimg.KeyMake, v); err != nil {
		t.Fatal(err)
	}
	again := mustRewrite(t, out, Edits{core.NSExif: {Block: blk}})
	if len(again) != len(out) {
		t.Errorf("re-save changed size from %d to %d", len(out), len(again))
	}
	if digest(t, out, after) != digest(t, again, mustLocate(t, again)) {
		t.Error("image data changed on re-save")
	}
}

func TestAddToBareFiles(t *testing.T) {
	for _, f := range fixtures {
		if f.format == core.FmtTIFF {
			continue
		}
		t.Run(f.name, func(t *testing.T) {
			data := f.bare(t)
			before := mustLocate(t, data)
			if before.Has(core.NSExif) || before.Has(core.NSXMP) {
				t.Fatal("bare fixture carries metadata")
			}
			out := mustRewrite(t, data, Edits{
				core.NSExif: {Data: testimg.Exif(t, "Canon", "EOS R5", 1, 2)},
				core.NSXMP:  {Data: testimg.XMP(t)},
			})
			after := mustLocate(t, out)
			if !after.Has(core.NSExif) || !after.Has(core.NSXMP) {
				t.Fatalf("added metadata not found: %v", after.Meta)
			}
			if got := model(t, f.format, after.Meta[core.NSExif]); got != "EOS R5" {
				t.Errorf("Model = %q", got)
			}
			if digest(t, data, before) != digest(t, out, after) {
				t.Error("image data changed")
			}
		})
	}
}

func TestUnsupportedNamespaceRejected(t *testing.T) {
	data := testimg.PNG(t, testimg.Meta{})
	l := mustLocate(t, data)
	_, err := pngParser{}.Rewrite(data, l, Edits{core.NSIPTC: {Data: testimg.IPTC(t)}})
	if !errors.Is(err, core.ErrUnsupportedValue) {
		t.Errorf("err = %v, want ErrUnsupportedValue", err)
	}
	// removing what cannot exist is a no-op
	if _, err := (pngParser{}).Rewrite(data, l, Edits{core.NSIPTC: {Remove: true}}); err != nil {
		t.Errorf("removing IPTC from PNG: %v", err)
	}
}

func TestJPEGTruncatedAPP1IsContained(t *testing.T) {
	xmpPacket := testimg.XMP(t)
	data := []byte{0xFF, 0xD8}
	n := 2 + len(jpegXMPHeader) + len(xmpPacket)
	data = append(data, 0xFF, 0xE1, byte(n>>8), byte(n))
	data = append(data, jpegXMPHeader...)
	data = append(data, xmpPacket...)
	// an EXIF segment claiming 8 KiB with only a few bytes behind it
	data = append(data, 0xFF, 0xE1, 0x20, 0x00)
	data = append(data, "Exif\x00\x00II*\x00"...)

	l := mustLocate(t, data)
	if !l.Has(core.NSXMP) {
		t.Error("XMP before the broken segment was lost")
	}
	if l.Has(core.NSExif) {
		t.Error("truncated EXIF reported as present")
	}
	var got []core.Namespace
	for _, w := range l.Warnings {
		got = append(got, w.Namespace)
		if !errors.Is(w.Err, core.ErrMalformedContainer) {
			t.Errorf("warning %v is not ErrMalformedContainer", w)
		}
	}
	if diff := cmp.Diff([]core.Namespace{core.NSExif}, got); diff != "" {
		t.Errorf("warning namespaces (-want +got):\n%s", diff)
	}
	out := mustRewrite(t, data, Edits{core.NSXMP: {Remove: true}})
	if !bytes.HasSuffix(out, data[len(data)-14:]) {
		t.Error("unparsed remainder not copied verbatim")
	}
}

func TestJPEGBadLengthResyncsToNextSegment(t *testing.T) {
	clean := testimg.JPEG(t, testimg.Meta{XMP: testimg.XMP(t)})
	// an EXIF segment declaring 0 bytes, ahead of the XMP segment
	broken := append([]byte{0xFF, markerAPP1, 0x00, 0x00}, "Exif\x00\x00GPS-SECRET"...)
	data := append([]byte{0xFF, 0xD8}, broken...)
	data = append(data, clean[2:]...)

	l := mustLocate(t, data)
	if !l.Has(core.NSXMP) {
		t.Fatal("XMP after the broken segment was lost")
	}
	if !bytes.Contains(l.Meta[core.NSXMP].Data, []byte("x:xmpmeta")) {
		t.Error("XMP payload not located")
	}
	var got []core.Namespace
	for _, w := range l.Warnings {
		got = append(got, w.Namespace)
	}
	if diff := cmp.Diff([]core.Namespace{core.NSExif}, got); diff != "" {
		t.Errorf("warning namespaces (-want +got):\n%s", diff)
	}
	if loc := l.Meta[core.NSExif]; loc == nil || string(loc.Data) != "GPS-SECRET" {
		t.Fatalf("broken EXIF segment not located: %+v", loc)
	}
	cleanLayout := mustLocate(t, clean)
	if digest(t, data, l) != digest(t, clean, cleanLayout) {
		t.Error("image data span differs from the clean file")
	}

	kept := mustRewrite(t, data, Edits{core.NSXMP: {Data: testimg.XMP(t)}})
	if !bytes.Contains(kept, broken) {
		t.Error("broken segment not copied verbatim on an unrelated edit")
	}
	stripped := mustRewrite(t, data, Edits{core.NSExif: {Remove: true}})
	if !bytes.Equal(stripped, clean) {
		t.Error("removing EXIF did not drop the broken segment")
	}
}

func TestJPEGInsertsAfterSOI(t *testing.T) {
	data := testimg.JPEG(t, testimg.Meta{})
	out := mustRewrite(t, data, Edits{
		core.NSExif: {Data: testimg.Exif(t, "Canon", "EOS R5", 0, 0)},
		core.NSXMP:  {Data: testimg.XMP(t)},
		core.NSIPTC: {Data: testimg.IPTC(t)},
	})
	if !bytes.Equal(out[6:12], jpegExifHeader) {
		t.Errorf("first segment payload % x, want EXIF", out[6:12])
	}
	l := mustLocate(t, out)
	for _, ns := range core.Namespaces {
		if !l.Has(ns) {
			t.Errorf("%s missing", ns)
		}
	}
	w := l.priv.(*jpegWalk)
	if !(w.exif < w.xmp && w.xmp < w.app13) {
		t.Errorf("segment order exif=%d xmp=%d app13=%d", w.exif, w.xmp, w.app13)
	}
}

func TestJPEGIPTCKeepsOtherResources(t *testing.T) {
	data := testimg.JPEG(t, testimg.Full(t))
	l := mustLocate(t, data)
	w := l.priv.(*jpegWalk)
	// add a non-IPTC resource by hand and re-frame the segment
	irb := w.irb
	irb.Set(0x040C, []byte{1, 2, 3})
	seg, err := appSegment(markerAPP13, []byte("Photoshop 3.0\x00"), irb.Encode())
	if err != nil {
		t.Fatal(err)
	}
	s := w.segs[w.app13]
	data = append(append(append([]byte(nil), data[:s.off]...), seg...), data[s.end:]...)

	out := mustRewrite(t, data, Edits{core.NSIPTC: {Remove: true}})
	after := mustLocate(t, out)
	if after.Has(core.NSIPTC) {
		t.Error("IPTC survived removal")
	}
	aw := after.priv.(*jpegWalk)
	if aw.irb == nil {
		t.Fatal("APP13 dropped with another resource still in it")
	}
	if got, _ := aw.irb.Get(0x040C); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("resource 0x040C = % x", got)
	}
}

func TestPNGStripGPSKeepsCRCs(t *testing.T) {
	data := testimg.PNG(t, exifXMP(t))
	l := mustLocate(t, data)
	blk := decodeExif(t, core.FmtPNG, l.Meta[core.NSExif])
	if !blk.RemoveGPS() {
		t.Fatal("sample had no GPS")
	}
	raw, err := blk.Encode()
	if err != nil {
		t.Fatal(err)
	}
	out := mustRewrite(t, data, Edits{core.NSExif: {Data: raw}})

	for pos := 8; pos < len(out); {
		n := int(binary.BigEndian.Uint32(out[pos:]))
		typ := out[pos+4 : pos+8]
		body := out[pos+8 : pos+8+n]
		want := binary.BigEndian.Uint32(out[pos+8+n:])
		if got := crc32.ChecksumIEEE(append(append([]byte(nil), typ...), body...)); got != want {
			t.Errorf("chunk %s CRC %08x, want %08x", typ, want, got)
		}
		pos += 12 + n
	}

	after := mustLocate(t, out)
	got := decodeExif(t, core.FmtPNG, after.Meta[core.NSExif])
	if got.HasIFD(exif.IFDGPS) {
		t.Error("GPS survived")
	}
	if v, _ := got.Get(testimg.KeyMake); v == nil || string(v.(exif.ASCII)) != "Canon" {
		t.Errorf("Make = %v", v)
	}
	if !bytes.Equal(after.Meta[core.NSXMP].Data, l.Meta[core.NSXMP].Data) {
		t.Error("XMP changed")
	}
	if !bytes.Contains(out, []byte("made by testimg")) {
		t.Error("tEXt chunk dropped")
	}
}

func TestPNGCRCMismatchWarns(t *testing.T) {
	data := testimg.PNG(t, exifXMP(t))
	i := bytes.Index(data, []byte("eXIf"))
	n := int(binary.BigEndian.Uint32(data[i-4:]))
	data[i+4+n] ^= 0xFF // first CRC byte
	l := mustLocate(t, data)
	if len(l.Warnings) != 1 || l.Warnings[0].Namespace != core.NSExif || !errors.Is(l.Warnings[0].Err, core.ErrMalformedMetadata) {
		t.Errorf("warnings = %v", l.Warnings)
	}
	if !l.Has(core.NSExif) {
		t.Error("EXIF with bad CRC should still be located")
	}
}

func TestWebPSynthesizesVP8X(t *testing.T) {
	data := testimg.WebP(t, testimg.Meta{}, false)
	out := mustRewrite(t, data, Edits{core.NSXMP: {Data: testimg.XMP(t)}})
	if string(out[12:16]) != "VP8X" {
		t.Fatalf("first chunk %q, want VP8X", out[12:16])
	}
	flags := out[20]
	if flags != vp8xFlagXMP|vp8xFlagAlpha {
		t.Errorf("VP8X flags %#x", flags)
	}
	if w, h := get24(out[24:]), get24(out[27:]); w != 0 || h != 0 {
		t.Errorf("canvas-1 = %dx%d, want 0x0", w, h)
	}
	if size := binary.LittleEndian.Uint32(out[4:]); int(size) != len(out)-8 {
		t.Errorf("RIFF size %d for %d bytes", size, len(out))
	}
	if wd, ht := Dimensions(out, mustLocate(t, out)); wd != 1 || ht != 1 {
		t.Errorf("Dimensions = %dx%d", wd, ht)
	}
}

func get24(b []byte) int { return int(b[0]) | int(b[1])<<8 | int(b[2])<<16 }

func TestWebPRemoveClearsFlags(t *testing.T) {
	data := testimg.WebP(t, exifXMP(t), false)
	out := mustRewrite(t, data, Edits{core.NSExif: {Remove: true}})
	if flags := out[20]; flags&vp8xFlagEXIF != 0 || flags&vp8xFlagXMP == 0 {
		t.Errorf("VP8X flags %#x", flags)
	}
}

func TestHEIFExifInIdat(t *testing.T) {
	data := testimg.HEIF(t, exifXMP(t), testimg.HEIFOptions{ExifInIdat: true})
	l := mustLocate(t, data)
	if got := model(t, core.FmtHEIC, l.Meta[core.NSExif]); got != "EOS R5" {
		t.Fatalf("Model = %q", got)
	}
	out := mustRewrite(t, data, Edits{core.NSExif: exifEdit(t, core.FmtHEIC, data, "EOS R5 II")})
	after := mustLocate(t, out)
	if got := model(t, core.FmtHEIC, after.Meta[core.NSExif]); got != "EOS R5 II" {
		t.Errorf("Model = %q", got)
	}
	if bytes.Contains(out, []byte("EOS R5\x00")) {
		t.Error("old idat payload survives")
	}
	if digest(t, data, l) != digest(t, out, after) {
		t.Error("image data changed")
	}
}

func TestHEIFSizeZeroMdat(t *testing.T) {
	data := testimg.HEIF(t, exifXMP(t), testimg.HEIFOptions{SizeZero: true})
	before := mustLocate(t, data)
	out := mustRewrite(t, data, Edits{core.NSExif: exifEdit(t, core.FmtHEIC, data, "EOS R5 II")})
	top, err := walkBoxes(out, 0, len(out))
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range top {
		if b.sizeZero {
			t.Errorf("box %q at %d still has size 0", b.typ, b.off)
		}
	}
	if got := top[len(top)-1]; got.typ != "mdat" || got.end != len(out) {
		t.Errorf("last box %q ends at %d of %d", got.typ, got.end, len(out))
	}
	after := mustLocate(t, out)
	if digest(t, data, before) != digest(t, out, after) {
		t.Error("image data changed")
	}
}

func TestHEIFPrimaryExtentFollowsMeta(t *testing.T) {
	data := testimg.HEIF(t, exifXMP(t), testimg.HEIFOptions{})
	big := append(testimg.Exif(t, "Canon", "EOS R5", 1, 1), make([]byte, 70000)...)
	out := mustRewrite(t, data, Edits{core.NSExif: {Data: big}})
	l := mustLocate(t, out)
	w := l.priv.(*heifWalk)
	primary, _, err := w.itemData(out, w.pitm)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(primary, testimg.HEIFCodestream) {
		t.Error("primary item no longer resolves to its codestream")
	}
	var cdsc int
	for _, r := range w.refs {
		if r.typ == "cdsc" && r.from == w.exifID {
			cdsc++
		}
	}
	if cdsc != 1 {
		t.Errorf("%d cdsc references from the Exif item", cdsc)
	}
}

func TestHEIFAddItemsReferencePrimary(t *testing.T) {
	data := testimg.HEIF(t, testimg.Meta{}, testimg.HEIFOptions{})
	out := mustRewrite(t, data, Edits{core.NSXMP: {Data: testimg.XMP(t)}})
	w := mustLocate(t, out).priv.(*heifWalk)
	if w.xmpID == 0 {
		t.Fatal("XMP item not found")
	}
	if len(w.refs) != 1 || w.refs[0].from != w.xmpID || !cmp.Equal(w.refs[0].to, []uint32{w.pitm}) {
		t.Errorf("refs = %+v", w.refs)
	}
}

func TestJXLNakedCodestreamIsWrapped(t *testing.T) {
	data := testimg.JXL(t, testimg.Meta{}, true)
	out := mustRewrite(t, data, Edits{core.NSExif: {Data: testimg.Exif(t, "Canon", "EOS R5", 0, 0)}})
	if !bytes.HasPrefix(out, jxlSignature) {
		t.Fatal("output is not a JPEG XL container")
	}
	l := mustLocate(t, out)
	w := l.priv.(*jxlWalk)
	if w.naked {
		t.Error("still naked")
	}
	b, i := findBox(w.boxes, "jxlc")
	if i < 0 || !bytes.Equal(b.payload(out), data) {
		t.Error("codestream not carried in jxlc")
	}
}

func TestJXLBrotliBoxWarnsAndIsDroppedOnEdit(t *testing.T) {
	data := testimg.JXL(t, testimg.Meta{}, false)
	brob := boxBytes("brob", append([]byte("Exif"), 1, 2, 3, 4))
	sig := len(jxlSignature) + len(jxlFtyp)
	data = append(append(append([]byte(nil), data[:sig]...), brob...), data[sig:]...)

	l := mustLocate(t, data)
	if len(l.Warnings) != 1 || l.Warnings[0].Namespace != core.NSExif {
		t.Errorf("warnings = %v", l.Warnings)
	}
	out := mustRewrite(t, data, Edits{core.NSExif: {Remove: true}})
	if bytes.Contains(out, []byte("brob")) {
		t.Error("compressed Exif box kept after removal")
	}
}

func TestDimensions(t *testing.T) {
	cases := []struct {
		data []byte
		w, h int
	}{
		{testimg.JPEG(t, testimg.Full(t)), 16, 8},
		{testimg.PNG(t, testimg.Meta{}), 16, 8},
		{testimg.TIFF(t, testimg.Meta{}), 16, 8},
		{testimg.WebP(t, testimg.Meta{}, false), 1, 1},
		{testimg.HEIF(t, testimg.Meta{}, testimg.HEIFOptions{}), testimg.HEIFWidth, testimg.HEIFHeight},
	}
	for _, c := range cases {
		l := mustLocate(t, c.data)
		if w, h := Dimensions(c.data, l); w != c.w || h != c.h {
			t.Errorf("%s: Dimensions = %dx%d, want %dx%d", l.Format, w, h, c.w, c.h)
		}
	}
}

func TestDigestRejectsBadSpan(t *testing.T) {
	_, err := Digest([]byte{1, 2, 3}, []Span{{Off: 2, Len: 5}})
	if !errors.Is(err, core.ErrMalformedContainer) {
		t.Errorf("err = %v", err)
	}
}

func FuzzLocate(f *testing.F) {
	for _, fx := range fixtures {
		f.Add(fx.full(f))
		f.Add(fx.bare(f))
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		l, err := Locate(data)
		if err != nil {
			return
		}
		p, _ := For(l.Format)
		if _, err := p.Rewrite(data, l, Edits{core.NSXMP: {Remove: true}}); err != nil && !errors.Is(err, core.ErrUnsupportedValue) {
			t.Logf("%s: %v", l.Format, err)
		}
		Dimensions(data, l)
	})
}
