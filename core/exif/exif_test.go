package exif

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	dexif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	goexif "github.com/rwcarlsen/goexif/exif"

	"github.com/ankit-chaubey/metastrip/core"
)

var (
	keyMake     = Key{IFDPrimary, 0x010F}
	keyModel    = Key{IFDPrimary, 0x0110}
	keyArtist   = Key{IFDPrimary, 0x013B}
	keyOrient   = Key{IFDPrimary, 0x0112}
	keyExpTime  = Key{IFDExif, 0x829A}
	keyBias     = Key{IFDExif, 0x9204}
	keyISO      = Key{IFDExif, 0x8827}
	keyInterop  = Key{IFDInterop, 0x0001}
	keyThumbCmp = Key{IFDThumbnail, 0x0103}
)

func sampleBlock(t *testing.T, order binary.ByteOrder) *Block {
	t.Helper()
	b := NewBlock(order)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(b.Set(keyMake, ASCII("Canon")))
	must(b.Set(keyModel, ASCII("EOS R5")))
	must(b.Set(keyOrient, Shorts{1}))
	must(b.Set(keyExpTime, Rationals{{1, 250}}))
	must(b.Set(keyBias, SRationals{{-1, 3}}))
	must(b.Set(keyISO, Shorts{100}))
	must(b.Set(keyInterop, ASCII("R98")))
	must(b.Set(keyThumbCmp, Shorts{6}))
	must(b.SetLatLong(37.7749, -122.4194))
	b.SetThumbnail([]byte{0xFF, 0xD8, 0xFF, 0xD9, 0x00})
	return b
}

func values(b *Block) map[Key]Value {
	out := make(map[Key]Value)
	for _, k := range b.Keys() {
		v, _ := b.Get(k)
		out[k] = v
	}
	return out
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		b := sampleBlock(t, order)
		raw, err := b.Encode()
		if err != nil {
			t.Fatalf("%v: Encode: %v", order, err)
		}
		if err := b.Verify(raw); err != nil {
			t.Errorf("%v: Verify: %v", order, err)
		}
		back, err := Decode(raw)
		if err != nil {
			t.Fatalf("%v: Decode: %v", order, err)
		}
		if diff := cmp.Diff(values(b), values(back)); diff != "" {
			t.Errorf("%v: round trip mismatch (-want +got):\n%s", order, diff)
		}
		if !bytes.Equal(back.Thumbnail(), b.Thumbnail()) {
			t.Errorf("%v: thumbnail = % x, want % x", order, back.Thumbnail(), b.Thumbnail())
		}
		again, err := back.Encode()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(raw, again) {
			t.Errorf("%v: re-encoding a decoded block changed its bytes", order)
		}
	}
}

func TestEncodeSortsTagsAndAlignsValues(t *testing.T) {
	b := NewBlock(binary.BigEndian)
	_ = b.Set(keyModel, ASCII("odd"))      // 4 bytes inline
	_ = b.Set(keyMake, ASCII("Maker"))     // 6 bytes out of line
	_ = b.Set(keyArtist, ASCII("Someone")) // 8 bytes out of line
	raw, err := b.Encode()
	if err != nil {
		t.Fatal(err)
	}
	order := binary.BigEndian
	n := int(order.Uint16(raw[8:]))
	var prev uint16
	for i := 0; i < n; i++ {
		e := raw[10+12*i:]
		tag := order.Uint16(e)
		if i > 0 && tag <= prev {
			t.Errorf("entry %d tag %#x not ascending after %#x", i, tag, prev)
		}
		prev = tag
		if count := order.Uint32(e[4:]); count > 4 {
			if off := order.Uint32(e[8:]); off%2 != 0 {
				t.Errorf("tag %#x value at odd offset %d", tag, off)
			}
		}
	}
}

func TestOpaquePreservedAcrossUnrelatedEdit(t *testing.T) {
	b := NewBlock(binary.LittleEndian)
	float := Opaque{Typ: TypeFloat, N: 2, Raw: []byte{0x00, 0x00, 0x80, 0x3F, 0x00, 0x00, 0x00, 0x40}}
	odd := Opaque{Typ: Type(99), N: 7, Raw: []byte{1, 2, 3, 4}}
	k1, k2 := Key{IFDExif, 0xC000}, Key{IFDExif, 0xC001}
	for k, v := range map[Key]Value{k1: float, k2: odd, keyMake: ASCII("Canon")} {
		if err := b.Set(k, v); err != nil {
			t.Fatal(err)
		}
	}
	raw, err := b.Encode()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := back.Set(keyModel, ASCII("EOS R5 II")); err != nil {
		t.Fatal(err)
	}
	raw2, err := back.Encode()
	if err != nil {
		t.Fatal(err)
	}
	final, err := Decode(raw2)
	if err != nil {
		t.Fatal(err)
	}
	for k, want := range map[Key]Value{k1: float, k2: odd} {
		got, ok := final.Get(k)
		if !ok {
			t.Errorf("%s missing after round trip", k)
			continue
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s changed (-want +got):\n%s", k, diff)
		}
	}
}

func TestGPSInverse(t *testing.T) {
	const tol = 1.0 / (3600 * secondsDenominator)
	for lat := -90.0; lat <= 90; lat += 7.123457 {
		for lon := -180.0; lon <= 180; lon += 13.987654 {
			b := NewBlock(nil)
			if err := b.SetLatLong(lat, lon); err != nil {
				t.Fatalf("SetLatLong(%v, %v): %v", lat, lon, err)
			}
			raw, err := b.Encode()
			if err != nil {
				t.Fatal(err)
			}
			back, err := Decode(raw)
			if err != nil {
				t.Fatal(err)
			}
			gotLat, gotLon, ok := back.LatLong()
			if !ok {
				t.Fatalf("LatLong missing for %v, %v", lat, lon)
			}
			if math.Abs(gotLat-lat) > tol || math.Abs(gotLon-lon) > tol {
				t.Errorf("(%v, %v) decoded as (%v, %v)", lat, lon, gotLat, gotLon)
			}
		}
	}
	for _, edge := range [][2]float64{{90, 180}, {-90, -180}, {0, 0}, {89.99999999, 179.99999999}} {
		b := NewBlock(nil)
		if err := b.SetLatLong(edge[0], edge[1]); err != nil {
			t.Fatal(err)
		}
		lat, lon, _ := b.LatLong()
		if math.Abs(lat-edge[0]) > tol || math.Abs(lon-edge[1]) > tol {
			t.Errorf("edge %v decoded as (%v, %v)", edge, lat, lon)
		}
	}
}

func TestSetLatLongRejectsOutOfRange(t *testing.T) {
	b := NewBlock(nil)
	for _, c := range [][2]float64{{91, 0}, {0, -181}, {math.NaN(), 0}} {
		if err := b.SetLatLong(c[0], c[1]); !errors.Is(err, core.ErrUnsupportedValue) {
			t.Errorf("SetLatLong(%v) err = %v, want ErrUnsupportedValue", c, err)
		}
	}
	if b.HasIFD(IFDGPS) {
		t.Error("rejected coordinates created a GPS IFD")
	}
}

func TestToDMSCarry(t *testing.T) {
	got := ToDMS(10.99999999999)
	want := Rationals{{11, 1}, {0, 1}, {0, secondsDenominator}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToDMS carry (-want +got):\n%s", diff)
	}
}

func TestAltitude(t *testing.T) {
	b := NewBlock(nil)
	if err := b.SetAltitude(-12.25); err != nil {
		t.Fatal(err)
	}
	alt, ok := b.Altitude()
	if !ok || math.Abs(alt+12.25) > 1e-9 {
		t.Errorf("Altitude = %v, %v; want -12.25", alt, ok)
	}
}

func TestGoexifReadsEncoderOutput(t *testing.T) {
	raw, err := sampleBlock(t, binary.BigEndian).Encode()
	if err != nil {
		t.Fatal(err)
	}
	x, err := goexif.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("goexif.Decode: %v", err)
	}
	tag, err := x.Get(goexif.Make)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := tag.StringVal(); s != "Canon" {
		t.Errorf("goexif Make = %q, want Canon", s)
	}
	lat, lon, err := x.LatLong()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(lat-37.7749) > 1e-6 || math.Abs(lon+122.4194) > 1e-6 {
		t.Errorf("goexif LatLong = %v, %v", lat, lon)
	}

	fields, err := Describe(raw)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range fields {
		if f.Name == "Model" && f.Tag == 0x0110 {
			found = true
		}
	}
	if !found {
		t.Errorf("Describe did not list Model: %v", fields)
	}
}

func TestGoExifCollectsEncoderOutput(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		b := sampleBlock(t, order)
		raw, err := b.Encode()
		if err != nil {
			t.Fatal(err)
		}
		im, err := exifcommon.NewIfdMappingWithStandard()
		if err != nil {
			t.Fatal(err)
		}
		_, index, err := dexif.Collect(im, dexif.NewTagIndex(), raw)
		if err != nil {
			t.Fatalf("%v: go-exif Collect: %v", order, err)
		}
		results, err := index.RootIfd.FindTagWithName("Model")
		if err != nil || len(results) != 1 {
			t.Fatalf("%v: Model: %v, %d results", order, err, len(results))
		}
		model, err := results[0].Value()
		if err != nil || model != "EOS R5" {
			t.Errorf("%v: go-exif Model = %v, %v", order, model, err)
		}
		if got := len(index.Ifds); got != 5 {
			t.Errorf("%v: go-exif found %d directories, want 5", order, got)
		}
		if err := b.collect(raw); err != nil {
			t.Errorf("%v: collect: %v", order, err)
		}

		// A block that disagrees with the stream is caught.
		b.Delete(keyISO)
		if err := b.collect(raw); err == nil {
			t.Errorf("%v: collect accepted a stream holding a tag the block lacks", order)
		}
	}
}

// rawTIFF builds a little-endian stream with one IFD at offset 8.
func rawTIFF(next uint32, entries ...[12]byte) []byte {
	le := binary.LittleEndian
	buf := []byte{'I', 'I', 42, 0, 8, 0, 0, 0}
	buf = le.AppendUint16(buf, uint16(len(entries)))
	for _, e := range entries {
		buf = append(buf, e[:]...)
	}
	return le.AppendUint32(buf, next)
}

func entry(tag uint16, typ Type, count, value uint32) [12]byte {
	var e [12]byte
	le := binary.LittleEndian
	le.PutUint16(e[0:], tag)
	le.PutUint16(e[2:], uint16(typ))
	le.PutUint32(e[4:], count)
	le.PutUint32(e[8:], value)
	return e
}

func TestDecodeCycleGuard(t *testing.T) {
	// IFD0 names itself as IFD1 and as the Exif IFD.
	raw := rawTIFF(8,
		entry(0x0112, TypeShort, 1, 1),
		entry(tagExifIFD, TypeLong, 1, 8),
	)
	b, err := Decode(raw)
	if b == nil {
		t.Fatalf("Decode dropped the primary IFD: %v", err)
	}
	if !errors.Is(err, core.ErrMalformedMetadata) {
		t.Errorf("err = %v, want ErrMalformedMetadata", err)
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 2 {
		t.Errorf("want two recorded problems, got %v", err)
	}
	if !b.Partial() {
		t.Error("Partial() = false")
	}
	if _, ok := b.Get(keyOrient); !ok {
		t.Error("Orientation lost")
	}
}

func TestDecodeDropsTagWithBadOffset(t *testing.T) {
	raw := rawTIFF(0,
		entry(0x010F, TypeASCII, 40, 5000),
		entry(0x0112, TypeShort, 1, 6),
	)
	b, err := Decode(raw)
	if b == nil || err == nil {
		t.Fatalf("Decode = %v, %v; want partial block and error", b, err)
	}
	if _, ok := b.Get(keyMake); ok {
		t.Error("Make with out-of-range offset was kept")
	}
	if v, _ := b.Get(keyOrient); cmp.Diff(Value(Shorts{6}), v) != "" {
		t.Errorf("Orientation = %v, want 6", v)
	}
}

func TestDecodeRejectsTruncatedPrimary(t *testing.T) {
	raw := []byte{'M', 'M', 0, 42, 0, 0, 0x10, 0}
	if b, err := Decode(raw); b != nil || !errors.Is(err, core.ErrMalformedMetadata) {
		t.Errorf("Decode = %v, %v; want nil, ErrMalformedMetadata", b, err)
	}
	if _, err := Decode([]byte("XX*\x00")); !errors.Is(err, core.ErrMalformedMetadata) {
		t.Errorf("short header err = %v", err)
	}
}

func TestEncodeAppendWipesOldDirectories(t *testing.T) {
	pixels := []byte{10, 20, 30, 40, 50, 60}
	le := binary.LittleEndian
	// header, IFD0 with 3 entries at 8 (size 2+36+4 = 42), pixels at 50
	file := rawTIFF(0,
		entry(0x0100, TypeLong, 1, 3),
		entry(tagStripOffsets, TypeLong, 1, 50),
		entry(tagStripByteCount, TypeLong, 1, uint32(len(pixels))),
	)
	file = append(file, pixels...)

	b, err := DecodeFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Set(keyArtist, ASCII("Ada")); err != nil {
		t.Fatal(err)
	}
	out, err := b.EncodeAppend(file)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out[50:56], pixels) {
		t.Errorf("pixels moved or changed: % x", out[50:56])
	}
	if !bytes.Equal(out[8:50], make([]byte, 42)) {
		t.Errorf("old IFD0 left in place: % x", out[8:50])
	}
	if first := le.Uint32(out[4:]); first < uint32(len(file)) {
		t.Errorf("header points at %d, inside the original file", first)
	}
	back, err := DecodeFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := back.Get(keyArtist); v == nil || v.String() != "Ada" {
		t.Errorf("Artist = %v", v)
	}
	r := back.DataRanges()
	if len(r) != 1 || !bytes.Equal(out[r[0].Off:r[0].Off+r[0].Len], pixels) {
		t.Errorf("DataRanges = %v", r)
	}
	if err := back.Verify(out); err != nil {
		t.Errorf("Verify: %v", err)
	}

	// The directories now sit at the end of the file, so a second save
	// reuses their space instead of growing the file.
	again, err := back.EncodeAppend(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != len(out) {
		t.Errorf("second save: %d bytes, want %d", len(again), len(out))
	}
	if !bytes.Equal(again[50:56], pixels) {
		t.Error("second save moved the pixels")
	}
}

func TestEncodeAppendWithoutSourceKeepsFile(t *testing.T) {
	file := rawTIFF(0, entry(0x0100, TypeLong, 1, 3))
	b := NewBlock(binary.LittleEndian)
	if err := b.Set(keyArtist, ASCII("Ada")); err != nil {
		t.Fatal(err)
	}
	out, err := b.EncodeAppend(file)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out[8:len(file)], file[8:]) {
		t.Error("a block not read from the file changed its bytes")
	}
}

func TestEmptyASCIIKeepsCount(t *testing.T) {
	keyDesc := Key{IFDPrimary, 0x010E}
	raw := rawTIFF(0,
		entry(0x010E, TypeASCII, 0, 0),
		entry(0x0112, TypeShort, 1, 1),
	)
	b, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := b.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Verify(enc); err != nil {
		t.Errorf("Verify: %v", err)
	}
	back, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	v, ok := back.Get(keyDesc)
	if !ok || v.Type() != TypeASCII || v.Count() != 0 {
		t.Errorf("ImageDescription = %#v, want ASCII with count 0", v)
	}
}

func TestUnknownTypeKeepsField(t *testing.T) {
	key := Key{IFDPrimary, 0xC000}
	raw := rawTIFF(0,
		entry(0x0112, TypeShort, 1, 1),
		entry(0xC000, Type(99), 3, 0x11223344),
	)
	b, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := Value(Opaque{Typ: Type(99), N: 3, Raw: []byte{0x44, 0x33, 0x22, 0x11}})
	if v, _ := b.Get(key); cmp.Diff(want, v) != "" {
		t.Fatalf("decoded %#v, want %#v", v, want)
	}
	enc, err := b.Encode()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, mustGet(back, key)); diff != "" {
		t.Errorf("re-encoded field mismatch (-want +got):\n%s", diff)
	}
}

func mustGet(b *Block, k Key) Value {
	v, _ := b.Get(k)
	return v
}

func TestStructuralTagsRejected(t *testing.T) {
	b := NewBlock(nil)
	for _, k := range []Key{{IFDPrimary, tagGPSIFD}, {IFDExif, tagInteropIFD}, {IFDThumbnail, tagThumbOffset}} {
		if err := b.Set(k, Longs{0}); !errors.Is(err, core.ErrUnsupportedValue) {
			t.Errorf("Set(%s) err = %v", k, err)
		}
	}
}

func TestLookupNameAndParseValue(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		text string
		want Value
	}{
		{"Model", keyModel, "EOS R5 II", ASCII("EOS R5 II")},
		{"Exif.Image.Orientation", keyOrient, "6", Shorts{6}},
		{"Photo.ExposureTime", keyExpTime, "1/250", Rationals{{1, 250}}},
		{"Exif.Photo.ExposureBiasValue", keyBias, "-0.5", SRationals{{-5000, 10000}}},
		{"GPSInfo.GPSAltitudeRef", KeyGPSAltitudeRef, "1", Bytes{1}},
		{"Photo.0x9003", Key{IFDExif, 0x9003}, "2024:01:02 03:04:05", ASCII("2024:01:02 03:04:05")},
		{"Thumbnail.Compression", keyThumbCmp, "6", Shorts{6}},
	}
	for _, tt := range tests {
		k, ok := LookupName(tt.name)
		if !ok || k != tt.key {
			t.Errorf("LookupName(%q) = %v, %v; want %v", tt.name, k, ok, tt.key)
			continue
		}
		v, err := ParseValue(k, tt.text)
		if err != nil {
			t.Errorf("ParseValue(%s, %q): %v", k, tt.text, err)
			continue
		}
		if diff := cmp.Diff(tt.want, v); diff != "" {
			t.Errorf("ParseValue(%s, %q) (-want +got):\n%s", k, tt.text, diff)
		}
	}
	if _, ok := LookupName("Nope.Model"); ok {
		t.Error("unknown group resolved")
	}
	if _, err := ParseValue(keyOrient, "sideways"); !errors.Is(err, core.ErrUnsupportedValue) {
		t.Errorf("bad short err = %v", err)
	}
	if got := keyMake.String(); got != "Exif.Image.Make" {
		t.Errorf("Key.String = %q", got)
	}
}

func TestDisplayDecodesTextTags(t *testing.T) {
	k, _ := LookupName("XPTitle")
	v, err := ParseValue(k, "Gölden Gate")
	if err != nil {
		t.Fatal(err)
	}
	if got := Display(k, v); got != "Gölden Gate" {
		t.Errorf("Display XPTitle = %q", got)
	}
	uc := Key{IFDExif, 0x9286}
	v, _ = ParseValue(uc, "hello")
	if got := Display(uc, v); got != "hello" {
		t.Errorf("Display UserComment = %q", got)
	}
}

func FuzzDecode(f *testing.F) {
	b := NewBlock(binary.LittleEndian)
	_ = b.Set(keyMake, ASCII("Canon"))
	_ = b.SetLatLong(1, 2)
	raw, _ := b.Encode()
	f.Add(raw)
	f.Add(rawTIFF(8, entry(tagExifIFD, TypeLong, 1, 8)))
	f.Fuzz(func(t *testing.T, data []byte) {
		// must not panic
		blk, _ := Decode(data)
		if blk == nil {
			return
		}
		if _, err := blk.Encode(); err != nil {
			t.Fatalf("decoded block failed to encode: %v", err)
		}
	})
}
