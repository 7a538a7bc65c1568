// Package testimg builds small image files carrying known metadata for tests.
package testimg

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/ankit-chaubey/metastrip/core/binio"
	"github.com/ankit-chaubey/metastrip/core/exif"
	"github.com/ankit-chaubey/metastrip/core/iptc"
	"github.com/ankit-chaubey/metastrip/core/xmp"
)

// Meta is the metadata embedded by the builders. Nil fields are left out.
type Meta struct {
	Exif []byte // TIFF stream
	XMP  []byte
	IPTC []byte // IIM record; JPEG and TIFF only
}

var (
	KeyMake      = exif.Key{IFD: exif.IFDPrimary, Tag: 0x010F}
	KeyModel     = exif.Key{IFD: exif.IFDPrimary, Tag: 0x0110}
	KeyDateTime  = exif.Key{IFD: exif.IFDPrimary, Tag: 0x0132}
	KeyMakerNote = exif.Key{IFD: exif.IFDExif, Tag: 0x927C}
	KeyISO       = exif.Key{IFD: exif.IFDExif, Tag: 0x8827}
)

// MakerNote is an opaque vendor blob the sample EXIF carries.
var MakerNote = []byte("CANON\x00\x01\x02\x03\xFE\xFF\x00odd-length")

// Exif encodes a little-endian EXIF block with a camera and a position.
func Exif(tb testing.TB, maker, model string, lat, lon float64) []byte {
	tb.Helper()
	b := NewExif(tb, maker, model, lat, lon)
	raw, err := b.Encode()
	if err != nil {
		tb.Fatalf("encoding sample EXIF: %v", err)
	}
	return raw
}

// NewExif returns the block Exif encodes.
func NewExif(tb testing.TB, maker, model string, lat, lon float64) *exif.Block {
	tb.Helper()
	b := exif.NewBlock(binary.LittleEndian)
	for _, kv := range []struct {
		k exif.Key
		v exif.Value
	}{
		{KeyMake, exif.ASCII(maker)},
		{KeyModel, exif.ASCII(model)},
		{KeyDateTime, exif.ASCII("2024:06:01 12:00:00")},
		{KeyISO, exif.Shorts{200}},
		{KeyMakerNote, exif.Undefined(MakerNote)},
	} {
		if err := b.Set(kv.k, kv.v); err != nil {
			tb.Fatal(err)
		}
	}
	if err := b.SetLatLong(lat, lon); err != nil {
		tb.Fatal(err)
	}
	return b
}

// XMP returns a padded packet with a creator tool and a city.
func XMP(tb testing.TB) []byte {
	tb.Helper()
	p := xmp.New()
	if err := p.Set("xmp:CreatorTool", "testimg"); err != nil {
		tb.Fatal(err)
	}
	if err := p.Set("photoshop:City", "San Francisco"); err != nil {
		tb.Fatal(err)
	}
	return p.Bytes()
}

// IPTC returns an IIM record with a by-line and two keywords.
func IPTC(tb testing.TB) []byte {
	tb.Helper()
	r := iptc.New()
	for _, err := range []error{
		r.SetText(2, 80, "Jane Doe"),
		r.AddText(2, 25, "bridge"),
		r.AddText(2, 25, "fog"),
	} {
		if err != nil {
			tb.Fatal(err)
		}
	}
	raw, err := r.Encode()
	if err != nil {
		tb.Fatal(err)
	}
	return raw
}

// Full returns all three namespaces for a Canon EOS R5 in San Francisco.
func Full(tb testing.TB) Meta {
	tb.Helper()
	return Meta{
		Exif: Exif(tb, "Canon", "EOS R5", 37.7749, -122.4194),
		XMP:  XMP(tb),
		IPTC: IPTC(tb),
	}
}

// Pixels is a small deterministic gradient.
func Pixels(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 32), B: 128, A: 255})
		}
	}
	return img
}

// Payload is filler standing in for a compressed codestream.
func Payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

// ─── JPEG ────────────────────────────────────────────────────────────────────

// JPEG encodes a 16x8 baseline JPEG and inserts metadata segments after SOI.
func JPEG(tb testing.TB, m Meta) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Pixels(16, 8), &jpeg.Options{Quality: 90}); err != nil {
		tb.Fatal(err)
	}
	raw := buf.Bytes()
	out := []byte{0xFF, 0xD8}
	if m.Exif != nil {
		out = append(out, segment(0xE1, "Exif\x00\x00", m.Exif)...)
	}
	if m.XMP != nil {
		out = append(out, segment(0xE1, "http://ns.adobe.com/xap/1.0/\x00", m.XMP)...)
	}
	if m.IPTC != nil {
		irb := &iptc.IRB{}
		irb.Set(iptc.ResourceIPTC, m.IPTC)
		out = append(out, segment(0xED, string(iptc.PhotoshopPrefix), irb.Encode())...)
	}
	return append(out, raw[2:]...)
}

func segment(marker byte, prefix string, payload []byte) []byte {
	n := 2 + len(prefix) + len(payload)
	out := []byte{0xFF, marker, byte(n >> 8), byte(n)}
	out = append(out, prefix...)
	return append(out, payload...)
}

// ─── PNG ─────────────────────────────────────────────────────────────────────

// PNG encodes a 16x8 PNG and inserts eXIf, an XMP iTXt and a tEXt comment
// before the first IDAT.
func PNG(tb testing.TB, m Meta) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, Pixels(16, 8)); err != nil {
		tb.Fatal(err)
	}
	raw := buf.Bytes()
	idat := bytes.Index(raw, []byte("IDAT")) - 4
	out := append([]byte(nil), raw[:idat]...)
	out = append(out, PNGChunk("tEXt", []byte("Comment\x00made by testimg"))...)
	if m.Exif != nil {
		out = append(out, PNGChunk("eXIf", m.Exif)...)
	}
	if m.XMP != nil {
		body := append([]byte("XML:com.adobe.xmp\x00\x00\x00\x00\x00"), m.XMP...)
		out = append(out, PNGChunk("iTXt", body)...)
	}
	return append(out, raw[idat:]...)
}

// PNGChunk frames one chunk with its CRC.
func PNGChunk(typ string, body []byte) []byte {
	w := binio.NewWriter(binary.BigEndian, 12+len(body))
	w.U32(uint32(len(body)))
	w.String(typ)
	w.Write(body)
	h := crc32.NewIEEE()
	h.Write([]byte(typ))
	h.Write(body)
	w.U32(h.Sum32())
	return w.Bytes()
}

// ─── TIFF ────────────────────────────────────────────────────────────────────

// TIFF encodes a 16x8 uncompressed TIFF and appends an IFD chain carrying
// the EXIF tags, the XMP packet and the IPTC record.
func TIFF(tb testing.TB, m Meta) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, Pixels(16, 8), nil); err != nil {
		tb.Fatal(err)
	}
	raw := buf.Bytes()
	if m.Exif == nil && m.XMP == nil && m.IPTC == nil {
		return raw
	}
	blk, err := exif.DecodeFile(raw)
	if err != nil {
		tb.Fatal(err)
	}
	if m.Exif != nil {
		src, err := exif.Decode(m.Exif)
		if err != nil {
			tb.Fatal(err)
		}
		for _, k := range src.Keys() {
			v, _ := src.Get(k)
			if err := blk.Set(k, v); err != nil {
				tb.Fatal(err)
			}
		}
	}
	if m.XMP != nil {
		if err := blk.Set(exif.Key{IFD: exif.IFDPrimary, Tag: exif.TagXMLPacket}, exif.Bytes(m.XMP)); err != nil {
			tb.Fatal(err)
		}
	}
	if m.IPTC != nil {
		if err := blk.Set(exif.Key{IFD: exif.IFDPrimary, Tag: exif.TagIPTCNAA}, exif.Undefined(m.IPTC)); err != nil {
			tb.Fatal(err)
		}
	}
	out, err := blk.EncodeAppend(raw)
	if err != nil {
		tb.Fatal(err)
	}
	return out
}

// ─── WebP ────────────────────────────────────────────────────────────────────

// vp8l1x1 is a lossless 1x1 bitstream with the alpha hint set.
var vp8l1x1 = []byte{0x2F, 0x00, 0x00, 0x00, 0x10, 0x07, 0x10, 0x11, 0x11, 0x88, 0x88, 0xFE, 0x07}

// WebP builds a 1x1 lossless WebP. Without metadata and with extended unset
// the file is the simple format, a lone VP8L chunk.
func WebP(tb testing.TB, m Meta, extended bool) []byte {
	tb.Helper()
	body := []byte("WEBP")
	if extended || m.Exif != nil || m.XMP != nil {
		flags := byte(0x10)
		if m.Exif != nil {
			flags |= 0x08
		}
		if m.XMP != nil {
			flags |= 0x04
		}
		body = append(body, riffChunk("VP8X", []byte{flags, 0, 0, 0, 0, 0, 0, 0, 0, 0})...)
	}
	body = append(body, riffChunk("VP8L", vp8l1x1)...)
	if m.Exif != nil {
		body = append(body, riffChunk("EXIF", m.Exif)...)
	}
	if m.XMP != nil {
		body = append(body, riffChunk("XMP ", m.XMP)...)
	}
	w := binio.NewWriter(binary.LittleEndian, 8+len(body))
	w.String("RIFF")
	w.U32(uint32(len(body)))
	w.Write(body)
	return w.Bytes()
}

func riffChunk(id string, data []byte) []byte {
	w := binio.NewWriter(binary.LittleEndian, 9+len(data))
	w.String(id)
	w.U32(uint32(len(data)))
	w.Write(data)
	if len(data)%2 == 1 {
		w.U8(0)
	}
	return w.Bytes()
}

// ─── HEIF ────────────────────────────────────────────────────────────────────

// HEIFOptions shapes the HEIF builder.
type HEIFOptions struct {
	Brand      string // major brand, "heic" when empty
	ExifInIdat bool   // store the Exif item in idat (construction method 1)
	SizeZero   bool   // write the mdat with size 0, running to end of file
}

const (
	heifPrimaryID = 1
	heifExifID    = 2
	heifXMPID     = 3
	// HEIFWidth and HEIFHeight are the ispe of the primary item.
	HEIFWidth  = 64
	HEIFHeight = 48
)

// HEIFCodestream is the primary item's payload in every HEIF fixture.
var HEIFCodestream = Payload(200)

type heifItem struct {
	id      uint16
	typ     string
	ctype   string
	data    []byte
	inIdat  bool
	dataOff uint32
}

// HEIF assembles a still image: an hvc1 (or av01) primary item in mdat plus
// optional Exif and XMP items referencing it with cdsc.
func HEIF(tb testing.TB, m Meta, o HEIFOptions) []byte {
	tb.Helper()
	brand := o.Brand
	if brand == "" {
		brand = "heic"
	}
	codec := "hvc1"
	if brand == "avif" {
		codec = "av01"
	}
	items := []*heifItem{{id: heifPrimaryID, typ: codec, data: HEIFCodestream}}
	if m.Exif != nil {
		items = append(items, &heifItem{id: heifExifID, typ: "Exif", data: append([]byte{0, 0, 0, 0}, m.Exif...), inIdat: o.ExifInIdat})
	}
	if m.XMP != nil {
		items = append(items, &heifItem{id: heifXMPID, typ: "mime", ctype: "application/rdf+xml", data: m.XMP})
	}

	ftyp := box("ftyp", []byte(brand+"\x00\x00\x00\x00"+brand+"mif1"))
	meta := heifMeta(items)
	// offsets have a fixed width, so the meta size is known after one pass
	mdatData := uint32(len(ftyp) + len(meta) + 8)
	var mdat []byte
	for _, it := range items {
		if it.inIdat {
			continue
		}
		it.dataOff = mdatData + uint32(len(mdat))
		mdat = append(mdat, it.data...)
	}
	meta = heifMeta(items)

	out := append(ftyp, meta...)
	mbox := box("mdat", mdat)
	if o.SizeZero {
		binary.BigEndian.PutUint32(mbox, 0)
	}
	return append(out, mbox...)
}

func heifMeta(items []*heifItem) []byte {
	hdlr := fullBox("hdlr", 0, append([]byte{0, 0, 0, 0, 'p', 'i', 'c', 't'}, make([]byte, 13)...))
	pitm := fullBox("pitm", 0, []byte{0, heifPrimaryID})

	iinf := binio.NewWriter(binary.BigEndian, 128)
	iinf.U16(uint16(len(items)))
	for _, it := range items {
		e := binio.NewWriter(binary.BigEndian, 32)
		e.U16(it.id)
		e.U16(0)
		e.String(it.typ)
		e.U8(0)
		if it.ctype != "" {
			e.String(it.ctype)
			e.U8(0)
		}
		iinf.Write(fullBox("infe", 2, e.Bytes()))
	}

	iref := binio.NewWriter(binary.BigEndian, 32)
	var idat []byte
	iloc := binio.NewWriter(binary.BigEndian, 64)
	iloc.U8(0x44) // offset_size 4, length_size 4
	iloc.U8(0x00) // base_offset_size 0, index_size 0
	iloc.U16(uint16(len(items)))
	for _, it := range items {
		if it.id != heifPrimaryID {
			iref.Write(box("cdsc", []byte{0, byte(it.id), 0, 1, 0, heifPrimaryID}))
		}
		iloc.U16(it.id)
		off := it.dataOff
		if it.inIdat {
			iloc.U16(1)
			off = uint32(len(idat))
			idat = append(idat, it.data...)
		} else {
			iloc.U16(0)
		}
		iloc.U16(0)
		iloc.U16(1)
		iloc.U32(off)
		iloc.U32(uint32(len(it.data)))
	}

	ispe := fullBox("ispe", 0, []byte{0, 0, 0, HEIFWidth, 0, 0, 0, HEIFHeight})
	ipma := fullBox("ipma", 0, []byte{0, 0, 0, 1, 0, heifPrimaryID, 1, 0x81})
	iprp := box("iprp", append(box("ipco", ispe), ipma...))

	var body []byte
	body = append(body, 0, 0, 0, 0)
	body = append(body, hdlr...)
	body = append(body, pitm...)
	body = append(body, fullBox("iinf", 0, iinf.Bytes())...)
	if iref.Len() > 0 {
		body = append(body, fullBox("iref", 0, iref.Bytes())...)
	}
	body = append(body, iprp...)
	if idat != nil {
		body = append(body, box("idat", idat)...)
	}
	body = append(body, fullBox("iloc", 1, iloc.Bytes())...)
	return box("meta", body)
}

func box(typ string, payload []byte) []byte {
	w := binio.NewWriter(binary.BigEndian, 8+len(payload))
	w.U32(uint32(8 + len(payload)))
	w.String(typ)
	w.Write(payload)
	return w.Bytes()
}

func fullBox(typ string, version uint8, payload []byte) []byte {
	return box(typ, append([]byte{version, 0, 0, 0}, payload...))
}

// ─── JPEG XL ─────────────────────────────────────────────────────────────────

// JXLCodestream is the codestream in every JPEG XL fixture.
var JXLCodestream = append([]byte{0xFF, 0x0A}, Payload(120)...)

// JXL wraps JXLCodestream in the box container with Exif and xml boxes in
// front of jxlc. With naked set, and no metadata, the bare codestream is returned.
func JXL(tb testing.TB, m Meta, naked bool) []byte {
	tb.Helper()
	if naked {
		return append([]byte(nil), JXLCodestream...)
	}
	out := []byte{0, 0, 0, 0x0C, 'J', 'X', 'L', ' ', 0x0D, 0x0A, 0x87, 0x0A}
	out = append(out, box("ftyp", []byte("jxl \x00\x00\x00\x00jxl "))...)
	if m.Exif != nil {
		out = append(out, box("Exif", append([]byte{0, 0, 0, 0}, m.Exif...))...)
	}
	if m.XMP != nil {
		out = append(out, box("xml ", m.XMP)...)
	}
	return append(out, box("jxlc", JXLCodestream)...)
}
