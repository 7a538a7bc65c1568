package iptc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ankit-chaubey/metastrip/core"
)

func iim(datasets ...Dataset) []byte {
	var b []byte
	for _, ds := range datasets {
		b = append(b, tagMarker, ds.Record, ds.ID, byte(len(ds.Data)>>8), byte(len(ds.Data)))
		b = append(b, ds.Data...)
	}
	return b
}

func TestDecodeEncodeIdentity(t *testing.T) {
	raw := iim(
		Dataset{2, 0, []byte{0, 4}},
		Dataset{2, 25, []byte("sea")},
		Dataset{2, 25, []byte("sky")},
		Dataset{2, 120, []byte("A caption")},
		Dataset{2, 250, []byte{1, 2, 3}},
	)
	rec, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.Texts(2, 25); !cmp.Equal(got, []string{"sea", "sky"}) {
		t.Errorf("Keywords = %q", got)
	}
	out, err := rec.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, raw) {
		t.Errorf("Encode = % x\nwant     % x", out, raw)
	}
}

func TestDecodeExtendedLength(t *testing.T) {
	raw := []byte{tagMarker, 2, 202, 0x80, 0x02, 0x00, 0x03, 'a', 'b', 'c'}
	rec, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := rec.Get(2, 202); string(v) != "abc" {
		t.Errorf("extended dataset = %q", v)
	}

	big := bytes.Repeat([]byte{'x'}, 0x8000)
	r := New()
	r.Set(2, 202, big)
	enc, err := r.Encode()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := back.Get(2, 202); !bytes.Equal(v, big) {
		t.Errorf("extended round trip lost %d bytes", len(big)-len(v))
	}
}

func TestDecodePaddingAndGarbage(t *testing.T) {
	raw := append(iim(Dataset{2, 5, []byte("title")}), 0, 0, 0)
	rec, err := Decode(raw)
	if err != nil || rec.Len() != 1 {
		t.Errorf("padded stream: %v datasets, err %v", rec.Len(), err)
	}

	raw = append(iim(Dataset{2, 5, []byte("title")}), 0x42, 0x00)
	rec, err = Decode(raw)
	if !errors.Is(err, core.ErrMalformedMetadata) {
		t.Errorf("garbage err = %v", err)
	}
	if rec.Len() != 1 {
		t.Errorf("prefix lost: %d datasets", rec.Len())
	}

	raw = []byte{tagMarker, 2, 5, 0x00, 0x40, 'x'}
	if _, err := Decode(raw); !errors.Is(err, core.ErrMalformedMetadata) {
		t.Errorf("overlong dataset err = %v", err)
	}
}

func TestSetAddRemove(t *testing.T) {
	r := New()
	if err := r.SetText(2, 80, "Jane"); err != nil {
		t.Fatal(err)
	}
	r.Add(2, 25, []byte("one"))
	r.Add(2, 25, []byte("two"))
	r.Set(1, 0, []byte{0, 4})
	want := []Key{{1, 0}, {2, 0}, {2, 80}, {2, 25}, {2, 25}}
	var got []Key
	for _, ds := range r.Datasets {
		got = append(got, Key{ds.Record, ds.ID})
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dataset order (-want +got):\n%s", diff)
	}
	r.Set(2, 25, []byte("only"))
	if got := r.Values(2, 25); len(got) != 1 || string(got[0]) != "only" {
		t.Errorf("Set left %q", got)
	}
	if n := r.Remove(2, 25); n != 1 {
		t.Errorf("Remove = %d", n)
	}
	if r.Rev() == 0 {
		t.Error("edits did not bump Rev")
	}
}

func TestTextCharsets(t *testing.T) {
	rec, err := Decode(iim(Dataset{2, 90, []byte{'K', 0xF6, 'l', 'n'}}))
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := rec.Text(2, 90); s != "Köln" {
		t.Errorf("Latin-1 City = %q", s)
	}
	if err := rec.SetText(2, 101, "Österreich"); err != nil {
		t.Fatal(err)
	}
	if v, _ := rec.Get(2, 101); !bytes.Equal(v, []byte("\xD6sterreich")) {
		t.Errorf("stored as % x, want Latin-1", v)
	}
	if rec.UTF8() {
		t.Fatal("switched to UTF-8 for Latin-1 text")
	}

	if err := rec.SetText(2, 120, "東京"); err != nil {
		t.Fatal(err)
	}
	if !rec.UTF8() {
		t.Fatal("1:90 not set for text outside Latin-1")
	}
	for _, c := range []struct {
		id   byte
		want string
	}{{90, "Köln"}, {101, "Österreich"}, {120, "東京"}} {
		v, _ := rec.Get(2, c.id)
		if string(v) != c.want {
			t.Errorf("2:%d stored %q, want UTF-8 %q", c.id, v, c.want)
		}
	}
}

func TestIRB(t *testing.T) {
	iptcData := iim(Dataset{2, 5, []byte("xy")})
	raw := []byte("8BIM\x04\x0c\x00\x00\x00\x00\x00\x02ab")
	raw = append(raw, []byte("8BIM\x04\x04\x03abc")...)
	raw = append(raw, 0, 0, 0, byte(len(iptcData)))
	raw = append(raw, iptcData...)
	raw = append(raw, 0) // pad odd data

	irb, err := ParseIRB(raw)
	if err != nil {
		t.Fatal(err)
	}
	if irb.Len() != 2 || string(irb.Resources[1].Name) != "abc" {
		t.Fatalf("resources = %+v", irb.Resources)
	}
	if v, _ := irb.Get(ResourceIPTC); !bytes.Equal(v, iptcData) {
		t.Errorf("IPTC resource = % x", v)
	}
	if out := irb.Encode(); !bytes.Equal(out, raw) {
		t.Errorf("Encode = % x\nwant     % x", out, raw)
	}

	irb.Set(ResourceIPTC, []byte("new"))
	if irb.Len() != 2 || irb.Resources[0].ID != 0x040C {
		t.Error("Set disturbed other resources")
	}
	if !irb.Delete(ResourceIPTC) || irb.Len() != 1 {
		t.Error("Delete failed")
	}
	irb.Set(ResourceIPTC, []byte("again"))
	if string(irb.Resources[1].Sig[:]) != "8BIM" {
		t.Errorf("new resource signature %q", irb.Resources[1].Sig)
	}
}

func TestIRBKeepsUnparsableTail(t *testing.T) {
	raw := append([]byte("8BIM\x04\x0c\x00\x00\x00\x00\x00\x00"), "junk"...)
	irb, err := ParseIRB(raw)
	if !errors.Is(err, core.ErrMalformedMetadata) {
		t.Errorf("err = %v", err)
	}
	if !bytes.Equal(irb.Encode(), raw) {
		t.Error("tail not preserved")
	}
}

func TestLookupName(t *testing.T) {
	for name, want := range map[string]Key{
		"Keywords":                  {2, 25},
		"Iptc.Application2.Caption": {2, 120},
		"By-line":                   {2, 80},
		"2:116":                     {2, 116},
	} {
		if got, ok := LookupName(name); !ok || got != want {
			t.Errorf("LookupName(%q) = %v, %v", name, got, ok)
		}
	}
	if got := (Key{2, 25}).String(); got != "Iptc.Application2.Keywords" {
		t.Errorf("String = %q", got)
	}
	if !(Key{2, 25}).Repeatable() || (Key{2, 5}).Repeatable() {
		t.Error("Repeatable wrong")
	}
}

func FuzzDecode(f *testing.F) {
	f.Add(iim(Dataset{2, 25, []byte("k")}))
	f.Add([]byte{tagMarker, 2, 1, 0x80, 0x08})
	f.Fuzz(func(t *testing.T, data []byte) {
		rec, _ := Decode(data)
		if rec == nil {
			t.Fatal("nil record")
		}
		_, _ = ParseIRB(data)
	})
}
