package iptc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/binio"
)

const tagMarker = 0x1C

// Records used by this package.
const (
	RecordEnvelope    = 1
	RecordApplication = 2
)

// escUTF8 is the 1:90 CodedCharacterSet value declaring UTF-8.
var escUTF8 = []byte{0x1B, 0x25, 0x47}

// Dataset is one IIM dataset. Data is kept as stored.
type Dataset struct {
	Record byte
	ID     byte
	Data   []byte
}

// Record is an ordered list of datasets. Repeated datasets such as Keywords
// appear once per value, in file order.
type Record struct {
	Datasets []Dataset
	rev      uint64
}

// New returns a record holding only the application record version.
func New() *Record {
	return &Record{Datasets: []Dataset{{Record: RecordApplication, ID: 0, Data: []byte{0x00, 0x04}}}}
}

// Decode parses an IIM stream. Zero padding after the last dataset ends the
// stream quietly. Any other unparsable byte stops decoding; the datasets read
// before it are returned along with an error.
func Decode(raw []byte) (*Record, error) {
	rec := &Record{}
	c := binio.NewCursor(raw, binary.BigEndian)
	for c.Remaining() > 0 {
		start := c.Pos()
		m, _ := c.U8()
		if m != tagMarker {
			if allZero(raw[start:]) {
				break
			}
			return rec, fmt.Errorf("%w: iptc: byte %#x at %d is not a tag marker", core.ErrMalformedMetadata, m, start)
		}
		ds, err := readDataset(c)
		if err != nil {
			return rec, fmt.Errorf("%w: iptc: dataset at %d: %w", core.ErrMalformedMetadata, start, err)
		}
		rec.Datasets = append(rec.Datasets, ds)
	}
	return rec, nil
}

func readDataset(c *binio.Cursor) (Dataset, error) {
	var ds Dataset
	var err error
	if ds.Record, err = c.U8(); err != nil {
		return ds, err
	}
	if ds.ID, err = c.U8(); err != nil {
		return ds, err
	}
	n16, err := c.U16()
	if err != nil {
		return ds, err
	}
	size := uint64(n16)
	if n16&0x8000 != 0 {
		// extended dataset: the low bits give the width of the real length
		w := int(n16 & 0x7FFF)
		if w > 8 {
			return ds, fmt.Errorf("extended length of %d bytes", w)
		}
		if size, err = c.UintN(w); err != nil {
			return ds, err
		}
	}
	if size > uint64(c.Remaining()) {
		return ds, fmt.Errorf("length %d exceeds remaining %d bytes", size, c.Remaining())
	}
	data, err := c.Slice(int(size))
	if err != nil {
		return ds, err
	}
	ds.Data = append([]byte(nil), data...)
	return ds, nil
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

// Encode serialises the datasets in order.
func (r *Record) Encode() ([]byte, error) {
	w := binio.NewWriter(binary.BigEndian, 256)
	for _, ds := range r.Datasets {
		w.U8(tagMarker)
		w.U8(ds.Record)
		w.U8(ds.ID)
		if len(ds.Data) <= 0x7FFF {
			w.U16(uint16(len(ds.Data)))
		} else {
			if uint64(len(ds.Data)) > 0xFFFFFFFF {
				return nil, fmt.Errorf("%w: iptc %d:%d is %d bytes", core.ErrUnsupportedValue, ds.Record, ds.ID, len(ds.Data))
			}
			w.U16(0x8004)
			w.U32(uint32(len(ds.Data)))
		}
		w.Write(ds.Data)
	}
	return w.Bytes(), nil
}

// Rev counts modifications since Decode.
func (r *Record) Rev() uint64 { return r.rev }

// Len is the number of datasets.
func (r *Record) Len() int { return len(r.Datasets) }

// Get returns the first dataset with the given number.
func (r *Record) Get(record, id byte) ([]byte, bool) {
	for _, ds := range r.Datasets {
		if ds.Record == record && ds.ID == id {
			return ds.Data, true
		}
	}
	return nil, false
}

// Values returns every dataset with the given number, in order.
func (r *Record) Values(record, id byte) [][]byte {
	var out [][]byte
	for _, ds := range r.Datasets {
		if ds.Record == record && ds.ID == id {
			out = append(out, ds.Data)
		}
	}
	return out
}

// Set stores data in place of the first matching dataset and drops the rest.
// A new dataset goes after the last dataset of its record.
func (r *Record) Set(record, id byte, data []byte) {
	out := r.Datasets[:0]
	done := false
	for _, ds := range r.Datasets {
		if ds.Record != record || ds.ID != id {
			out = append(out, ds)
			continue
		}
		if !done {
			ds.Data = data
			out = append(out, ds)
			done = true
		}
	}
	r.Datasets = out
	if !done {
		r.insert(Dataset{Record: record, ID: id, Data: data})
	}
	r.rev++
}

// Add appends another value for a repeatable dataset.
func (r *Record) Add(record, id byte, data []byte) {
	r.insert(Dataset{Record: record, ID: id, Data: data})
	r.rev++
}

func (r *Record) insert(ds Dataset) {
	at := len(r.Datasets)
	for i, cur := range r.Datasets {
		if cur.Record > ds.Record {
			at = i
			break
		}
		if cur.Record == ds.Record {
			at = i + 1
		}
	}
	r.Datasets = append(r.Datasets, Dataset{})
	copy(r.Datasets[at+1:], r.Datasets[at:])
	r.Datasets[at] = ds
}

// Remove deletes every dataset with the given number and returns how many.
func (r *Record) Remove(record, id byte) int {
	out := r.Datasets[:0]
	for _, ds := range r.Datasets {
		if ds.Record != record || ds.ID != id {
			out = append(out, ds)
		}
	}
	n := len(r.Datasets) - len(out)
	r.Datasets = out
	if n > 0 {
		r.rev++
	}
	return n
}

// UTF8 reports whether 1:90 declares UTF-8 text.
func (r *Record) UTF8() bool {
	v, ok := r.Get(RecordEnvelope, 90)
	return ok && bytes.Equal(v, escUTF8)
}

// Text decodes a dataset as UTF-8 when the record declares it, and as
// ISO-8859-1 otherwise. Values that are already valid UTF-8 are returned as is.
func (r *Record) Text(record, id byte) (string, bool) {
	v, ok := r.Get(record, id)
	if !ok {
		return "", false
	}
	return r.decode(v), true
}

// Texts decodes every value of a repeatable dataset.
func (r *Record) Texts(record, id byte) []string {
	var out []string
	for _, v := range r.Values(record, id) {
		out = append(out, r.decode(v))
	}
	return out
}

func (r *Record) decode(v []byte) string {
	if r.UTF8() || utf8.Valid(v) {
		return string(v)
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(v)
	if err != nil {
		return string(v)
	}
	return string(s)
}

// SetText stores s in the record's character set. When s cannot be written
// in ISO-8859-1 the record switches to UTF-8: 1:90 is set and existing
// Latin-1 text is converted.
func (r *Record) SetText(record, id byte, s string) error {
	data, err := r.encodeText(s)
	if err != nil {
		return err
	}
	r.Set(record, id, data)
	return nil
}

// AddText appends another text value.
func (r *Record) AddText(record, id byte, s string) error {
	data, err := r.encodeText(s)
	if err != nil {
		return err
	}
	r.Add(record, id, data)
	return nil
}

func (r *Record) encodeText(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: iptc text is not valid UTF-8", core.ErrUnsupportedValue)
	}
	if r.UTF8() {
		return []byte(s), nil
	}
	if b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s)); err == nil {
		return b, nil
	}
	r.toUTF8()
	return []byte(s), nil
}

func (r *Record) toUTF8() {
	for i, ds := range r.Datasets {
		if ds.Record != RecordApplication || !textual(ds.ID) || utf8.Valid(ds.Data) {
			continue
		}
		if s, err := charmap.ISO8859_1.NewDecoder().Bytes(ds.Data); err == nil {
			r.Datasets[i].Data = s
		}
	}
	r.Set(RecordEnvelope, 90, append([]byte(nil), escUTF8...))
}

// textual reports whether an application dataset holds text. Record
// version (2:00) and ObjectPreviewData (2:202) are binary.
func textual(id byte) bool {
	return id != 0 && id < 200
}
