// Package iptc reads and writes IPTC-IIM records and the Photoshop image
// resource blocks (IRB) that carry them in JPEG APP13 segments.
package iptc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/binio"
)

// ResourceIPTC is the image resource ID of an IPTC-NAA record.
const ResourceIPTC = 0x0404

// PhotoshopPrefix starts the payload of a JPEG APP13 IRB segment.
var PhotoshopPrefix = []byte("Photoshop 3.0\x00")

var signatures = [][]byte{[]byte("8BIM"), []byte("PHUT"), []byte("AgHg"), []byte("DCSR"), []byte("MeSa")}

// Resource is one image resource block.
type Resource struct {
	Sig  [4]byte
	ID   uint16
	Name []byte // Pascal string body, without length byte or padding
	Data []byte
}

// IRB is an ordered list of image resources. Bytes that do not parse as a
// resource are kept in Trailer and written back unchanged.
type IRB struct {
	Resources []Resource
	Trailer   []byte
}

// ParseIRB splits an image resource block. It stops at the first unreadable
// resource; the resources read so far are returned with the error.
func ParseIRB(raw []byte) (*IRB, error) {
	irb := &IRB{}
	c := binio.NewCursor(raw, binary.BigEndian)
	for c.Remaining() > 0 {
		start := c.Pos()
		r, err := readResource(c)
		if err != nil {
			irb.Trailer = append([]byte(nil), raw[start:]...)
			if allZero(irb.Trailer) {
				return irb, nil
			}
			return irb, fmt.Errorf("%w: image resource at %d: %w", core.ErrMalformedMetadata, start, err)
		}
		irb.Resources = append(irb.Resources, r)
	}
	return irb, nil
}

func readResource(c *binio.Cursor) (Resource, error) {
	var r Resource
	sig, err := c.Slice(4)
	if err != nil {
		return r, err
	}
	if !knownSignature(sig) {
		return r, fmt.Errorf("signature %q", sig)
	}
	copy(r.Sig[:], sig)
	if r.ID, err = c.U16(); err != nil {
		return r, err
	}
	n, err := c.U8()
	if err != nil {
		return r, err
	}
	name, err := c.Slice(int(n))
	if err != nil {
		return r, err
	}
	r.Name = append([]byte(nil), name...)
	// length byte plus name is padded to even
	if n%2 == 0 {
		if err := c.Skip(1); err != nil {
			return r, err
		}
	}
	size, err := c.U32()
	if err != nil {
		return r, err
	}
	data, err := c.Slice(int(size))
	if err != nil {
		return r, err
	}
	r.Data = append([]byte(nil), data...)
	if size%2 == 1 && c.Remaining() > 0 {
		_ = c.Skip(1)
	}
	return r, nil
}

func knownSignature(sig []byte) bool {
	for _, s := range signatures {
		if bytes.Equal(sig, s) {
			return true
		}
	}
	return false
}

// Encode serialises the resources with even padding followed by the trailer.
func (irb *IRB) Encode() []byte {
	w := binio.NewWriter(binary.BigEndian, 64)
	for _, r := range irb.Resources {
		w.Write(r.Sig[:])
		w.U16(r.ID)
		w.U8(uint8(len(r.Name)))
		w.Write(r.Name)
		if len(r.Name)%2 == 0 {
			w.U8(0)
		}
		w.U32(uint32(len(r.Data)))
		w.Write(r.Data)
		if len(r.Data)%2 == 1 {
			w.U8(0)
		}
	}
	w.Write(irb.Trailer)
	return w.Bytes()
}

// Get returns the data of the first resource with the given ID.
func (irb *IRB) Get(id uint16) ([]byte, bool) {
	for _, r := range irb.Resources {
		if r.ID == id {
			return r.Data, true
		}
	}
	return nil, false
}

// Set replaces the first resource with the given ID, or appends a new 8BIM
// resource. Later resources with the same ID are dropped.
func (irb *IRB) Set(id uint16, data []byte) {
	out := irb.Resources[:0]
	done := false
	for _, r := range irb.Resources {
		if r.ID != id {
			out = append(out, r)
			continue
		}
		if !done {
			r.Data = data
			out = append(out, r)
			done = true
		}
	}
	if !done {
		r := Resource{ID: id, Data: data}
		copy(r.Sig[:], "8BIM")
		out = append(out, r)
	}
	irb.Resources = out
}

// Delete removes every resource with the given ID and reports whether any existed.
func (irb *IRB) Delete(id uint16) bool {
	out := irb.Resources[:0]
	for _, r := range irb.Resources {
		if r.ID != id {
			out = append(out, r)
		}
	}
	removed := len(out) != len(irb.Resources)
	irb.Resources = out
	return removed
}

// Len is the number of resources.
func (irb *IRB) Len() int { return len(irb.Resources) }
