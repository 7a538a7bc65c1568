// Package xmp edits XMP packets in place. Properties are found and replaced
// by searching the packet text, so everything not touched by an edit keeps
// its exact bytes, layout and padding.
package xmp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/ankit-chaubey/metastrip/core"
)

// ErrNoMatch is returned when an edit finds no place in the packet to apply
// itself. The packet is left unchanged.
var ErrNoMatch = fmt.Errorf("%w: xmp: no matching property or rdf:Description", core.ErrUnsupportedValue)

// Well-known namespaces by conventional prefix.
var namespaces = map[string]string{
	"dc":           "http://purl.org/dc/elements/1.1/",
	"xmp":          "http://ns.adobe.com/xap/1.0/",
	"xmpRights":    "http://ns.adobe.com/xap/1.0/rights/",
	"xmpMM":        "http://ns.adobe.com/xap/1.0/mm/",
	"exif":         "http://ns.adobe.com/exif/1.0/",
	"exifEX":       "http://cipa.jp/exif/1.0/",
	"tiff":         "http://ns.adobe.com/tiff/1.0/",
	"aux":          "http://ns.adobe.com/exif/1.0/aux/",
	"photoshop":    "http://ns.adobe.com/photoshop/1.0/",
	"Iptc4xmpCore": "http://iptc.org/std/Iptc4xmpCore/1.0/xmlns/",
	"crs":          "http://ns.adobe.com/camera-raw-settings/1.0/",
	"lr":           "http://ns.adobe.com/lightroom/1.0/",
}

const rdfNS = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"

// Packet is one serialized XMP packet.
type Packet struct {
	raw []byte
	rev uint64
}

// Parse wraps raw packet text. The text must be well-formed XML holding an
// rdf:RDF element.
func Parse(raw []byte) (*Packet, error) {
	if !bytes.Contains(raw, []byte("<rdf:RDF")) {
		return nil, fmt.Errorf("%w: xmp: no rdf:RDF element", core.ErrMalformedMetadata)
	}
	if err := wellFormed(raw); err != nil {
		return nil, err
	}
	return &Packet{raw: append([]byte(nil), raw...)}, nil
}

const padLine = "                                                                                                   \n"

// New returns an empty packet with 2 KB of padding.
func New() *Packet {
	var b strings.Builder
	b.WriteString("<?xpacket begin=\"\uFEFF\" id=\"W5M0MpCehiHzreSzNTczkc9d\"?>\n")
	b.WriteString("<x:xmpmeta xmlns:x=\"adobe:ns:meta/\">\n")
	b.WriteString(" <rdf:RDF xmlns:rdf=\"" + rdfNS + "\">\n")
	b.WriteString("  <rdf:Description rdf:about=\"\"/>\n")
	b.WriteString(" </rdf:RDF>\n")
	b.WriteString("</x:xmpmeta>\n")
	for i := 0; i < 20; i++ {
		b.WriteString(padLine)
	}
	b.WriteString("<?xpacket end=\"w\"?>")
	return &Packet{raw: []byte(b.String())}
}

// Bytes returns the packet text. The slice must not be modified.
func (p *Packet) Bytes() []byte { return p.raw }

// Rev counts successful edits.
func (p *Packet) Rev() uint64 { return p.rev }

func wellFormed(raw []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(bytes.TrimRight(raw, "\x00")))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: xmp: %v", core.ErrMalformedMetadata, err)
		}
	}
}

// name is a resolved property name.
type name struct {
	prefix string // prefix used in this packet
	local  string
	uri    string
}

func (n name) qname() string { return n.prefix + ":" + n.local }

// resolve accepts "dc:title" and "Xmp.dc.title".
func (p *Packet) resolve(s string) (name, error) {
	s = strings.TrimSpace(s)
	var prefix, local string
	if rest, ok := strings.CutPrefix(s, "Xmp."); ok {
		prefix, local, _ = strings.Cut(rest, ".")
	} else {
		prefix, local, _ = strings.Cut(s, ":")
	}
	if prefix == "" || local == "" {
		return name{}, fmt.Errorf("%w: xmp property %q needs prefix:name", core.ErrUnsupportedValue, s)
	}
	uri, ok := namespaces[prefix]
	if !ok {
		if uri, ok = p.declared(prefix); !ok {
			return name{}, fmt.Errorf("%w: xmp namespace prefix %q unknown", core.ErrUnsupportedValue, prefix)
		}
	}
	if used, ok := p.prefixFor(uri); ok {
		prefix = used
	}
	return name{prefix: prefix, local: local, uri: uri}, nil
}

var declRe = regexp.MustCompile(`xmlns:([A-Za-z_][\w.-]*)\s*=\s*["']([^"']*)["']`)

func (p *Packet) declared(prefix string) (string, bool) {
	for _, m := range declRe.FindAllSubmatch(p.raw, -1) {
		if string(m[1]) == prefix {
			return string(m[2]), true
		}
	}
	return "", false
}

func (p *Packet) prefixFor(uri string) (string, bool) {
	for _, m := range declRe.FindAllSubmatch(p.raw, -1) {
		if string(m[2]) == uri {
			return string(m[1]), true
		}
	}
	return "", false
}

func attrRe(n name) *regexp.Regexp {
	return regexp.MustCompile(`(\s)` + regexp.QuoteMeta(n.qname()) + `\s*=\s*(?:"([^"]*)"|'([^']*)')`)
}

func elemRe(n name) *regexp.Regexp {
	q := regexp.QuoteMeta(n.qname())
	return regexp.MustCompile(`<` + q + `(?:\s[^>]*)?>((?s:.*?))</` + q + `\s*>`)
}

func emptyElemRe(n name) *regexp.Regexp {
	return regexp.MustCompile(`<` + regexp.QuoteMeta(n.qname()) + `(?:\s[^>]*)?/>`)
}

var liRe = regexp.MustCompile(`<rdf:li(?:\s[^>]*)?>((?s:.*?))</rdf:li>`)

// Get returns a simple property, or the first item of an array property.
func (p *Packet) Get(prop string) (string, bool) {
	n, err := p.resolve(prop)
	if err != nil {
		return "", false
	}
	if m := attrRe(n).FindSubmatchIndex(p.raw); m != nil {
		if m[4] >= 0 {
			return html.UnescapeString(string(p.raw[m[4]:m[5]])), true
		}
		return html.UnescapeString(string(p.raw[m[6]:m[7]])), true
	}
	m := elemRe(n).FindSubmatchIndex(p.raw)
	if m == nil {
		return "", false
	}
	inner := p.raw[m[2]:m[3]]
	if li := liRe.FindSubmatch(inner); li != nil {
		return html.UnescapeString(string(li[1])), true
	}
	if bytes.ContainsRune(inner, '<') {
		return "", false
	}
	return html.UnescapeString(strings.TrimSpace(string(inner))), true
}

var (
	descRe = regexp.MustCompile(`<rdf:Description\b[^>]*?(/?)>`)
	rdfRe  = regexp.MustCompile(`<rdf:RDF\b[^>]*>`)
)

// Set writes a simple property. An existing attribute, element or first
// array item is replaced in place; otherwise the property is added as an
// attribute of the first rdf:Description, declaring its namespace if needed.
func (p *Packet) Set(prop, value string) error {
	n, err := p.resolve(prop)
	if err != nil {
		return err
	}
	esc := escape(value)
	if m := attrRe(n).FindSubmatchIndex(p.raw); m != nil {
		lo, hi := m[4], m[5]
		if lo < 0 {
			lo, hi = m[6], m[7]
		}
		return p.splice(lo, hi, esc)
	}
	if m := elemRe(n).FindSubmatchIndex(p.raw); m != nil {
		lo, hi := m[2], m[3]
		inner := p.raw[lo:hi]
		if li := liRe.FindSubmatchIndex(inner); li != nil {
			return p.splice(lo+li[2], lo+li[3], esc)
		}
		if bytes.ContainsRune(inner, '<') {
			return fmt.Errorf("%w: %s is a structure", ErrNoMatch, n.qname())
		}
		return p.splice(lo, hi, esc)
	}

	decl := ""
	if _, ok := p.prefixFor(n.uri); !ok {
		decl = fmt.Sprintf(` xmlns:%s="%s"`, n.prefix, n.uri)
	}
	attr := fmt.Sprintf("\n    %s=\"%s\"", n.qname(), esc)
	if m := descRe.FindSubmatchIndex(p.raw); m != nil {
		at := m[1] - 1
		if m[3] > m[2] {
			at = m[2]
		}
		return p.splice(at, at, decl+attr)
	}
	if m := rdfRe.FindIndex(p.raw); m != nil {
		desc := fmt.Sprintf("\n  <rdf:Description rdf:about=\"\"%s%s/>", decl, attr)
		return p.splice(m[1], m[1], desc)
	}
	return ErrNoMatch
}

// Remove deletes a property in attribute or element form.
func (p *Packet) Remove(prop string) (bool, error) {
	n, err := p.resolve(prop)
	if err != nil {
		return false, err
	}
	if m := attrRe(n).FindIndex(p.raw); m != nil {
		lo := m[0]
		for lo > 0 && isSpace(p.raw[lo-1]) {
			lo--
		}
		return true, p.splice(lo, m[1], "")
	}
	for _, re := range []*regexp.Regexp{elemRe(n), emptyElemRe(n)} {
		if m := re.FindIndex(p.raw); m != nil {
			lo := m[0]
			for lo > 0 && isSpace(p.raw[lo-1]) {
				lo--
			}
			return true, p.splice(lo, m[1], "")
		}
	}
	return false, nil
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// splice replaces raw[lo:hi], rebalances the padding and commits the result
// only if it is still well-formed.
func (p *Packet) splice(lo, hi int, text string) error {
	out := make([]byte, 0, len(p.raw)+len(text))
	out = append(out, p.raw[:lo]...)
	out = append(out, text...)
	out = append(out, p.raw[hi:]...)
	out = repad(out, len(p.raw))
	if err := wellFormed(out); err != nil {
		return err
	}
	p.raw = out
	p.rev++
	return nil
}

var endPI = []byte("<?xpacket end")

// repad grows or shrinks the whitespace before the trailing xpacket
// instruction so the packet keeps size when the padding allows it.
func repad(b []byte, want int) []byte {
	end := bytes.LastIndex(b, endPI)
	if end < 0 || len(b) == want {
		return b
	}
	start := end
	for start > 0 && isSpace(b[start-1]) {
		start--
	}
	keep := 0
	if end > start && b[end-1] == '\n' {
		keep = 1
	}
	pad := end - start - keep
	delta := len(b) - want
	if delta > 0 {
		if delta > pad {
			return b
		}
		cut := end - keep - delta
		return append(b[:cut], b[end-keep:]...)
	}
	grow := bytes.Repeat([]byte{' '}, -delta)
	out := make([]byte, 0, want)
	out = append(out, b[:end-keep]...)
	out = append(out, grow...)
	return append(out, b[end-keep:]...)
}

// Property is one value found by Properties.
type Property struct {
	Name  string
	Value string
}

// Properties lists simple values and array items in document order.
func (p *Packet) Properties() []Property {
	prefixes := make(map[string]string)
	for pre, uri := range namespaces {
		prefixes[uri] = pre
	}
	for _, m := range declRe.FindAllSubmatch(p.raw, -1) {
		prefixes[string(m[2])] = string(m[1])
	}
	qual := func(n xml.Name) string {
		if pre, ok := prefixes[n.Space]; ok {
			return pre + ":" + n.Local
		}
		return n.Local
	}

	var out []Property
	var stack []xml.Name
	dec := xml.NewDecoder(bytes.NewReader(bytes.TrimRight(p.raw, "\x00")))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name)
			if t.Name.Space != rdfNS || t.Name.Local != "Description" {
				continue
			}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" || a.Name.Space == rdfNS {
					continue
				}
				out = append(out, Property{Name: qual(a.Name), Value: a.Value})
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			val := strings.TrimSpace(string(t))
			if val == "" {
				continue
			}
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].Space != rdfNS && stack[i].Space != "adobe:ns:meta/" {
					out = append(out, Property{Name: qual(stack[i]), Value: val})
					break
				}
			}
		}
	}
	return out
}
