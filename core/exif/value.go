// Package exif decodes and encodes TIFF/EXIF image file directories.
//
// Tags from every IFD are stored flat in a Block keyed by (IFD kind, tag id).
// Sub-IFD pointers are not values: the encoder derives them from the final
// layout, so a GPS or Exif IFD can never be orphaned or point at stale data.
package exif

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Type is a TIFF field type code.
type Type uint16

const (
	TypeByte      Type = 1
	TypeASCII     Type = 2
	TypeShort     Type = 3
	TypeLong      Type = 4
	TypeRational  Type = 5
	TypeSByte     Type = 6
	TypeUndefined Type = 7
	TypeSShort    Type = 8
	TypeSLong     Type = 9
	TypeSRational Type = 10
	TypeFloat     Type = 11
	TypeDouble    Type = 12
)

var typeSizes = map[Type]int{
	TypeByte:      1,
	TypeASCII:     1,
	TypeShort:     2,
	TypeLong:      4,
	TypeRational:  8,
	TypeSByte:     1,
	TypeUndefined: 1,
	TypeSShort:    2,
	TypeSLong:     4,
	TypeSRational: 8,
	TypeFloat:     4,
	TypeDouble:    8,
}

// Size returns the byte size of one element, or 0 for unknown type codes.
func (t Type) Size() int { return typeSizes[t] }

func (t Type) String() string {
	switch t {
	case TypeByte:
		return "BYTE"
	case TypeASCII:
		return "ASCII"
	case TypeShort:
		return "SHORT"
	case TypeLong:
		return "LONG"
	case TypeRational:
		return "RATIONAL"
	case TypeSByte:
		return "SBYTE"
	case TypeUndefined:
		return "UNDEFINED"
	case TypeSShort:
		return "SSHORT"
	case TypeSLong:
		return "SLONG"
	case TypeSRational:
		return "SRATIONAL"
	case TypeFloat:
		return "FLOAT"
	case TypeDouble:
		return "DOUBLE"
	}
	return fmt.Sprintf("TYPE(%d)", uint16(t))
}

// Value is one decoded tag value. The concrete types form a closed set:
// Bytes, ASCII, Shorts, Longs, Rationals, SRationals, Undefined, SLongs and Opaque.
type Value interface {
	Type() Type
	Count() uint32
	String() string
	encode(order binary.ByteOrder) []byte
}

// Bytes is a BYTE sequence.
type Bytes []byte

// ASCII is a NUL-terminated string. The terminator is not stored; any further
// NULs from the source are kept so the value re-encodes to the same bytes.
type ASCII string

// Shorts is a SHORT (u16) array.
type Shorts []uint16

// Longs is a LONG (u32) array.
type Longs []uint32

// SLongs is an SLONG (i32) array.
type SLongs []int32

// Undefined is an UNDEFINED byte sequence.
type Undefined []byte

// Rational is an unsigned fraction.
type Rational struct{ Num, Den uint32 }

// SRational is a signed fraction.
type SRational struct{ Num, Den int32 }

// Rationals is a RATIONAL array.
type Rationals []Rational

// SRationals is an SRATIONAL array.
type SRationals []SRational

// Opaque carries a value the codec does not interpret. Raw holds the encoded
// bytes in the byte order of the block it was decoded from.
type Opaque struct {
	Typ Type
	N   uint32
	Raw []byte
}

func (Bytes) Type() Type      { return TypeByte }
func (ASCII) Type() Type      { return TypeASCII }
func (Shorts) Type() Type     { return TypeShort }
func (Longs) Type() Type      { return TypeLong }
func (SLongs) Type() Type     { return TypeSLong }
func (Undefined) Type() Type  { return TypeUndefined }
func (Rationals) Type() Type  { return TypeRational }
func (SRationals) Type() Type { return TypeSRational }
func (o Opaque) Type() Type   { return o.Typ }

func (v Bytes) Count() uint32      { return uint32(len(v)) }
func (v ASCII) Count() uint32      { return uint32(len(v)) + 1 }
func (v Shorts) Count() uint32     { return uint32(len(v)) }
func (v Longs) Count() uint32      { return uint32(len(v)) }
func (v SLongs) Count() uint32     { return uint32(len(v)) }
func (v Undefined) Count() uint32  { return uint32(len(v)) }
func (v Rationals) Count() uint32  { return uint32(len(v)) }
func (v SRationals) Count() uint32 { return uint32(len(v)) }
func (o Opaque) Count() uint32     { return o.N }

func (v Bytes) String() string { return joinInts(len(v), func(i int) int64 { return int64(v[i]) }) }

func (v ASCII) String() string { return strings.TrimRight(string(v), "\x00 ") }

func (v Shorts) String() string { return joinInts(len(v), func(i int) int64 { return int64(v[i]) }) }

func (v Longs) String() string { return joinInts(len(v), func(i int) int64 { return int64(v[i]) }) }

func (v SLongs) String() string { return joinInts(len(v), func(i int) int64 { return int64(v[i]) }) }

func (v Undefined) String() string {
	if isPrintable(v) {
		return strings.TrimRight(string(v), "\x00 ")
	}
	return fmt.Sprintf("% x", []byte(v))
}

func (v Rationals) String() string {
	parts := make([]string, len(v))
	for i, r := range v {
		parts[i] = fmt.Sprintf("%d/%d", r.Num, r.Den)
	}
	return strings.Join(parts, " ")
}

func (v SRationals) String() string {
	parts := make([]string, len(v))
	for i, r := range v {
		parts[i] = fmt.Sprintf("%d/%d", r.Num, r.Den)
	}
	return strings.Join(parts, " ")
}

func (o Opaque) String() string {
	return fmt.Sprintf("%s[%d] % x", o.Typ, o.N, o.Raw)
}

func (v Bytes) encode(binary.ByteOrder) []byte { return []byte(v) }

func (v ASCII) encode(binary.ByteOrder) []byte { return append([]byte(v), 0) }

func (v Undefined) encode(binary.ByteOrder) []byte { return []byte(v) }

func (o Opaque) encode(binary.ByteOrder) []byte { return o.Raw }

func (v Shorts) encode(order binary.ByteOrder) []byte {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		order.PutUint16(b[2*i:], x)
	}
	return b
}

func (v Longs) encode(order binary.ByteOrder) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		order.PutUint32(b[4*i:], x)
	}
	return b
}

func (v SLongs) encode(order binary.ByteOrder) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		order.PutUint32(b[4*i:], uint32(x))
	}
	return b
}

func (v Rationals) encode(order binary.ByteOrder) []byte {
	b := make([]byte, 8*len(v))
	for i, r := range v {
		order.PutUint32(b[8*i:], r.Num)
		order.PutUint32(b[8*i+4:], r.Den)
	}
	return b
}

func (v SRationals) encode(order binary.ByteOrder) []byte {
	b := make([]byte, 8*len(v))
	for i, r := range v {
		order.PutUint32(b[8*i:], uint32(r.Num))
		order.PutUint32(b[8*i+4:], uint32(r.Den))
	}
	return b
}

// Float returns the value of a rational, and false for a zero denominator.
func (r Rational) Float() (float64, bool) {
	if r.Den == 0 {
		return 0, false
	}
	return float64(r.Num) / float64(r.Den), true
}

// Float returns the value of a signed rational, and false for a zero denominator.
func (r SRational) Float() (float64, bool) {
	if r.Den == 0 {
		return 0, false
	}
	return float64(r.Num) / float64(r.Den), true
}

// Uint returns the first element of an integer value.
func Uint(v Value) (uint32, bool) {
	switch x := v.(type) {
	case Bytes:
		if len(x) > 0 {
			return uint32(x[0]), true
		}
	case Shorts:
		if len(x) > 0 {
			return uint32(x[0]), true
		}
	case Longs:
		if len(x) > 0 {
			return x[0], true
		}
	case SLongs:
		if len(x) > 0 && x[0] >= 0 {
			return uint32(x[0]), true
		}
	}
	return 0, false
}

// RationalOf approximates f as a fraction over a fixed denominator.
func RationalOf(f float64, den uint32) Rational {
	return Rational{Num: uint32(math.Round(f * float64(den))), Den: den}
}

func joinInts(n int, at func(int) int64) string {
	const maxShown = 16
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i == maxShown {
			fmt.Fprintf(&sb, " ... (%d values)", n)
			break
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%d", at(i))
	}
	return sb.String()
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c == 0 {
			continue
		}
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return len(b) > 0
}
