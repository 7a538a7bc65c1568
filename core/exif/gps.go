package exif

import (
	"fmt"
	"math"
	"strings"

	"github.com/ankit-chaubey/metastrip/core"
)

// GPS IFD tags.
var (
	KeyGPSVersionID    = Key{IFDGPS, 0x0000}
	KeyGPSLatitudeRef  = Key{IFDGPS, 0x0001}
	KeyGPSLatitude     = Key{IFDGPS, 0x0002}
	KeyGPSLongitudeRef = Key{IFDGPS, 0x0003}
	KeyGPSLongitude    = Key{IFDGPS, 0x0004}
	KeyGPSAltitudeRef  = Key{IFDGPS, 0x0005}
	KeyGPSAltitude     = Key{IFDGPS, 0x0006}
)

// Seconds are stored with four decimal places, as most cameras do.
const secondsDenominator = 10000

// LatLong returns the signed decimal position, or false when the GPS IFD
// lacks a usable latitude/longitude pair.
func (b *Block) LatLong() (lat, lon float64, ok bool) {
	lat, ok = b.coordinate(KeyGPSLatitude, KeyGPSLatitudeRef, "S")
	if !ok {
		return 0, 0, false
	}
	lon, ok = b.coordinate(KeyGPSLongitude, KeyGPSLongitudeRef, "W")
	if !ok {
		return 0, 0, false
	}
	return lat, lon, true
}

func (b *Block) coordinate(valKey, refKey Key, negative string) (float64, bool) {
	v, ok := b.Get(valKey)
	if !ok {
		return 0, false
	}
	rs, ok := v.(Rationals)
	if !ok || len(rs) == 0 || len(rs) > 3 {
		return 0, false
	}
	deg := 0.0
	scale := 1.0
	for _, r := range rs {
		f, ok := r.Float()
		if !ok {
			return 0, false
		}
		deg += f / scale
		scale *= 60
	}
	if ref, ok := b.Get(refKey); ok && strings.EqualFold(refString(ref), negative) {
		deg = -deg
	}
	return deg, true
}

func refString(v Value) string {
	switch x := v.(type) {
	case ASCII:
		return strings.TrimRight(string(x), "\x00 ")
	case Bytes:
		return strings.TrimRight(string(x), "\x00 ")
	case Undefined:
		return strings.TrimRight(string(x), "\x00 ")
	}
	return ""
}

// SetLatLong writes a position as degrees, minutes and seconds rationals with
// N/S and E/W references. The reference tags can be overridden afterwards.
func (b *Block) SetLatLong(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", core.ErrUnsupportedValue, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v outside [-180, 180]", core.ErrUnsupportedValue, lon)
	}
	if _, ok := b.Get(KeyGPSVersionID); !ok {
		if err := b.Set(KeyGPSVersionID, Bytes{2, 2, 0, 0}); err != nil {
			return err
		}
	}
	latRef, lonRef := "N", "E"
	if lat < 0 {
		latRef = "S"
	}
	if lon < 0 {
		lonRef = "W"
	}
	for _, kv := range []struct {
		k Key
		v Value
	}{
		{KeyGPSLatitudeRef, ASCII(latRef)},
		{KeyGPSLatitude, ToDMS(lat)},
		{KeyGPSLongitudeRef, ASCII(lonRef)},
		{KeyGPSLongitude, ToDMS(lon)},
	} {
		if err := b.Set(kv.k, kv.v); err != nil {
			return err
		}
	}
	return nil
}

// ToDMS converts the magnitude of a decimal degree value to three rationals.
func ToDMS(deg float64) Rationals {
	deg = math.Abs(deg)
	d := math.Floor(deg)
	minutes := (deg - d) * 60
	m := math.Floor(minutes)
	s := math.Round((minutes - m) * 60 * secondsDenominator)
	if s >= 60*secondsDenominator {
		s -= 60 * secondsDenominator
		m++
	}
	if m >= 60 {
		m -= 60
		d++
	}
	return Rationals{
		{Num: uint32(d), Den: 1},
		{Num: uint32(m), Den: 1},
		{Num: uint32(s), Den: secondsDenominator},
	}
}

// Altitude returns metres above (positive) or below (negative) sea level.
func (b *Block) Altitude() (float64, bool) {
	v, ok := b.Get(KeyGPSAltitude)
	if !ok {
		return 0, false
	}
	rs, ok := v.(Rationals)
	if !ok || len(rs) != 1 {
		return 0, false
	}
	alt, ok := rs[0].Float()
	if !ok {
		return 0, false
	}
	if ref, ok := b.Get(KeyGPSAltitudeRef); ok {
		if n, ok := Uint(ref); ok && n == 1 {
			alt = -alt
		}
	}
	return alt, true
}

// SetAltitude writes the altitude in centimetre precision.
func (b *Block) SetAltitude(metres float64) error {
	if math.IsNaN(metres) || math.IsInf(metres, 0) || math.Abs(metres) > 1e7 {
		return fmt.Errorf("%w: altitude %v", core.ErrUnsupportedValue, metres)
	}
	ref := Bytes{0}
	if metres < 0 {
		ref = Bytes{1}
	}
	if err := b.Set(KeyGPSAltitudeRef, ref); err != nil {
		return err
	}
	return b.Set(KeyGPSAltitude, Rationals{RationalOf(math.Abs(metres), 100)})
}

// RemoveGPS drops the GPS IFD; the encoder then omits its pointer.
func (b *Block) RemoveGPS() bool {
	return b.DeleteIFD(IFDGPS) > 0
}
