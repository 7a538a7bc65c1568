package xmp

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ankit-chaubey/metastrip/core"
)

// GPS properties written by cameras and editors into the exif namespace.
var gpsProps = []string{
	"exif:GPSVersionID", "exif:GPSLatitude", "exif:GPSLongitude", "exif:GPSAltitudeRef",
	"exif:GPSAltitude", "exif:GPSTimeStamp", "exif:GPSMapDatum", "exif:GPSProcessingMethod",
	"exif:GPSImgDirection", "exif:GPSImgDirectionRef", "exif:GPSSpeed", "exif:GPSSpeedRef",
	"exif:GPSDestLatitude", "exif:GPSDestLongitude", "exif:GPSDOP", "exif:GPSMeasureMode",
	"exif:GPSSatellites", "exif:GPSStatus", "exif:GPSTrack", "exif:GPSTrackRef",
}

// GPS returns the signed position from exif:GPSLatitude and exif:GPSLongitude.
func (p *Packet) GPS() (lat, lon float64, ok bool) {
	ls, ok1 := p.Get("exif:GPSLatitude")
	gs, ok2 := p.Get("exif:GPSLongitude")
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	var err error
	if lat, err = ParseCoordinate(ls); err != nil {
		return 0, 0, false
	}
	if lon, err = ParseCoordinate(gs); err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// HasGPS reports whether the packet carries any position.
func (p *Packet) HasGPS() bool {
	_, ok := p.Get("exif:GPSLatitude")
	return ok
}

// SetGPS writes both coordinates.
func (p *Packet) SetGPS(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 || math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: position %v, %v", core.ErrUnsupportedValue, lat, lon)
	}
	if err := p.Set("exif:GPSLatitude", FormatCoordinate(lat, true)); err != nil {
		return err
	}
	return p.Set("exif:GPSLongitude", FormatCoordinate(lon, false))
}

// RemoveGPS deletes every exif:GPS* property it knows.
func (p *Packet) RemoveGPS() (bool, error) {
	removed := false
	for _, prop := range gpsProps {
		ok, err := p.Remove(prop)
		if err != nil {
			return removed, err
		}
		removed = removed || ok
	}
	return removed, nil
}

// FormatCoordinate renders "DDD,MM.mmmmmmK".
func FormatCoordinate(v float64, lat bool) string {
	ref := byte('E')
	switch {
	case lat && v < 0:
		ref = 'S'
	case lat:
		ref = 'N'
	case v < 0:
		ref = 'W'
	}
	v = math.Abs(v)
	deg := math.Floor(v)
	mins := math.Round((v-deg)*60*1e6) / 1e6
	if mins >= 60 {
		mins -= 60
		deg++
	}
	return fmt.Sprintf("%d,%.6f%c", int(deg), mins, ref)
}

// ParseCoordinate reads "DDD,MM.mmK", "DDD,MM,SSK" or a plain signed decimal.
func ParseCoordinate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty coordinate", core.ErrUnsupportedValue)
	}
	sign := 1.0
	switch s[len(s)-1] {
	case 'S', 's', 'W', 'w':
		sign = -1
		s = s[:len(s)-1]
	case 'N', 'n', 'E', 'e':
		s = s[:len(s)-1]
	default:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: coordinate %q", core.ErrUnsupportedValue, s)
		}
		return f, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: coordinate %q", core.ErrUnsupportedValue, s)
	}
	total := 0.0
	scale := 1.0
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("%w: coordinate %q", core.ErrUnsupportedValue, s)
		}
		total += f / scale
		scale *= 60
	}
	return sign * total, nil
}
