package exif

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/ankit-chaubey/metastrip/core"
)

// Category groups tags for display and for preset rules.
type Category string

const (
	CatCamera      Category = "Camera"
	CatCapture     Category = "Capture"
	CatLocation    Category = "Location"
	CatDateTime    Category = "DateTime"
	CatImage       Category = "Image"
	CatDescription Category = "Description"
	CatSoftware    Category = "Software"
	CatOther       Category = "Other"
)

// Categories lists every category.
var Categories = []Category{CatCamera, CatCapture, CatLocation, CatDateTime, CatImage, CatDescription, CatSoftware, CatOther}

// ParseCategory matches a category name case-insensitively.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return "", false
}

type tagInfo struct {
	Name     string
	Type     Type
	Category Category
}

var tagInfos = map[Key]tagInfo{
	// IFD0
	{IFDPrimary, 0x0100}: {"ImageWidth", TypeLong, CatImage},
	{IFDPrimary, 0x0101}: {"ImageLength", TypeLong, CatImage},
	{IFDPrimary, 0x0102}: {"BitsPerSample", TypeShort, CatImage},
	{IFDPrimary, 0x0103}: {"Compression", TypeShort, CatImage},
	{IFDPrimary, 0x0106}: {"PhotometricInterpretation", TypeShort, CatImage},
	{IFDPrimary, 0x010E}: {"ImageDescription", TypeASCII, CatDescription},
	{IFDPrimary, 0x010F}: {"Make", TypeASCII, CatCamera},
	{IFDPrimary, 0x0110}: {"Model", TypeASCII, CatCamera},
	{IFDPrimary, 0x0111}: {"StripOffsets", TypeLong, CatImage},
	{IFDPrimary, 0x0112}: {"Orientation", TypeShort, CatImage},
	{IFDPrimary, 0x0115}: {"SamplesPerPixel", TypeShort, CatImage},
	{IFDPrimary, 0x0116}: {"RowsPerStrip", TypeLong, CatImage},
	{IFDPrimary, 0x0117}: {"StripByteCounts", TypeLong, CatImage},
	{IFDPrimary, 0x011A}: {"XResolution", TypeRational, CatImage},
	{IFDPrimary, 0x011B}: {"YResolution", TypeRational, CatImage},
	{IFDPrimary, 0x011C}: {"PlanarConfiguration", TypeShort, CatImage},
	{IFDPrimary, 0x0128}: {"ResolutionUnit", TypeShort, CatImage},
	{IFDPrimary, 0x0131}: {"Software", TypeASCII, CatSoftware},
	{IFDPrimary, 0x0132}: {"DateTime", TypeASCII, CatDateTime},
	{IFDPrimary, 0x013B}: {"Artist", TypeASCII, CatDescription},
	{IFDPrimary, 0x013E}: {"WhitePoint", TypeRational, CatImage},
	{IFDPrimary, 0x013F}: {"PrimaryChromaticities", TypeRational, CatImage},
	{IFDPrimary, 0x0144}: {"TileOffsets", TypeLong, CatImage},
	{IFDPrimary, 0x0145}: {"TileByteCounts", TypeLong, CatImage},
	{IFDPrimary, 0x0201}: {"JPEGInterchangeFormat", TypeLong, CatImage},
	{IFDPrimary, 0x0202}: {"JPEGInterchangeFormatLength", TypeLong, CatImage},
	{IFDPrimary, 0x0211}: {"YCbCrCoefficients", TypeRational, CatImage},
	{IFDPrimary, 0x0213}: {"YCbCrPositioning", TypeShort, CatImage},
	{IFDPrimary, 0x0214}: {"ReferenceBlackWhite", TypeRational, CatImage},
	{IFDPrimary, 0x02BC}: {"XMLPacket", TypeByte, CatOther},
	{IFDPrimary, 0x4746}: {"Rating", TypeShort, CatDescription},
	{IFDPrimary, 0x8298}: {"Copyright", TypeASCII, CatDescription},
	{IFDPrimary, 0x83BB}: {"IPTCNAA", TypeUndefined, CatOther},
	{IFDPrimary, 0x8769}: {"ExifTag", TypeLong, CatOther},
	{IFDPrimary, 0x8825}: {"GPSTag", TypeLong, CatLocation},
	{IFDPrimary, 0x9C9B}: {"XPTitle", TypeByte, CatDescription},
	{IFDPrimary, 0x9C9C}: {"XPComment", TypeByte, CatDescription},
	{IFDPrimary, 0x9C9D}: {"XPAuthor", TypeByte, CatDescription},
	{IFDPrimary, 0x9C9E}: {"XPKeywords", TypeByte, CatDescription},
	{IFDPrimary, 0x9C9F}: {"XPSubject", TypeByte, CatDescription},
	{IFDPrimary, 0xC62F}: {"CameraSerialNumber", TypeASCII, CatCamera},

	// Exif IFD
	{IFDExif, 0x829A}: {"ExposureTime", TypeRational, CatCapture},
	{IFDExif, 0x829D}: {"FNumber", TypeRational, CatCapture},
	{IFDExif, 0x8822}: {"ExposureProgram", TypeShort, CatCapture},
	{IFDExif, 0x8827}: {"ISOSpeedRatings", TypeShort, CatCapture},
	{IFDExif, 0x8830}: {"SensitivityType", TypeShort, CatCapture},
	{IFDExif, 0x9000}: {"ExifVersion", TypeUndefined, CatOther},
	{IFDExif, 0x9003}: {"DateTimeOriginal", TypeASCII, CatDateTime},
	{IFDExif, 0x9004}: {"DateTimeDigitized", TypeASCII, CatDateTime},
	{IFDExif, 0x9010}: {"OffsetTime", TypeASCII, CatDateTime},
	{IFDExif, 0x9011}: {"OffsetTimeOriginal", TypeASCII, CatDateTime},
	{IFDExif, 0x9012}: {"OffsetTimeDigitized", TypeASCII, CatDateTime},
	{IFDExif, 0x9101}: {"ComponentsConfiguration", TypeUndefined, CatImage},
	{IFDExif, 0x9201}: {"ShutterSpeedValue", TypeSRational, CatCapture},
	{IFDExif, 0x9202}: {"ApertureValue", TypeRational, CatCapture},
	{IFDExif, 0x9203}: {"BrightnessValue", TypeSRational, CatCapture},
	{IFDExif, 0x9204}: {"ExposureBiasValue", TypeSRational, CatCapture},
	{IFDExif, 0x9205}: {"MaxApertureValue", TypeRational, CatCapture},
	{IFDExif, 0x9206}: {"SubjectDistance", TypeRational, CatCapture},
	{IFDExif, 0x9207}: {"MeteringMode", TypeShort, CatCapture},
	{IFDExif, 0x9208}: {"LightSource", TypeShort, CatCapture},
	{IFDExif, 0x9209}: {"Flash", TypeShort, CatCapture},
	{IFDExif, 0x920A}: {"FocalLength", TypeRational, CatCapture},
	{IFDExif, 0x927C}: {"MakerNote", TypeUndefined, CatCamera},
	{IFDExif, 0x9286}: {"UserComment", TypeUndefined, CatDescription},
	{IFDExif, 0x9290}: {"SubSecTime", TypeASCII, CatDateTime},
	{IFDExif, 0x9291}: {"SubSecTimeOriginal", TypeASCII, CatDateTime},
	{IFDExif, 0x9292}: {"SubSecTimeDigitized", TypeASCII, CatDateTime},
	{IFDExif, 0xA000}: {"FlashpixVersion", TypeUndefined, CatOther},
	{IFDExif, 0xA001}: {"ColorSpace", TypeShort, CatImage},
	{IFDExif, 0xA002}: {"PixelXDimension", TypeLong, CatImage},
	{IFDExif, 0xA003}: {"PixelYDimension", TypeLong, CatImage},
	{IFDExif, 0xA005}: {"InteroperabilityTag", TypeLong, CatOther},
	{IFDExif, 0xA20E}: {"FocalPlaneXResolution", TypeRational, CatCamera},
	{IFDExif, 0xA20F}: {"FocalPlaneYResolution", TypeRational, CatCamera},
	{IFDExif, 0xA210}: {"FocalPlaneResolutionUnit", TypeShort, CatCamera},
	{IFDExif, 0xA217}: {"SensingMethod", TypeShort, CatCamera},
	{IFDExif, 0xA300}: {"FileSource", TypeUndefined, CatOther},
	{IFDExif, 0xA301}: {"SceneType", TypeUndefined, CatOther},
	{IFDExif, 0xA401}: {"CustomRendered", TypeShort, CatCapture},
	{IFDExif, 0xA402}: {"ExposureMode", TypeShort, CatCapture},
	{IFDExif, 0xA403}: {"WhiteBalance", TypeShort, CatCapture},
	{IFDExif, 0xA404}: {"DigitalZoomRatio", TypeRational, CatCapture},
	{IFDExif, 0xA405}: {"FocalLengthIn35mmFilm", TypeShort, CatCapture},
	{IFDExif, 0xA406}: {"SceneCaptureType", TypeShort, CatCapture},
	{IFDExif, 0xA408}: {"Contrast", TypeShort, CatCapture},
	{IFDExif, 0xA409}: {"Saturation", TypeShort, CatCapture},
	{IFDExif, 0xA40A}: {"Sharpness", TypeShort, CatCapture},
	{IFDExif, 0xA420}: {"ImageUniqueID", TypeASCII, CatOther},
	{IFDExif, 0xA430}: {"CameraOwnerName", TypeASCII, CatCamera},
	{IFDExif, 0xA431}: {"BodySerialNumber", TypeASCII, CatCamera},
	{IFDExif, 0xA432}: {"LensSpecification", TypeRational, CatCamera},
	{IFDExif, 0xA433}: {"LensMake", TypeASCII, CatCamera},
	{IFDExif, 0xA434}: {"LensModel", TypeASCII, CatCamera},
	{IFDExif, 0xA435}: {"LensSerialNumber", TypeASCII, CatCamera},

	// GPS IFD
	{IFDGPS, 0x0000}: {"GPSVersionID", TypeByte, CatLocation},
	{IFDGPS, 0x0001}: {"GPSLatitudeRef", TypeASCII, CatLocation},
	{IFDGPS, 0x0002}: {"GPSLatitude", TypeRational, CatLocation},
	{IFDGPS, 0x0003}: {"GPSLongitudeRef", TypeASCII, CatLocation},
	{IFDGPS, 0x0004}: {"GPSLongitude", TypeRational, CatLocation},
	{IFDGPS, 0x0005}: {"GPSAltitudeRef", TypeByte, CatLocation},
	{IFDGPS, 0x0006}: {"GPSAltitude", TypeRational, CatLocation},
	{IFDGPS, 0x0007}: {"GPSTimeStamp", TypeRational, CatLocation},
	{IFDGPS, 0x0008}: {"GPSSatellites", TypeASCII, CatLocation},
	{IFDGPS, 0x0009}: {"GPSStatus", TypeASCII, CatLocation},
	{IFDGPS, 0x000A}: {"GPSMeasureMode", TypeASCII, CatLocation},
	{IFDGPS, 0x000B}: {"GPSDOP", TypeRational, CatLocation},
	{IFDGPS, 0x000C}: {"GPSSpeedRef", TypeASCII, CatLocation},
	{IFDGPS, 0x000D}: {"GPSSpeed", TypeRational, CatLocation},
	{IFDGPS, 0x000E}: {"GPSTrackRef", TypeASCII, CatLocation},
	{IFDGPS, 0x000F}: {"GPSTrack", TypeRational, CatLocation},
	{IFDGPS, 0x0010}: {"GPSImgDirectionRef", TypeASCII, CatLocation},
	{IFDGPS, 0x0011}: {"GPSImgDirection", TypeRational, CatLocation},
	{IFDGPS, 0x0012}: {"GPSMapDatum", TypeASCII, CatLocation},
	{IFDGPS, 0x001B}: {"GPSProcessingMethod", TypeUndefined, CatLocation},
	{IFDGPS, 0x001D}: {"GPSDateStamp", TypeASCII, CatLocation},
	{IFDGPS, 0x001E}: {"GPSDifferential", TypeShort, CatLocation},
	{IFDGPS, 0x001F}: {"GPSHPositioningError", TypeRational, CatLocation},

	// Interop IFD
	{IFDInterop, 0x0001}: {"InteroperabilityIndex", TypeASCII, CatOther},
	{IFDInterop, 0x0002}: {"InteroperabilityVersion", TypeUndefined, CatOther},
}

var (
	groupIFDs = map[string]IFD{}
	nameKeys  = map[string]Key{}
)

func init() {
	for _, ifd := range ifdOrder {
		groupIFDs[strings.ToLower(ifd.String())] = ifd
	}
	groupIFDs["exif"] = IFDExif
	groupIFDs["gps"] = IFDGPS
	groupIFDs["ifd0"] = IFDPrimary
	groupIFDs["ifd1"] = IFDThumbnail
	for k, info := range tagInfos {
		nameKeys[strings.ToLower(k.IFD.String()+"."+info.Name)] = k
		bare := strings.ToLower(info.Name)
		if prev, ok := nameKeys[bare]; !ok || k.IFD < prev.IFD {
			nameKeys[bare] = k
		}
	}
}

func infoFor(k Key) (tagInfo, bool) {
	if info, ok := tagInfos[k]; ok {
		return info, true
	}
	if k.IFD == IFDThumbnail {
		info, ok := tagInfos[Key{IFDPrimary, k.Tag}]
		return info, ok
	}
	return tagInfo{}, false
}

// TagName returns the short name of k ("Make"), or its hex id.
func TagName(k Key) string {
	if info, ok := infoFor(k); ok {
		return info.Name
	}
	return fmt.Sprintf("0x%04x", k.Tag)
}

// LookupName resolves "Model", "Image.Model", "Exif.Image.Model",
// "Photo.0x9003" or "0x010f" to a Key.
func LookupName(name string) (Key, bool) {
	s := strings.TrimSpace(name)
	if len(s) > 5 && strings.EqualFold(s[:5], "exif.") && strings.Count(s, ".") == 2 {
		s = s[5:]
	}
	group, tag, hasGroup := strings.Cut(s, ".")
	if !hasGroup {
		tag = group
	}
	ifd := IFDPrimary
	if hasGroup {
		var ok bool
		if ifd, ok = groupIFDs[strings.ToLower(group)]; !ok {
			return Key{}, false
		}
	}
	if id, ok := parseTagID(tag); ok {
		return Key{ifd, id}, true
	}
	if hasGroup {
		if ifd == IFDThumbnail {
			k, ok := nameKeys[strings.ToLower(IFDPrimary.String()+"."+tag)]
			return Key{IFDThumbnail, k.Tag}, ok
		}
		k, ok := nameKeys[strings.ToLower(ifd.String()+"."+tag)]
		return k, ok
	}
	k, ok := nameKeys[strings.ToLower(tag)]
	return k, ok
}

func parseTagID(s string) (uint16, bool) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, false
	}
	v, err := strconv.ParseUint(s[2:], 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

// CategoryOf returns the display category of k.
func CategoryOf(k Key) Category {
	if info, ok := infoFor(k); ok {
		return info.Category
	}
	if k.IFD == IFDGPS {
		return CatLocation
	}
	return CatOther
}

// DefaultType returns the type a new value for k is written with.
func DefaultType(k Key) Type {
	if info, ok := infoFor(k); ok {
		return info.Type
	}
	return TypeASCII
}

var userCommentASCII = []byte("ASCII\x00\x00\x00")

// ParseValue converts user text into a value of k's default type.
// Numbers are separated by spaces or commas; rationals accept "n/d" or decimals.
func ParseValue(k Key, s string) (Value, error) {
	switch k {
	case Key{IFDExif, 0x9286}:
		return Undefined(append(append([]byte{}, userCommentASCII...), s...)), nil
	}
	if isXPTag(k) {
		return Bytes(encodeUTF16LE(s)), nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	bad := func(err error) error {
		return fmt.Errorf("%w: %s: %q: %v", core.ErrUnsupportedValue, k, s, err)
	}
	switch DefaultType(k) {
	case TypeASCII:
		return ASCII(s), nil
	case TypeUndefined:
		return Undefined(s), nil
	case TypeByte:
		out := make(Bytes, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 0, 8)
			if err != nil {
				return nil, bad(err)
			}
			out[i] = byte(v)
		}
		return out, nil
	case TypeShort:
		out := make(Shorts, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 0, 16)
			if err != nil {
				return nil, bad(err)
			}
			out[i] = uint16(v)
		}
		return out, nil
	case TypeLong:
		out := make(Longs, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 0, 32)
			if err != nil {
				return nil, bad(err)
			}
			out[i] = uint32(v)
		}
		return out, nil
	case TypeRational:
		out := make(Rationals, len(fields))
		for i, f := range fields {
			num, den, err := parseFraction(f, false)
			if err != nil {
				return nil, bad(err)
			}
			out[i] = Rational{uint32(num), uint32(den)}
		}
		return out, nil
	case TypeSRational:
		out := make(SRationals, len(fields))
		for i, f := range fields {
			num, den, err := parseFraction(f, true)
			if err != nil {
				return nil, bad(err)
			}
			out[i] = SRational{int32(num), int32(den)}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s has no text form", core.ErrUnsupportedValue, k)
}

func parseFraction(s string, signed bool) (num, den int64, err error) {
	if n, d, ok := strings.Cut(s, "/"); ok {
		if num, err = strconv.ParseInt(n, 10, 64); err != nil {
			return 0, 0, err
		}
		if den, err = strconv.ParseInt(d, 10, 64); err != nil {
			return 0, 0, err
		}
	} else {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, 0, ferr
		}
		den = 10000
		num = int64(f*float64(den) + copysignHalf(f))
	}
	lo := int64(0)
	hi := int64(0xFFFFFFFF)
	if signed {
		lo, hi = -0x80000000, 0x7FFFFFFF
	}
	if num < lo || num > hi || den <= 0 || den > hi {
		return 0, 0, fmt.Errorf("fraction %d/%d out of range", num, den)
	}
	return num, den, nil
}

func copysignHalf(f float64) float64 {
	if f < 0 {
		return -0.5
	}
	return 0.5
}

func isXPTag(k Key) bool {
	return (k.IFD == IFDPrimary || k.IFD == IFDThumbnail) && k.Tag >= 0x9C9B && k.Tag <= 0x9C9F
}

func encodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, 2*len(units)+2)
	for _, u := range units {
		out = append(out, byte(u), byte(u>>8))
	}
	return append(out, 0, 0)
}

func decodeUTF16LE(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := uint16(b[i]) | uint16(b[i+1])<<8
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// Display renders v for people, decoding the text encodings some tags use.
func Display(k Key, v Value) string {
	switch x := v.(type) {
	case Bytes:
		if isXPTag(k) {
			return decodeUTF16LE(x)
		}
	case Undefined:
		if k == (Key{IFDExif, 0x9286}) && len(x) >= 8 {
			if string(x[:5]) == "ASCII" {
				return strings.TrimRight(string(x[8:]), "\x00 ")
			}
			if string(x[:7]) == "UNICODE" {
				return decodeUTF16LE(x[8:])
			}
		}
	}
	return v.String()
}
