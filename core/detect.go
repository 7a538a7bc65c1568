package core

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FormatID enumerates every recognised container format.
type FormatID string

const (
	FmtJPEG FormatID = "jpeg"
	FmtPNG  FormatID = "png"
	FmtTIFF FormatID = "tiff"
	FmtWebP FormatID = "webp"
	FmtHEIC FormatID = "heic"
	FmtHEIF FormatID = "heif"
	FmtAVIF FormatID = "avif"
	FmtJXL  FormatID = "jxl"

	FmtUnknown FormatID = "unknown"
)

// sniffLen is how many header bytes DetectFormat reads.
const sniffLen = 64

// extMap maps lowercase extensions to format IDs. It is only used to pick
// candidate files from a directory; classification always uses magic bytes.
var extMap = map[string]FormatID{
	".jpg":  FmtJPEG,
	".jpeg": FmtJPEG,
	".png":  FmtPNG,
	".tif":  FmtTIFF,
	".tiff": FmtTIFF,
	".webp": FmtWebP,
	".heic": FmtHEIC,
	".heif": FmtHEIF,
	".avif": FmtAVIF,
	".jxl":  FmtJXL,
}

var (
	pngSig      = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	tiffSigLE   = []byte{0x49, 0x49, 0x2A, 0x00}
	tiffSigBE   = []byte{0x4D, 0x4D, 0x00, 0x2A}
	jxlBoxSig   = []byte{0x00, 0x00, 0x00, 0x0C, 'J', 'X', 'L', ' ', 0x0D, 0x0A, 0x87, 0x0A}
	jxlNakedSig = []byte{0xFF, 0x0A}
	riffSig     = []byte("RIFF")
	webpFourCC  = []byte("WEBP")
	ftypBoxType = []byte("ftyp")
)

// brandTable resolves ISOBMFF brands. Checked for the major brand first,
// then for each compatible brand in file order.
var brandTable = map[string]FormatID{
	"avif": FmtAVIF,
	"avis": FmtAVIF,
	"heic": FmtHEIC,
	"heix": FmtHEIC,
	"heim": FmtHEIC,
	"heis": FmtHEIC,
	"hevc": FmtHEIC,
	"hevx": FmtHEIC,
	"mif1": FmtHEIF,
	"msf1": FmtHEIF,
	"heif": FmtHEIF,
}

// DetectFormat returns the FormatID for the given file by reading its magic bytes.
func DetectFormat(path string) (FormatID, error) {
	f, err := os.Open(path)
	if err != nil {
		return FmtUnknown, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && n == 0 {
		return FmtUnknown, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return DetectBytes(buf[:n]), nil
}

// DetectBytes classifies a header buffer. Unrecognised input yields FmtUnknown.
func DetectBytes(b []byte) FormatID {
	switch {
	// JPEG: FF D8 FF
	case len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF:
		return FmtJPEG
	case bytes.HasPrefix(b, pngSig):
		return FmtPNG
	case bytes.HasPrefix(b, tiffSigLE) || bytes.HasPrefix(b, tiffSigBE):
		return FmtTIFF
	// WebP: RIFF????WEBP
	case len(b) >= 12 && bytes.Equal(b[0:4], riffSig) && bytes.Equal(b[8:12], webpFourCC):
		return FmtWebP
	case bytes.HasPrefix(b, jxlBoxSig) || bytes.HasPrefix(b, jxlNakedSig):
		return FmtJXL
	// ISOBMFF: ftyp box at offset 4
	case len(b) >= 12 && bytes.Equal(b[4:8], ftypBoxType):
		return detectBrand(b)
	}
	return FmtUnknown
}

func detectBrand(b []byte) FormatID {
	if id, ok := brandTable[string(b[8:12])]; ok {
		return id
	}
	size := int(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
	if size > len(b) {
		size = len(b)
	}
	// major brand (4) + minor version (4), then compatible brands
	for off := 16; off+4 <= size; off += 4 {
		if id, ok := brandTable[string(b[off:off+4])]; ok {
			return id
		}
	}
	return FmtUnknown
}

// IsSupportedExt reports whether the file name carries a known image extension.
func IsSupportedExt(path string) bool {
	_, ok := extMap[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Formats returns the capability table for every supported format.
func Formats() []FormatInfo {
	return []FormatInfo{
		{ID: FmtJPEG, Name: "JPEG", Extensions: []string{".jpg", ".jpeg"}, MIMETypes: []string{"image/jpeg"},
			Read: Namespaces, Write: Namespaces, Notes: "APP1 EXIF/XMP, APP13 IPTC"},
		{ID: FmtPNG, Name: "PNG", Extensions: []string{".png"}, MIMETypes: []string{"image/png"},
			Read: []Namespace{NSExif, NSXMP}, Write: []Namespace{NSExif, NSXMP}, Notes: "eXIf, iTXt/tEXt/zTXt XMP; no IPTC"},
		{ID: FmtTIFF, Name: "TIFF", Extensions: []string{".tif", ".tiff"}, MIMETypes: []string{"image/tiff"},
			Read: Namespaces, Write: Namespaces, Notes: "IFD chain rewritten by appending"},
		{ID: FmtWebP, Name: "WebP", Extensions: []string{".webp"}, MIMETypes: []string{"image/webp"},
			Read: []Namespace{NSExif, NSXMP}, Write: []Namespace{NSExif, NSXMP}, Notes: "EXIF and XMP chunks, VP8X flags"},
		{ID: FmtHEIC, Name: "HEIC", Extensions: []string{".heic"}, MIMETypes: []string{"image/heic"},
			Read: []Namespace{NSExif, NSXMP}, Write: []Namespace{NSExif, NSXMP}, Notes: "Exif and mime items, iloc relocation"},
		{ID: FmtHEIF, Name: "HEIF", Extensions: []string{".heif"}, MIMETypes: []string{"image/heif"},
			Read: []Namespace{NSExif, NSXMP}, Write: []Namespace{NSExif, NSXMP}, Notes: "Exif and mime items, iloc relocation"},
		{ID: FmtAVIF, Name: "AVIF", Extensions: []string{".avif"}, MIMETypes: []string{"image/avif"},
			Read: []Namespace{NSExif, NSXMP}, Write: []Namespace{NSExif, NSXMP}, Notes: "Exif and mime items, iloc relocation"},
		{ID: FmtJXL, Name: "JPEG XL", Extensions: []string{".jxl"}, MIMETypes: []string{"image/jxl"},
			Read: []Namespace{NSExif, NSXMP}, Write: []Namespace{NSExif, NSXMP}, Notes: "Exif and xml boxes; naked codestreams carry none"},
	}
}

// Info returns the FormatInfo row for id.
func Info(id FormatID) (FormatInfo, bool) {
	for _, fi := range Formats() {
		if fi.ID == id {
			return fi, true
		}
	}
	return FormatInfo{}, false
}

// CanWrite reports whether ns can be written into files of format id.
func CanWrite(id FormatID, ns Namespace) bool {
	fi, ok := Info(id)
	if !ok {
		return false
	}
	for _, n := range fi.Write {
		if n == ns {
			return true
		}
	}
	return false
}
