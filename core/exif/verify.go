package exif

import (
	"bytes"
	"fmt"

	dexif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	goexif "github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/ankit-chaubey/metastrip/core"
)

// Verify checks an encoded stream before it is written into a file: it must
// decode cleanly with this package, walk cleanly with goexif and, for a
// standalone EXIF stream, collect under go-exif to the same directories and
// tags. Both readers reject zero-length and unknown-typed values, so blocks
// holding those are checked with the local decoder only.
func (b *Block) Verify(raw []byte) error {
	var back *Block
	var err error
	if b.fileMode {
		back, err = DecodeFile(raw)
	} else {
		back, err = Decode(raw)
	}
	if err != nil {
		return fmt.Errorf("%w: re-decoding encoded block: %w", core.ErrMalformedMetadata, err)
	}
	if back.Len() != b.Len() {
		return fmt.Errorf("%w: encoded block holds %d tags, want %d", core.ErrMalformedMetadata, back.Len(), b.Len())
	}
	if !b.goexifSafe() {
		return nil
	}
	if _, err := tiff.Decode(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("%w: goexif: %v", core.ErrMalformedMetadata, err)
	}
	if b.fileMode {
		return nil
	}
	if err := b.collect(raw); err != nil {
		return fmt.Errorf("%w: go-exif: %v", core.ErrMalformedMetadata, err)
	}
	return nil
}

var collectIFDs = map[string]IFD{
	exifcommon.IfdStandardIfdIdentity.String():        IFDPrimary,
	exifcommon.IfdExifStandardIfdIdentity.String():    IFDExif,
	exifcommon.IfdGpsInfoStandardIfdIdentity.String(): IFDGPS,
	exifcommon.IfdExifIopStandardIfdIdentity.String(): IFDInterop,
	exifcommon.Ifd1StandardIfdIdentity.String():       IFDThumbnail,
}

// collect walks raw with go-exif and checks that every tag it finds is in
// the block with the same count, and that no block tag is missing.
func (b *Block) collect(raw []byte) error {
	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return err
	}
	_, index, err := dexif.Collect(im, dexif.NewTagIndex(), raw)
	if err != nil {
		return err
	}
	seen := make(map[Key]bool)
	for _, ifd := range index.Ifds {
		id, ok := collectIFDs[ifd.IfdIdentity().String()]
		if !ok {
			return fmt.Errorf("unexpected directory %s", ifd.IfdIdentity())
		}
		for _, ite := range ifd.Entries() {
			k := Key{id, ite.TagId()}
			if ite.ChildIfdPath() != "" || pointerTag(k) {
				continue
			}
			v, ok := b.vals[k]
			if !ok {
				return fmt.Errorf("%s: found in the stream but not in the block", k)
			}
			if v.Count() != ite.UnitCount() {
				return fmt.Errorf("%s: count %d, want %d", k, ite.UnitCount(), v.Count())
			}
			seen[k] = true
		}
	}
	for _, k := range b.keys {
		if !seen[k] {
			return fmt.Errorf("%s: missing from the stream", k)
		}
	}
	return nil
}

func (b *Block) goexifSafe() bool {
	for _, v := range b.vals {
		if v.Type().Size() == 0 || v.Count() == 0 {
			return false
		}
	}
	return true
}

// Field is one tag as named by goexif.
type Field struct {
	Name  string
	Tag   uint16
	Value string
}

type fieldWalker struct {
	fields []Field
}

func (w *fieldWalker) Walk(name goexif.FieldName, tag *tiff.Tag) error {
	w.fields = append(w.fields, Field{Name: string(name), Tag: tag.Id, Value: tag.String()})
	return nil
}

// Describe lists the fields goexif finds in a TIFF stream. It gives an
// independent reading of the same bytes Decode parses.
func Describe(raw []byte) ([]Field, error) {
	x, err := goexif.Decode(bytes.NewReader(raw))
	if x == nil {
		return nil, fmt.Errorf("%w: goexif: %v", core.ErrMalformedMetadata, err)
	}
	w := &fieldWalker{}
	if werr := x.Walk(w); werr != nil {
		return nil, werr
	}
	return w.fields, err
}
