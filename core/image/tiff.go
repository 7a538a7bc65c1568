package image

import (
	"github.com/pkg/errors"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/exif"
)

// ─── TIFF ────────────────────────────────────────────────────────────────────

var (
	keyTIFFXMP  = exif.Key{IFD: exif.IFDPrimary, Tag: exif.TagXMLPacket}
	keyTIFFIPTC = exif.Key{IFD: exif.IFDPrimary, Tag: exif.TagIPTCNAA}
)

type tiffParser struct{}

// Locate treats the whole file as the EXIF stream. XMP and IPTC are values
// of tags in the primary IFD.
func (tiffParser) Locate(data []byte) (*Layout, error) {
	blk, err := exif.DecodeFile(data)
	if blk == nil {
		return nil, errors.Wrapf(core.ErrMalformedContainer, "tiff: %v", err)
	}
	l := newLayout(core.FmtTIFF)
	l.priv = blk
	l.Meta[core.NSExif] = &Location{Off: 0, Len: len(data), Data: data}
	if raw, ok := blk.Raw(keyTIFFXMP); ok {
		l.Meta[core.NSXMP] = &Location{Data: raw}
	}
	if raw, ok := blk.Raw(keyTIFFIPTC); ok {
		l.Meta[core.NSIPTC] = &Location{Data: raw}
	}
	for _, r := range blk.DataRanges() {
		if r.Off+r.Len > uint64(len(data)) {
			l.warn("", errors.Wrapf(core.ErrMalformedContainer, "tiff: strip %d+%d outside %d-byte file", r.Off, r.Len, len(data)))
			continue
		}
		l.ImageData = append(l.ImageData, Span{Off: int64(r.Off), Len: int64(r.Len)})
	}
	return l, nil
}

// Rewrite appends a new IFD chain and repoints the header. Strips and tiles
// keep their offsets. Removing EXIF drops the Exif, GPS and Interop IFDs;
// the primary IFD describes the image and stays.
func (tiffParser) Rewrite(data []byte, l *Layout, edits Edits) ([]byte, error) {
	if err := checkEdits(core.FmtTIFF, edits); err != nil {
		return nil, err
	}
	if len(edits) == 0 {
		return cloneBytes(data), nil
	}
	var blk *exif.Block
	if e, ok := edits[core.NSExif]; ok && e.Block != nil {
		blk = e.Block
	} else {
		var err error
		if blk, err = exif.DecodeFile(data); blk == nil {
			return nil, errors.Wrapf(core.ErrMalformedContainer, "tiff: %v", err)
		}
	}
	if e, ok := edits[core.NSExif]; ok && e.Remove {
		for _, ifd := range []exif.IFD{exif.IFDExif, exif.IFDGPS, exif.IFDInterop} {
			blk.DeleteIFD(ifd)
		}
	}
	if e, ok := edits[core.NSXMP]; ok {
		if e.Remove {
			blk.Delete(keyTIFFXMP)
		} else if err := blk.Set(keyTIFFXMP, exif.Bytes(e.Data)); err != nil {
			return nil, err
		}
	}
	if e, ok := edits[core.NSIPTC]; ok {
		if e.Remove {
			blk.Delete(keyTIFFIPTC)
		} else if err := blk.Set(keyTIFFIPTC, exif.Undefined(e.Data)); err != nil {
			return nil, err
		}
	}
	out, err := blk.EncodeAppend(data)
	if err != nil {
		return nil, err
	}
	if err := blk.Verify(out); err != nil {
		return nil, err
	}
	return out, nil
}
