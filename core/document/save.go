package document

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/image"
)

// edits encodes every dirty namespace.
func (d *Document) edits() (image.Edits, error) {
	edits := make(image.Edits)
	for _, ns := range d.DirtyNamespaces() {
		if !d.Has(ns) {
			edits[ns] = image.Edit{Remove: true}
			continue
		}
		switch ns {
		case core.NSExif:
			if d.format == core.FmtTIFF {
				edits[ns] = image.Edit{Block: d.exif}
				continue
			}
			raw, err := d.exif.Encode()
			if err != nil {
				return nil, err
			}
			if d.Verify {
				if err := d.exif.Verify(raw); err != nil {
					return nil, err
				}
			}
			edits[ns] = image.Edit{Data: raw}
		case core.NSIPTC:
			raw, err := d.iptc.Encode()
			if err != nil {
				return nil, err
			}
			edits[ns] = image.Edit{Data: raw}
		case core.NSXMP:
			edits[ns] = image.Edit{Data: d.xmp.Bytes()}
		}
	}
	return edits, nil
}

// Bytes renders the file with every change applied. A clean document
// renders to its original bytes. The image payload of the result is checked
// against the original before it is returned.
func (d *Document) Bytes() ([]byte, error) {
	edits, err := d.edits()
	if err != nil {
		return nil, err
	}
	if len(edits) == 0 {
		return d.data, nil
	}
	if d.layout == nil {
		return nil, errors.Wrapf(core.ErrMalformedContainer, "%s: cannot rewrite: %v", d.path, d.broken)
	}
	out, err := d.parser.Rewrite(d.data, d.layout, edits)
	if err != nil {
		return nil, err
	}
	if err := d.checkImageData(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Document) checkImageData(out []byte) error {
	before, err := image.Digest(d.data, d.layout.ImageData)
	if err != nil {
		return err
	}
	l, err := d.parser.Locate(out)
	if err != nil {
		return errors.Wrap(err, "re-reading rewritten file")
	}
	after, err := image.Digest(out, l.ImageData)
	if err != nil {
		return err
	}
	if !bytes.Equal(before[:], after[:]) {
		return errors.Wrapf(core.ErrMalformedContainer, "%s: image data changed while rewriting metadata", d.path)
	}
	return nil
}

// Save writes the document to path, or over its source when path is empty.
// The file is replaced atomically and keeps the source's permissions. After
// a successful save the document reflects the written file and is clean.
func (d *Document) Save(path string) error {
	if path == "" {
		path = d.path
	}
	out, err := d.Bytes()
	if err != nil {
		return err
	}
	if path == d.path && !d.Dirty() {
		return nil
	}
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(d.path); err == nil {
		mode = fi.Mode().Perm()
	}
	if err := writeFileAtomic(path, out, mode); err != nil {
		return err
	}
	nd, err := Parse(path, out)
	if err != nil {
		return err
	}
	nd.Verify = d.Verify
	*d = *nd
	return nil
}

// SaveAsSuffix saves next to the source as stem+suffix+ext and returns the
// new path.
func (d *Document) SaveAsSuffix(suffix string) (string, error) {
	path := SuffixPath(d.path, suffix)
	if path == d.path {
		return "", errors.Wrapf(core.ErrIO, "suffix %q would overwrite %s", suffix, d.path)
	}
	return path, d.Save(path)
}

// SuffixPath inserts suffix between the stem and extension of path.
func SuffixPath(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return errors.Wrapf(core.ErrIO, "create temp file for %s: %v", path, err)
	}
	name := tmp.Name()
	fail := func(op string, err error) error {
		tmp.Close()
		os.Remove(name)
		return errors.Wrapf(core.ErrIO, "%s %s: %v", op, path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fail("chmod", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return errors.Wrapf(core.ErrIO, "close %s: %v", path, err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return errors.Wrapf(core.ErrIO, "rename onto %s: %v", path, err)
	}
	return nil
}
