package document

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ankit-chaubey/metastrip/core"
)

// View reads and returns all discoverable metadata from path.
func View(path string) (*core.Metadata, error) {
	d, err := Load(path)
	if err != nil {
		return nil, err
	}
	return d.Metadata(), nil
}

// Edit writes new/updated fields into path, saving to outPath.
// outPath == "" means in-place edit. It returns the namespaces that changed.
func Edit(path, outPath string, opts core.EditOptions) ([]core.Namespace, error) {
	d, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := d.ApplyEdits(opts); err != nil {
		return nil, err
	}
	changed := d.DirtyNamespaces()
	if opts.DryRun {
		return changed, nil
	}
	return changed, d.Save(core.ResolveOutPath(path, outPath))
}

// ApplyEdits deletes opts.Delete and then sets opts.Set, in key order.
func (d *Document) ApplyEdits(opts core.EditOptions) error {
	for _, k := range opts.Delete {
		if !d.Remove(KeyNamespace(k), k) {
			return errors.Wrapf(core.ErrUnsupportedValue, "%s: no tag %s", d.path, k)
		}
	}
	keys := maps.Keys(opts.Set)
	slices.Sort(keys)
	for _, k := range keys {
		if err := d.SetText(KeyNamespace(k), k, opts.Set[k]); err != nil {
			return errors.Wrapf(err, "set %s", k)
		}
	}
	return nil
}
