// Package batch applies a preset to many files with a bounded worker pool.
package batch

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/document"
	"github.com/ankit-chaubey/metastrip/core/preset"
)

// Mode selects where processed files are written.
type Mode int

const (
	// Overwrite replaces each source file.
	Overwrite Mode = iota
	// Suffix writes stem+suffix+ext next to the source.
	Suffix
	// ExportDir writes files under the same name into another directory.
	ExportDir
)

func (m Mode) String() string {
	switch m {
	case Overwrite:
		return "overwrite"
	case Suffix:
		return "suffix"
	case ExportDir:
		return "export"
	}
	return "unknown"
}

// ParseMode maps "overwrite", "suffix" and "export" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "overwrite", "":
		return Overwrite, nil
	case "suffix":
		return Suffix, nil
	case "export", "export-dir", "exportdir":
		return ExportDir, nil
	}
	return 0, errors.Wrapf(core.ErrUnsupportedValue, "output mode %q", s)
}

// Options control a batch run.
type Options struct {
	Workers   int // <= 0 means one per CPU
	Mode      Mode
	Suffix    string // Suffix mode
	OutputDir string // ExportDir mode
	UserValue string // fills {user_value} in the preset
	Verify    bool   // re-decode encoded EXIF before writing

	// Progress, when set, receives one event per finished file. The batch
	// does not close it.
	Progress chan<- Event
	Logger   *zerolog.Logger
}

// Event reports one finished file.
type Event struct {
	Index   int // position in the input
	Current int // files finished so far, this one included
	Total   int
	Path    string
	Err     error
}

// Result is the outcome for one input path.
type Result struct {
	Index     int
	Path      string
	Output    string
	Err       error
	Cancelled bool
	Warnings  []core.Warning
}

// OK reports whether the file was written.
func (r Result) OK() bool { return r.Err == nil && !r.Cancelled }

// OutputPath returns where path is written under opts.
func OutputPath(path string, opts Options) string {
	switch opts.Mode {
	case Suffix:
		return document.SuffixPath(path, opts.Suffix)
	case ExportDir:
		return filepath.Join(opts.OutputDir, filepath.Base(path))
	}
	return path
}

// ApplyPresetBulk applies p to every path. Files are independent: a failure
// is recorded in that file's Result and the rest carry on. Once ctx is done
// no new file starts; files not started are marked Cancelled. Results are in
// input order.
func ApplyPresetBulk(ctx context.Context, paths []string, p *preset.Preset, opts Options) []Result {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]Result, len(paths))
	for i, path := range paths {
		results[i] = Result{Index: i, Path: path, Output: OutputPath(path, opts)}
	}
	if err := prepare(opts); err != nil {
		for i := range results {
			results[i].Err = err
		}
		return results
	}

	var done atomic.Int64
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range paths {
		if ctx.Err() != nil {
			results[i].Cancelled = true
			continue
		}
		i := i
		g.Go(func() error {
			r := &results[i]
			if ctx.Err() != nil {
				r.Cancelled = true
				return nil
			}
			r.Warnings, r.Err = process(r.Path, r.Output, p, opts)
			if r.Err != nil {
				log.Warn().Str("path", r.Path).Err(r.Err).Msg("preset failed")
			} else {
				log.Debug().Str("path", r.Path).Str("output", r.Output).Int("warnings", len(r.Warnings)).Msg("preset applied")
			}
			n := int(done.Add(1))
			if opts.Progress != nil {
				ev := Event{Index: i, Current: n, Total: len(paths), Path: r.Path, Err: r.Err}
				select {
				case opts.Progress <- ev:
				case <-ctx.Done():
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func prepare(opts Options) error {
	switch opts.Mode {
	case Suffix:
		if opts.Suffix == "" {
			return errors.Wrap(core.ErrUnsupportedValue, "suffix mode needs a suffix")
		}
	case ExportDir:
		if opts.OutputDir == "" {
			return errors.Wrap(core.ErrUnsupportedValue, "export mode needs a directory")
		}
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return errors.Wrapf(core.ErrIO, "create %s: %v", opts.OutputDir, err)
		}
	}
	return nil
}

func process(path, output string, p *preset.Preset, opts Options) ([]core.Warning, error) {
	d, err := document.Load(path)
	if err != nil {
		return nil, err
	}
	d.Verify = opts.Verify
	warnings := d.Warnings()
	if err := p.Apply(d, opts.UserValue); err != nil {
		return warnings, err
	}
	return warnings, d.Save(output)
}

// Summary counts the outcomes of a run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
}

// Summarize counts results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Cancelled:
			s.Cancelled++
		case r.Err != nil:
			s.Failed++
		default:
			s.Succeeded++
		}
	}
	return s
}
