package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/batch"
	"github.com/ankit-chaubey/metastrip/core/document"
	"github.com/ankit-chaubey/metastrip/core/exif"
	"github.com/ankit-chaubey/metastrip/core/preset"
)

func newFlags(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: metastrip %s [flags] %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

func (a *app) view(args []string) error {
	fs := newFlags("view", "<file>...")
	walk := fs.Bool("goexif", false, "also list EXIF fields as read by goexif")
	fs.Parse(args)
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no files")
	}
	for _, path := range fs.Args() {
		d, err := document.Load(path)
		if err != nil {
			return err
		}
		for _, w := range d.Warnings() {
			a.log.Warn().Str("path", path).Str("namespace", string(w.Namespace)).Err(w.Err).Msg("metadata damaged")
		}
		a.printer.PrintMetadata(d.Metadata())
		if *walk && d.RawExif() != nil {
			fields, err := exif.Describe(d.RawExif())
			if err != nil {
				a.log.Warn().Str("path", path).Err(err).Msg("goexif")
			}
			for _, f := range fields {
				a.printer.PrintInfo(fmt.Sprintf("  goexif %-28s %s", f.Name+":", f.Value))
			}
		}
	}
	return nil
}

func (a *app) set(args []string) error {
	fs := newFlags("set", "<file> Key=Value...")
	out := fs.String("o", "", "write to this file instead of in place")
	dry := fs.Bool("dry-run", false, "show what would change")
	fs.Parse(args)
	if fs.NArg() < 2 {
		fs.Usage()
		return errors.New("need a file and at least one Key=Value")
	}
	opts := core.EditOptions{Set: make(map[string]string), DryRun: *dry}
	for _, kv := range fs.Args()[1:] {
		k, v, ok := core.ParseKV(kv)
		if !ok {
			return errors.Wrapf(core.ErrUnsupportedValue, "expected Key=Value, got %q", kv)
		}
		opts.Set[k] = v
	}
	return a.edit(fs.Arg(0), *out, opts)
}

func (a *app) rm(args []string) error {
	fs := newFlags("rm", "<file> Key...")
	out := fs.String("o", "", "write to this file instead of in place")
	dry := fs.Bool("dry-run", false, "show what would change")
	fs.Parse(args)
	if fs.NArg() < 2 {
		fs.Usage()
		return errors.New("need a file and at least one key")
	}
	return a.edit(fs.Arg(0), *out, core.EditOptions{Delete: fs.Args()[1:], DryRun: *dry})
}

func (a *app) edit(path, out string, opts core.EditOptions) error {
	changed, err := document.Edit(path, out, opts)
	if err != nil {
		return err
	}
	names := make([]string, len(changed))
	for i, ns := range changed {
		names[i] = string(ns)
	}
	if opts.DryRun {
		a.printer.PrintInfo("would rewrite: " + strings.Join(names, ", "))
		return nil
	}
	a.log.Debug().Str("path", path).Strs("namespaces", names).Msg("saved")
	a.printer.PrintSuccess("saved " + core.ResolveOutPath(path, out))
	return nil
}

func (a *app) gps(args []string) error {
	fs := newFlags("gps", "<file> [lat lon]")
	out := fs.String("o", "", "write to this file instead of in place")
	alt := fs.Float64("alt", math.NaN(), "altitude in metres")
	remove := fs.Bool("remove", false, "remove the position")
	fs.Parse(args)
	if fs.NArg() != 1 && fs.NArg() != 3 {
		fs.Usage()
		return errors.New("need a file, optionally followed by latitude and longitude")
	}
	path := fs.Arg(0)
	d, err := document.Load(path)
	if err != nil {
		return err
	}

	if fs.NArg() == 1 && !*remove && math.IsNaN(*alt) {
		lat, lon, ok := d.GPS()
		if !ok {
			a.printer.PrintInfo("no position")
			return nil
		}
		pos := map[string]float64{"latitude": lat, "longitude": lon}
		if m, ok := d.Altitude(); ok {
			pos["altitude"] = m
		}
		if a.printer.JSON {
			a.printer.PrintJSON(pos)
			return nil
		}
		line := fmt.Sprintf("%.6f, %.6f", lat, lon)
		if m, ok := pos["altitude"]; ok {
			line += fmt.Sprintf(" @ %.2f m", m)
		}
		a.printer.PrintInfo(line)
		return nil
	}

	if *remove {
		if _, err := d.RemoveGPS(); err != nil {
			return err
		}
	}
	if fs.NArg() == 3 {
		lat, err1 := strconv.ParseFloat(fs.Arg(1), 64)
		lon, err2 := strconv.ParseFloat(fs.Arg(2), 64)
		if err1 != nil || err2 != nil {
			return errors.Wrapf(core.ErrUnsupportedValue, "bad position %q %q", fs.Arg(1), fs.Arg(2))
		}
		if err := d.SetGPS(lat, lon); err != nil {
			return err
		}
	}
	if !math.IsNaN(*alt) {
		if err := d.SetAltitude(*alt); err != nil {
			return err
		}
	}
	dst := core.ResolveOutPath(path, *out)
	if err := d.Save(dst); err != nil {
		return err
	}
	a.printer.PrintSuccess("saved " + dst)
	return nil
}

func (a *app) strip(args []string) error {
	fs := newFlags("strip", "<file>...")
	out := fs.String("o", "", "write to this file instead of in place (one input only)")
	opts := core.StripOptions{}
	fs.BoolVar(&opts.StripGPS, "gps", false, "remove GPS only")
	fs.BoolVar(&opts.StripAll, "all", false, "remove every namespace")
	fs.BoolVar(&opts.StripThumbnail, "thumbnail", false, "remove the EXIF thumbnail")
	ns := fs.String("ns", "", "comma-separated namespaces to remove (exif,iptc,xmp)")
	keep := fs.String("keep", "", "comma-separated tags or EXIF categories to keep")
	fs.Parse(args)
	if fs.NArg() == 0 || (*out != "" && fs.NArg() > 1) {
		fs.Usage()
		return errors.New("need files; -o takes exactly one")
	}
	for _, s := range splitList(*ns) {
		n, ok := core.ParseNamespace(s)
		if !ok {
			return errors.Wrapf(core.ErrUnsupportedValue, "namespace %q", s)
		}
		opts.Namespaces = append(opts.Namespaces, n)
	}
	opts.KeepFields = splitList(*keep)

	for _, path := range fs.Args() {
		if err := preset.Strip(path, *out, opts); err != nil {
			return errors.Wrap(err, path)
		}
		a.printer.PrintSuccess("stripped " + core.ResolveOutPath(path, *out))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (a *app) loadPresets() ([]*preset.Preset, error) {
	if a.cfg.Presets.File == "" {
		return preset.Builtins(), nil
	}
	return preset.LoadFile(a.cfg.Presets.File)
}

func (a *app) apply(args []string) error {
	opts, err := a.cfg.BatchOptions()
	if err != nil {
		return err
	}
	fs := newFlags("apply", "-preset NAME <file>...")
	name := fs.String("preset", "", "preset name")
	fs.StringVar(&opts.UserValue, "value", "", "value for {user_value}")
	mode := fs.String("mode", opts.Mode.String(), "output mode: overwrite, suffix, export")
	fs.StringVar(&opts.Suffix, "suffix", opts.Suffix, "suffix for suffix mode")
	fs.StringVar(&opts.OutputDir, "out", opts.OutputDir, "directory for export mode")
	fs.IntVar(&opts.Workers, "workers", opts.Workers, "parallel files")
	fs.Parse(args)
	if *name == "" || fs.NArg() == 0 {
		fs.Usage()
		return errors.New("need -preset and files")
	}
	if opts.Mode, err = batch.ParseMode(*mode); err != nil {
		return err
	}
	presets, err := a.loadPresets()
	if err != nil {
		return err
	}
	p, ok := preset.ByName(presets, *name)
	if !ok {
		return errors.Wrapf(core.ErrUnsupportedValue, "no preset %q", *name)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	progress := make(chan batch.Event)
	opts.Progress = progress
	opts.Logger = &a.log
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range progress {
			status := "ok"
			if ev.Err != nil {
				status = ev.Err.Error()
			}
			a.printer.PrintInfo(fmt.Sprintf("[%d/%d] %s: %s", ev.Current, ev.Total, ev.Path, status))
		}
	}()
	results := batch.ApplyPresetBulk(ctx, fs.Args(), p, opts)
	close(progress)
	<-done

	s := batch.Summarize(results)
	if a.printer.JSON {
		a.printer.PrintJSON(s)
	} else {
		a.printer.PrintInfo(fmt.Sprintf("%d files: %d ok, %d failed, %d cancelled", s.Total, s.Succeeded, s.Failed, s.Cancelled))
	}
	if s.Failed > 0 {
		return errors.Errorf("%d of %d files failed", s.Failed, s.Total)
	}
	return nil
}

func (a *app) presets(args []string) error {
	ps, err := a.loadPresets()
	if err != nil {
		return err
	}
	if a.printer.JSON {
		a.printer.PrintJSON(ps)
		return nil
	}
	for _, p := range ps {
		tag := ""
		if p.NeedsValue() {
			tag = "  (needs -value)"
		}
		a.printer.PrintInfo(fmt.Sprintf("%-18s %s%s", p.Name, p.Description, tag))
	}
	return nil
}

func (a *app) formats(args []string) error {
	a.printer.PrintFormats(core.Formats())
	return nil
}
