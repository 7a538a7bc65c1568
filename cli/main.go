package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/config"
)

const usage = `Usage: metastrip [global flags] <command> [flags] <args>

Commands:
  view     <file>...                  show EXIF, IPTC and XMP
  set      <file> Key=Value...        set tags (Exif.Image.Model=..., Iptc.Application2.Keywords=..., Xmp.dc.title=...)
  rm       <file> Key...              remove tags
  gps      <file> [lat lon]           show or set the GPS position
  strip    <file>...                  remove metadata
  apply    -preset NAME <file>...     apply a preset to many files
  presets                             list presets
  formats                             list supported formats

Global flags:
`

type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	printer *core.Printer
}

func main() {
	global := flag.NewFlagSet("metastrip", flag.ExitOnError)
	cfgPath := global.String("config", defaultConfigPath(), "config file")
	level := global.String("log-level", "", "log level (debug, info, warn, error)")
	jsonOut := global.Bool("json", false, "JSON output")
	verbose := global.Bool("v", false, "verbose output")
	global.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		global.PrintDefaults()
	}
	global.Parse(os.Args[1:])
	if global.NArg() < 1 {
		global.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		core.PrintError(err.Error())
		os.Exit(1)
	}
	if *level != "" {
		cfg.Logging.Level = *level
	}
	a := &app{cfg: cfg, printer: core.NewPrinter(*jsonOut, *verbose)}
	if a.log, err = newLogger(cfg.Logging); err != nil {
		core.PrintError(err.Error())
		os.Exit(2)
	}

	cmd, args := global.Arg(0), global.Args()[1:]
	run, ok := commands[cmd]
	if !ok {
		core.PrintError("unknown command " + cmd)
		global.Usage()
		os.Exit(2)
	}
	if err := run(a, args); err != nil {
		a.log.Debug().Err(err).Str("command", cmd).Msg("command failed")
		core.PrintError(err.Error())
		os.Exit(1)
	}
}

var commands = map[string]func(*app, []string) error{
	"view":    (*app).view,
	"set":     (*app).set,
	"rm":      (*app).rm,
	"gps":     (*app).gps,
	"strip":   (*app).strip,
	"apply":   (*app).apply,
	"presets": (*app).presets,
	"formats": (*app).formats,
}

func newLogger(c config.LoggingConfig) (zerolog.Logger, error) {
	lvl, err := c.ZerologLevel()
	if err != nil {
		return zerolog.Nop(), err
	}
	if c.JSON {
		return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger(), nil
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func defaultConfigPath() string {
	if p := os.Getenv("METASTRIP_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "metastrip", "config.yaml")
}
