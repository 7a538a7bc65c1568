// Package config loads the metastrip configuration file.
package config

import (
	"os"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ankit-chaubey/metastrip/core"
	"github.com/ankit-chaubey/metastrip/core/batch"
)

// Config holds all metastrip settings.
type Config struct {
	Batch   BatchConfig   `yaml:"batch"`
	Logging LoggingConfig `yaml:"logging"`
	Presets PresetsConfig `yaml:"presets"`
	Rewrite RewriteConfig `yaml:"rewrite"`
}

// BatchConfig holds defaults for bulk runs.
type BatchConfig struct {
	Workers   int    `yaml:"workers"`
	Mode      string `yaml:"mode"` // overwrite, suffix, export
	Suffix    string `yaml:"suffix"`
	OutputDir string `yaml:"output_dir"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// PresetsConfig points at a user preset file.
type PresetsConfig struct {
	File string `yaml:"file"`
}

// RewriteConfig holds save settings.
type RewriteConfig struct {
	Verify bool `yaml:"verify"` // re-decode encoded EXIF before writing
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Batch: BatchConfig{
			Workers: runtime.NumCPU(),
			Mode:    "suffix",
			Suffix:  "_clean",
		},
		Logging: LoggingConfig{Level: "info"},
		Rewrite: RewriteConfig{Verify: true},
	}
}

// LoadConfig overlays the YAML file at path on the defaults. An empty or
// missing path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrapf(core.ErrIO, "read config %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(core.ErrUnsupportedValue, "parse config %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path.
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(core.ErrIO, "write config %s: %v", path, err)
	}
	return nil
}

// Validate checks values the YAML decoder cannot.
func (c *Config) Validate() error {
	if c.Batch.Workers < 0 {
		return errors.Wrapf(core.ErrUnsupportedValue, "batch.workers %d is negative", c.Batch.Workers)
	}
	mode, err := batch.ParseMode(c.Batch.Mode)
	if err != nil {
		return errors.Wrap(err, "batch.mode")
	}
	if mode == batch.Suffix && c.Batch.Suffix == "" {
		return errors.Wrap(core.ErrUnsupportedValue, "batch.suffix is empty")
	}
	if _, err := c.Logging.ZerologLevel(); err != nil {
		return err
	}
	return nil
}

// BatchOptions converts the batch section into run options.
func (c *Config) BatchOptions() (batch.Options, error) {
	mode, err := batch.ParseMode(c.Batch.Mode)
	if err != nil {
		return batch.Options{}, err
	}
	return batch.Options{
		Workers:   c.Batch.Workers,
		Mode:      mode,
		Suffix:    c.Batch.Suffix,
		OutputDir: c.Batch.OutputDir,
		Verify:    c.Rewrite.Verify,
	}, nil
}

// ZerologLevel parses Level; empty means info.
func (l LoggingConfig) ZerologLevel() (zerolog.Level, error) {
	if strings.TrimSpace(l.Level) == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(core.ErrUnsupportedValue, "logging.level %q", l.Level)
	}
	return lvl, nil
}
