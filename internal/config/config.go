// Package config handles classpatch.toml run configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/skdltmxn/classpatch/instrument"
)

// FileName is the configuration file FindAndLoad looks for.
const FileName = "classpatch.toml"

// ErrInvalid indicates a configuration value out of range.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is a run configuration.
type Config struct {
	Pass      instrument.Kind `toml:"pass"`
	Tracing   bool            `toml:"tracing"`
	Workers   int             `toml:"workers"`
	Verbosity int             `toml:"verbosity"`

	// Exclude lists gitignore-style patterns, relative to the source
	// directory, of files copied without instrumentation.
	Exclude []string `toml:"exclude"`

	// Manifest is the path of the run manifest. Empty disables it.
	Manifest string `toml:"manifest"`

	Runtime       Runtime       `toml:"runtime"`
	FieldRedirect FieldRedirect `toml:"field-redirect"`

	// Path is the file the configuration was loaded from, if any.
	Path string `toml:"-"`
}

// Runtime configures the runtime support class.
type Runtime struct {
	Class string `toml:"class"`
}

// FieldRedirect configures the field-redirect pass.
type FieldRedirect struct {
	PrivateOnly bool `toml:"private-only"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		Pass:          instrument.Trace,
		Workers:       runtime.GOMAXPROCS(0),
		Runtime:       Runtime{Class: instrument.DefaultRuntimeClass},
		FieldRedirect: FieldRedirect{PrivateOnly: true},
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: cannot read %s: %w", path, err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// FindAndLoad walks up from startDir looking for FileName and loads the
// first one found. Without a file it returns Default.
func FindAndLoad(startDir string) (Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return Default(), err
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate reports the first out-of-range value.
func (c *Config) Validate() error {
	if !c.Pass.Valid() {
		return fmt.Errorf("%w: pass %s", ErrInvalid, c.Pass)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalid, c.Workers)
	}
	if c.Verbosity < 0 {
		return fmt.Errorf("%w: verbosity must not be negative", ErrInvalid)
	}
	for _, p := range c.Exclude {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: empty exclude pattern", ErrInvalid)
		}
	}
	if err := c.instrumentRuntime().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c *Config) instrumentRuntime() instrument.Runtime {
	return instrument.Runtime{Class: c.Runtime.Class}
}

// Options returns the pass options the configuration selects.
func (c *Config) Options() instrument.Options {
	return instrument.Options{
		Runtime:     c.instrumentRuntime(),
		Tracing:     c.Tracing,
		PrivateOnly: c.FieldRedirect.PrivateOnly,
	}
}
