// Package config handles rubinius.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ebrahimk/rubinius/vm"
	"github.com/ebrahimk/rubinius/vm/memory"
)

// FileName is the name FindAndLoad looks for.
const FileName = "rubinius.toml"

// Config represents a rubinius.toml file.
type Config struct {
	GC          GC          `toml:"gc"`
	Interpreter Interpreter `toml:"interpreter"`
	Log         Log         `toml:"log"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `toml:"-"`
}

// GC configures the collectors and the collection scheduler.
type GC struct {
	PromotionAge      int      `toml:"promotion_age"`
	YoungBytes        int64    `toml:"young_bytes"`
	LargeObjectFields int      `toml:"large_object_fields"`
	Interval          Duration `toml:"interval"`
	StrictHandles     bool     `toml:"strict_handles"`
}

// Interpreter configures threads.
type Interpreter struct {
	StackSize int `toml:"stack_size"`
	MaxDepth  int `toml:"max_depth"`
	Workers   int `toml:"workers"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Duration is a time.Duration written as a string such as "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	mem := memory.DefaultConfig()
	opts := vm.DefaultOptions()
	return &Config{
		GC: GC{
			PromotionAge:      mem.PromotionAge,
			YoungBytes:        mem.YoungBytes,
			LargeObjectFields: mem.LargeObjectFields,
			Interval:          Duration{250 * time.Millisecond},
		},
		Interpreter: Interpreter{
			StackSize: opts.StackSize,
			MaxDepth:  opts.MaxDepth,
			Workers:   4,
		},
		Log: Log{Verbosity: 1},
	}
}

// Load parses a configuration file. Keys missing from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a rubinius.toml file and
// loads it. It returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
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

// Validate rejects settings the runtime cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.GC.PromotionAge < 1:
		return fmt.Errorf("gc.promotion_age must be at least 1, got %d", c.GC.PromotionAge)
	case c.GC.YoungBytes <= 0:
		return fmt.Errorf("gc.young_bytes must be positive, got %d", c.GC.YoungBytes)
	case c.GC.LargeObjectFields <= 0:
		return fmt.Errorf("gc.large_object_fields must be positive, got %d", c.GC.LargeObjectFields)
	case c.GC.Interval.Duration < 0:
		return fmt.Errorf("gc.interval must not be negative, got %s", c.GC.Interval)
	case c.Interpreter.StackSize <= 0:
		return fmt.Errorf("interpreter.stack_size must be positive, got %d", c.Interpreter.StackSize)
	case c.Interpreter.MaxDepth <= 0:
		return fmt.Errorf("interpreter.max_depth must be positive, got %d", c.Interpreter.MaxDepth)
	case c.Interpreter.Workers <= 0:
		return fmt.Errorf("interpreter.workers must be positive, got %d", c.Interpreter.Workers)
	}
	return nil
}

// MemoryConfig returns the collector settings.
func (c *Config) MemoryConfig() memory.Config {
	return memory.Config{
		PromotionAge:      c.GC.PromotionAge,
		YoungBytes:        c.GC.YoungBytes,
		LargeObjectFields: c.GC.LargeObjectFields,
		StrictHandles:     c.GC.StrictHandles,
	}
}

// VMOptions returns the options for vm.NewVM.
func (c *Config) VMOptions() vm.Options {
	opts := vm.DefaultOptions()
	opts.Memory = c.MemoryConfig()
	opts.StackSize = c.Interpreter.StackSize
	opts.MaxDepth = c.Interpreter.MaxDepth
	return opts
}
