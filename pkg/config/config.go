// Package config loads project settings from glyph.toml.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/glyphtools/glyph/pkg/sexp"
)

// DefaultFile is the project configuration file name.
const DefaultFile = "glyph.toml"

// Config holds project-wide settings. Every field has a working default; a
// missing file is not an error.
type Config struct {
	// Commutative lists the operators whose operand order is normalized
	// away during canonicalization.
	Commutative []string `toml:"commutative"`
	// Strategy names the decomposition rule that splits a form into
	// cacheable units.
	Strategy string `toml:"strategy"`

	Store   StoreConfig   `toml:"store"`
	Runtime RuntimeConfig `toml:"runtime"`
	Log     LogConfig     `toml:"log"`
}

// StoreConfig locates the artifact store.
type StoreConfig struct {
	Root   string `toml:"root"`
	Prefix string `toml:"prefix"`
}

// RuntimeConfig tunes the message-serving runtime.
type RuntimeConfig struct {
	Workers     int      `toml:"workers"`
	EvalTimeout duration `toml:"eval_timeout"`
	StepBudget  int      `toml:"step_budget"`
	// Listen is the websocket gateway address; empty serves stdin only.
	Listen string `toml:"listen"`
	Target string `toml:"target"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// duration decodes TOML strings like "2s" into a time.Duration.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Commutative: []string{"+", "*"},
		Strategy:    "closed-subtrees",
		Store: StoreConfig{
			Root:   ".glyph",
			Prefix: "form",
		},
		Runtime: RuntimeConfig{
			Workers:     4,
			EvalTimeout: duration(2 * time.Second),
			StepBudget:  10_000,
			Target:      "/mnt/app",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file. A missing file returns the defaults;
// fields absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, nil
}

// EvalTimeout returns the runtime per-message timeout as a time.Duration.
func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.Runtime.EvalTimeout)
}

// CanonOptions builds the canonicalization options from the configured
// commutative operator list.
func (c *Config) CanonOptions() sexp.Options {
	ops := make(map[sexp.Symbol]bool, len(c.Commutative))
	for _, op := range c.Commutative {
		ops[sexp.Symbol(op)] = true
	}
	return sexp.Options{Commutative: ops}
}
