// Package config loads termbridge configuration.
//
// Sources are applied lowest to highest: built-in defaults, a TOML file,
// then TERMBRIDGE_* environment variables. Command-line flags are applied by
// the caller on top of the result.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/termbridge/internal/surface"
)

// EnvPrefix is the prefix of environment overrides, e.g. TERMBRIDGE_BACKEND.
const EnvPrefix = "TERMBRIDGE"

// Poll timeout bounds. The timeout only trades stop latency for CPU.
const (
	MinPollTimeout     = time.Millisecond
	MaxPollTimeout     = 50 * time.Millisecond
	DefaultPollTimeout = 10 * time.Millisecond
)

// Config holds all termbridge configuration.
type Config struct {
	// Backend selects the terminal surface: termbox, tcell or null.
	Backend string `toml:"backend" envconfig:"BACKEND"`

	// PollTimeout is how long one poll waits for input.
	PollTimeout Duration `toml:"poll_timeout" envconfig:"POLL_TIMEOUT"`

	Logging LogConfig     `toml:"logging" envconfig:"LOG"`
	Metrics MetricsConfig `toml:"metrics" envconfig:"METRICS"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string   `toml:"level" envconfig:"LEVEL"`
	Development bool     `toml:"development" envconfig:"DEV"`
	OutputPaths []string `toml:"output_paths" envconfig:"OUTPUT_PATHS"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `toml:"addr" envconfig:"ADDR"`
}

// Duration is a time.Duration that decodes from strings such as "10ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend:     surface.BackendTermbox,
		PollTimeout: Duration(DefaultPollTimeout),
		Logging: LogConfig{
			Level:       "info",
			OutputPaths: []string{"stderr"},
		},
	}
}

// Load builds a configuration from defaults, the TOML file at path and the
// environment. A missing file is not an error; path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile decodes the TOML file at path over c.
func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	defer f.Close()

	return c.decode(path, f)
}

func (c *Config) decode(source string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return &ParseError{Path: source, Err: err}
	}
	return nil
}

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	if !slices.Contains(surface.Backends, c.Backend) {
		return &ValidationError{Field: "backend", Message: fmt.Sprintf("unknown backend %q", c.Backend)}
	}
	if d := c.PollTimeout.Std(); d < MinPollTimeout || d > MaxPollTimeout {
		return &ValidationError{
			Field:   "poll_timeout",
			Message: fmt.Sprintf("%s outside [%s, %s]", d, MinPollTimeout, MaxPollTimeout),
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "logging.level", Message: fmt.Sprintf("invalid level %q", c.Logging.Level)}
	}
	return nil
}

// ParseError represents an error while parsing a configuration file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
