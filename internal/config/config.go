// Package config loads gdbtap settings from an optional YAML file,
// layered over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can use forms like
// "2s" or "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all gdbtap settings.
type Config struct {
	// Listen is the HTTP server bind address.
	Listen string `yaml:"listen"`

	// GDBPath is the gdb binary to spawn for each session.
	GDBPath string `yaml:"gdb_path"`

	// TargetsDir is the directory of debuggable executables.
	TargetsDir string `yaml:"targets_dir"`

	// CommandTimeout bounds the wait for a command's result record.
	CommandTimeout Duration `yaml:"command_timeout"`

	// StopTimeout bounds the wait for a stop event after a
	// continuation command is acknowledged.
	StopTimeout Duration `yaml:"stop_timeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:         "127.0.0.1:8080",
		GDBPath:        "gdb",
		TargetsDir:     "targets",
		CommandTimeout: Duration(2 * time.Second),
		StopTimeout:    Duration(5 * time.Second),
		LogLevel:       "info",
	}
}

// Load reads the YAML file at path over the defaults. A missing file
// is not an error when path is empty; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
