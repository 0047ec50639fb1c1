// Package config loads the tunables for a running engine instance from
// YAML, the way nearly every other storage layer in this ecosystem does.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LockConfig controls the row-level lock pool's sizing and timing.
type LockConfig struct {
	Capacity        int    `yaml:"capacity"`
	DeadlockTimeout string `yaml:"deadlock_timeout"`
	RecheckInterval string `yaml:"recheck_interval"`
}

// LoggingConfig controls logrus's level and destination.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"` // "stdout", "stderr", or a file path
}

// ServerConfig holds a listen address for a network front end. Nothing in
// this module reads it: cmd/recorddb's serve subcommand takes commands from
// stdin only and binds no listener.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// Config is the full, top-level configuration for one engine instance.
type Config struct {
	DataFile string       `yaml:"data_file"`
	Schema   string       `yaml:"schema"` // "v1" or "v2"
	Lock     LockConfig   `yaml:"lock"`
	Logging  LoggingConfig `yaml:"logging"`
	Server   ServerConfig `yaml:"server"`
}

// Load reads YAML configuration from r, applying defaults for anything the
// document doesn't set. A nil or empty reader yields pure defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := &Config{
		DataFile: "./rooms.db",
		Schema:   "v2",
		Lock: LockConfig{
			Capacity:        1000,
			DeadlockTimeout: "60s",
			RecheckInterval: "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		Server: ServerConfig{
			ListenAddress: "",
		},
	}

	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: reading: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}
	return cfg, nil
}

// LoadFile reads configuration from a YAML file at path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// ParseDuration parses s, falling back to def if s is empty or malformed.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
