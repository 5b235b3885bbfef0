// Package config defines the YAML configuration file the installer writes
// for the shuttled service. The installer only emits and removes this file;
// the service binary is its real consumer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts human-readable strings like
// "10s" or "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds the service settings the installer provisions.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Limits  LimitsConfig  `yaml:"limits"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Port         int `yaml:"port"`
	MaxUploadMB  int `yaml:"max_upload_mb"`
	BufferSizeKB int `yaml:"buffer_size_kb"`
}

// StorageConfig holds filesystem locations.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// LimitsConfig holds runtime limits.
type LimitsConfig struct {
	ShutdownGrace Duration `yaml:"shutdown_grace"`
}

// Default returns the configuration a fresh install writes.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8082,
			MaxUploadMB:  1024,
			BufferSizeKB: 32,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Limits: LimitsConfig{
			ShutdownGrace: Duration{10 * time.Second},
		},
	}
}

// Load reads a config file, merging over defaults. A missing file yields
// plain defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Write serializes the config to path, creating parent directories if needed.
func Write(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}
