package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the relay daemon configuration
type Config struct {
	Listen   string         `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Limits   LimitsConfig   `yaml:"limits"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LimitsConfig struct {
	SignalBytesPerSec  int     `yaml:"signal_bytes_per_sec"`
	SignalBurst        int     `yaml:"signal_burst"`
	HTTPRequestsPerSec float64 `yaml:"http_requests_per_sec"`
	HTTPBurst          int     `yaml:"http_burst"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Database: DatabaseConfig{
			Path: "perch.db",
		},
		Limits: LimitsConfig{
			SignalBytesPerSec:  64 * 1024,
			SignalBurst:        256 * 1024,
			HTTPRequestsPerSec: 10,
			HTTPBurst:          30,
		},
	}
}

// Load reads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables if present
	if listen := os.Getenv("PERCH_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if dbPath := os.Getenv("PERCH_DB"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Limits.SignalBytesPerSec < 0 || c.Limits.SignalBurst < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if c.Limits.HTTPRequestsPerSec < 0 || c.Limits.HTTPBurst < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}
