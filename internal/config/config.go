// Package config loads xradio command line settings from YAML
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/qri-io/xradio/msv2"
	"github.com/qri-io/xradio/zarr"
)

// Environment variables overriding file settings
const (
	EnvStore    = "XRADIO_STORE"
	EnvLogLevel = "XRADIO_LOG_LEVEL"
)

// Config holds all xradio settings
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Convert ConvertConfig `yaml:"convert"`
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig locates zarr data
type StoreConfig struct {
	// Location is a local directory or gs://bucket/prefix
	Location string `yaml:"location"`
}

// ConvertConfig configures MSv2 conversion
type ConvertConfig struct {
	PartitionScheme string `yaml:"partition_scheme"` // ddi, intent, scan, scan/subscan
	Compressor      string `yaml:"compressor"`       // zstd, zlib, gzip, none
	Concurrency     int    `yaml:"concurrency"`
	// ChunkTarget is a byte size such as "64 MiB", empty to size chunks from
	// available memory
	ChunkTarget string `yaml:"chunk_target"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Location: ".",
		},
		Convert: ConvertConfig{
			PartitionScheme: string(msv2.SchemeDDI),
			Compressor:      zarr.CodecZstd,
			Concurrency:     4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if loc := os.Getenv(EnvStore); loc != "" {
		c.Store.Location = loc
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = level
	}
}

// Validate checks enumerated and size settings
func (c *Config) Validate() error {
	if _, err := msv2.ParseScheme(c.Convert.PartitionScheme); err != nil {
		return err
	}
	if _, err := zarr.ParseCompressor(c.Convert.Compressor); err != nil {
		return err
	}
	if c.Convert.Concurrency < 1 {
		return fmt.Errorf("invalid concurrency: %d", c.Convert.Concurrency)
	}
	if _, err := c.Convert.ChunkTargetBytes(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	return nil
}

// ChunkTargetBytes parses ChunkTarget, 0 when unset
func (c ConvertConfig) ChunkTargetBytes() (int64, error) {
	if c.ChunkTarget == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.ChunkTarget)
	if err != nil {
		return 0, fmt.Errorf("invalid chunk target %q: %w", c.ChunkTarget, err)
	}
	return int64(n), nil
}

// GCSLocation splits a gs://bucket/prefix location. ok is false for local
// paths.
func GCSLocation(location string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(location, "gs://")
	if !found {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, prefix, true
}
