package fevalgrid

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config defines a processing configuration.
type Config struct {
	// Grid configures the regular output grid.
	Grid GridOptions `yaml:"grid"`

	// Run configures repeated invocation of the simulation executable.
	Run RunConfig `yaml:"run"`

	// Storage selects where inputs and outputs live.
	Storage StorageConfig `yaml:"storage"`

	// SQLite optionally persists statistics tables.
	// If nil or Path is empty, no database is written.
	SQLite *SQLiteSinkConfig `yaml:"sqlite"`

	// Prometheus optionally exports statistics as a remote-write payload.
	Prometheus *PromExportConfig `yaml:"prometheus"`

	// LogLevel is one of debug, info, warn, error.
	// Default: info.
	LogLevel string `yaml:"log_level"`
}

// RunConfig groups simulation invocation settings.
type RunConfig struct {
	// Executable is the simulation program, looked up in PATH when it has
	// no path separator.
	Executable string `yaml:"executable"`

	// Args are passed to every invocation.
	Args []string `yaml:"args"`

	// Runs is the number of replicate invocations.
	// Default: 1.
	Runs int `yaml:"runs"`

	// Log is the raw run log that every run is appended to.
	Log string `yaml:"log"`

	// Report, when set, is a file the executable writes per run. It is
	// appended to Log and removed after each run instead of capturing stdout.
	Report string `yaml:"report"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Kind is file, s3 or memory. It decides where plain paths are stored;
	// s3:// locations always go to S3.
	// Default: file.
	Kind string `yaml:"kind"`

	// BaseDir is the root of relative local paths for the file kind.
	// Default: current directory.
	BaseDir string `yaml:"base_dir"`

	// S3 configures the S3 backend.
	S3 S3BackendConfig `yaml:"s3"`

	// Encryption seals every stored object when enabled.
	Encryption *EncryptionConfig `yaml:"encryption"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Grid: DefaultGridOptions(),
		Run: RunConfig{
			Runs: 1,
		},
		Storage: StorageConfig{
			Kind:    "file",
			BaseDir: ".",
		},
		LogLevel: "info",
	}
}

// LoadConfig reads a YAML configuration file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, newStorageError(StorageErrorTypeNotFound, "config file missing", path, err)
		}
		return cfg, newStorageError(StorageErrorTypeRead, "cannot read config", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, newArgumentError("config", path, fmt.Errorf("invalid YAML: %w", err))
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for argument errors.
func (c Config) Validate() error {
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	if c.Run.Runs < 0 {
		return newArgumentError("run.runs", fmt.Sprint(c.Run.Runs), errors.New("must not be negative"))
	}
	switch c.Storage.Kind {
	case "", "file", "memory":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return newArgumentError("storage.s3.bucket", "", errors.New("bucket is required"))
		}
	default:
		return newArgumentError("storage.kind", c.Storage.Kind, errors.New("expected file, s3 or memory"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, newArgumentError("log_level", s, errors.New("expected debug, info, warn or error"))
	}
}
