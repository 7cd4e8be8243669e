// Package config loads application configuration from TOML with defaults.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/livinlefevreloca/waypoint/internal/db"
	"github.com/livinlefevreloca/waypoint/internal/domain"
	"github.com/livinlefevreloca/waypoint/internal/executor"
	"github.com/livinlefevreloca/waypoint/internal/quality"
	"github.com/livinlefevreloca/waypoint/internal/scheduler"
)

// Config represents the application configuration
type Config struct {
	Database     db.Config        `toml:"database"`
	Orchestrator executor.Config  `toml:"orchestrator"`
	Scheduler    scheduler.Config `toml:"scheduler"`
	Quality      QualityConfig    `toml:"quality"`
	Storage      StorageConfig    `toml:"storage"`
	HTTP         HTTPConfig       `toml:"http"`
	Logging      LoggingConfig    `toml:"logging"`
	Sources      []SourceEntry    `toml:"sources"`
}

// QualityConfig holds the quality gate thresholds
type QualityConfig struct {
	PassThreshold float64 `toml:"pass_threshold"`
	WarnThreshold float64 `toml:"warn_threshold"`
}

// StorageConfig holds the layer output location
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// HTTPConfig holds HTTP API server settings
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// SourceEntry declares one data source in the catalog
type SourceEntry struct {
	ID     string              `toml:"id"`
	Name   string              `toml:"name"`
	Config domain.SourceConfig `toml:"config"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:       "sqlite3",
			DSN:          "waypoint.db",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Orchestrator: executor.DefaultConfig(),
		Scheduler:    scheduler.DefaultConfig(),
		Quality: QualityConfig{
			PassThreshold: quality.DefaultPassThreshold,
			WarnThreshold: quality.DefaultWarnThreshold,
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path == "" {
		return config, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	if c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if _, err := quality.NewGate(c.Quality.PassThreshold, c.Quality.WarnThreshold); err != nil {
		return fmt.Errorf("quality: %w", err)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir must be specified")
	}

	if c.HTTP.Enabled {
		if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
			return fmt.Errorf("HTTP port must be between 1 and 65535")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, source := range c.Sources {
		if source.ID == "" {
			return fmt.Errorf("source entry missing id")
		}
		if seen[source.ID] {
			return fmt.Errorf("duplicate source id: %s", source.ID)
		}
		seen[source.ID] = true
		if err := source.Config.Validate(); err != nil {
			return fmt.Errorf("source %s: %w", source.ID, err)
		}
	}

	return nil
}
