package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/livinlefevreloca/waypoint/internal/domain"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfigEmptyPathReturnsDefaults(t *testing.T) {
	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.Database.Driver != "sqlite3" {
		t.Errorf("driver = %q, want sqlite3", config.Database.Driver)
	}
	if config.HTTP.Port != 8080 {
		t.Errorf("port = %d, want 8080", config.HTTP.Port)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[database]
dsn = "test.db"

[orchestrator]
max_concurrent_jobs = 8
default_job_timeout = "10m"

[scheduler]
tick_interval = "250ms"

[quality]
pass_threshold = 80.0
warn_threshold = 60.0

[http]
port = 9090

[logging]
level = "debug"
format = "text"

[[sources]]
id = "crm"
name = "crm api"

[sources.config]
kind = "http_api"

[sources.config.http_api]
base_url = "http://crm.internal/api"
page_size = 500
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if config.Database.DSN != "test.db" {
		t.Errorf("dsn = %q, want test.db", config.Database.DSN)
	}
	if config.Database.Driver != "sqlite3" {
		t.Errorf("driver default lost: %q", config.Database.Driver)
	}
	if config.Orchestrator.MaxConcurrentJobs != 8 {
		t.Errorf("max_concurrent_jobs = %d, want 8", config.Orchestrator.MaxConcurrentJobs)
	}
	if config.Orchestrator.DefaultJobTimeout != 10*time.Minute {
		t.Errorf("default_job_timeout = %v, want 10m", config.Orchestrator.DefaultJobTimeout)
	}
	if config.Scheduler.TickInterval != 250*time.Millisecond {
		t.Errorf("tick_interval = %v, want 250ms", config.Scheduler.TickInterval)
	}
	if config.Quality.PassThreshold != 80 {
		t.Errorf("pass_threshold = %v, want 80", config.Quality.PassThreshold)
	}
	if config.HTTP.Port != 9090 {
		t.Errorf("port = %d, want 9090", config.HTTP.Port)
	}
	if len(config.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(config.Sources))
	}
	if config.Sources[0].Config.HTTP.BaseURL != "http://crm.internal/api" {
		t.Errorf("base_url = %q", config.Sources[0].Config.HTTP.BaseURL)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "unsupported driver",
			mutate:  func(c *Config) { c.Database.Driver = "postgres" },
			wantMsg: "unsupported database driver",
		},
		{
			name:    "empty dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantMsg: "DSN",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Orchestrator.MaxConcurrentJobs = 0 },
			wantMsg: "orchestrator",
		},
		{
			name:    "zero tick interval",
			mutate:  func(c *Config) { c.Scheduler.TickInterval = 0 },
			wantMsg: "scheduler",
		},
		{
			name: "warn above pass",
			mutate: func(c *Config) {
				c.Quality.PassThreshold = 50
				c.Quality.WarnThreshold = 75
			},
			wantMsg: "quality",
		},
		{
			name:    "empty data dir",
			mutate:  func(c *Config) { c.Storage.DataDir = "" },
			wantMsg: "data_dir",
		},
		{
			name:    "bad http port",
			mutate:  func(c *Config) { c.HTTP.Port = 70000 },
			wantMsg: "port",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantMsg: "log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantMsg: "log format",
		},
		{
			name: "duplicate source ids",
			mutate: func(c *Config) {
				entry := SourceEntry{ID: "a", Name: "a"}
				entry.Config.Kind = "http_api"
				entry.Config.HTTP = &domain.HTTPConfig{BaseURL: "http://a.internal"}
				c.Sources = []SourceEntry{entry, entry}
			},
			wantMsg: "duplicate source id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}
