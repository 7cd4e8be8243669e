package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/livinlefevreloca/waypoint/internal/api"
	"github.com/livinlefevreloca/waypoint/internal/config"
	"github.com/livinlefevreloca/waypoint/internal/connectors"
	"github.com/livinlefevreloca/waypoint/internal/db"
	"github.com/livinlefevreloca/waypoint/internal/domain"
	"github.com/livinlefevreloca/waypoint/internal/executor"
	"github.com/livinlefevreloca/waypoint/internal/layers"
	"github.com/livinlefevreloca/waypoint/internal/lineage"
	"github.com/livinlefevreloca/waypoint/internal/orchestrator"
	"github.com/livinlefevreloca/waypoint/internal/quality"
	"github.com/livinlefevreloca/waypoint/internal/scheduler"
	"github.com/livinlefevreloca/waypoint/internal/state"
)

const shutdownGrace = 30 * time.Second

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting waypoint sync orchestrator", "config_file", *configFile)

	// Open database connection and run migrations
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.Info("database connected", "driver", database.Driver(), "dsn", cfg.Database.DSN)

	if !cfg.Database.SkipMigrations {
		if err := database.Migrate(); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		version, err := database.SchemaVersion()
		if err != nil {
			slog.Error("failed to get schema version", "error", err)
			os.Exit(1)
		}
		slog.Info("database schema ready", "version", version)
	} else {
		slog.Info("skipping migrations", "reason", "configured to skip")
	}

	// Build the source catalog from config
	sources := make([]*domain.Source, 0, len(cfg.Sources))
	for _, entry := range cfg.Sources {
		connector, err := connectors.New(entry.Config)
		if err != nil {
			slog.Error("failed to build connector",
				"source_id", entry.ID, "kind", string(entry.Config.Kind), "error", err)
			os.Exit(1)
		}
		sources = append(sources, &domain.Source{
			ID:        entry.ID,
			Name:      entry.Name,
			Config:    entry.Config,
			Connector: connector,
		})
	}
	slog.Info("source catalog loaded", "sources", len(sources))

	// Assemble the engine
	gate, err := quality.NewGate(cfg.Quality.PassThreshold, cfg.Quality.WarnThreshold)
	if err != nil {
		slog.Error("invalid quality thresholds", "error", err)
		os.Exit(1)
	}

	cursors := state.NewStore(database, logger)
	exec := executor.NewExecutor(
		database,
		cursors,
		gate,
		quality.StaticEngine{Score: 100},
		layers.NewFSWriter(cfg.Storage.DataDir),
		layers.NewFSAggregator(cfg.Storage.DataDir),
		lineage.NewLogTracker(logger),
		cfg.Orchestrator,
		logger,
	)
	pool := executor.NewPool(cfg.Orchestrator, exec, logger)
	pool.Start()

	orch, err := orchestrator.New(database, cursors, pool, sources, logger)
	if err != nil {
		slog.Error("failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}

	sched, err := scheduler.New(database, orch, cfg.Scheduler, logger)
	if err != nil {
		slog.Error("failed to initialize scheduler", "error", err)
		os.Exit(1)
	}
	sched.Start()

	// Start the HTTP API
	var httpServer *http.Server
	if cfg.HTTP.Enabled {
		server := api.NewServer(orch, sched, logger)
		httpServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
			Handler: server.Router(),
		}
		go func() {
			slog.Info("http api listening", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http server failed", "error", err)
				os.Exit(1)
			}
		}()
	}

	slog.Info("waypoint is running")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down gracefully")

	// Stop firing new jobs first, then stop accepting requests, then drain
	// in-flight jobs.
	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("http shutdown failed", "error", err)
		}
	}
	if err := orch.Shutdown(ctx); err != nil {
		slog.Error("worker pool shutdown failed", "error", err)
	}

	slog.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
