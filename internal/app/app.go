// Package app wires configuration, storage and the model client into a
// ready engine for the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"

	"blueprint/internal/config"
	"blueprint/internal/db"
	"blueprint/internal/engine"
	"blueprint/internal/llm"
	"blueprint/internal/logging"
	"blueprint/internal/metrics"
	"blueprint/internal/migrate"
	"blueprint/internal/repo"
)

// Options selects where the runtime reads its configuration from.
type Options struct {
	Workspace string
	// ConfigPath names an explicit config file used instead of the
	// workspace's blueprint.yml; it must exist.
	ConfigPath string
	// Viper carries flag and environment overrides; nil skips them.
	Viper *viper.Viper
	// LogOutput defaults to stderr.
	LogOutput io.Writer
	// Model replaces the configured provider, mainly for tests.
	Model llm.Client
	// SkipModel builds the runtime without a model client, for commands
	// that never generate.
	SkipModel bool
}

// Runtime is everything a command needs. Close releases it.
type Runtime struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Engine  engine.Engine
	// Events is nil when the event log is disabled.
	Events *repo.Repo
	DB     *sql.DB
}

// Open loads configuration, opens and migrates the event database when
// enabled, and builds the model client.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.FromFile(opts.ConfigPath)
	} else {
		cfg, err = config.LoadOptional(opts.Workspace)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Overlay(opts.Viper); err != nil {
		return nil, err
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	rt := &Runtime{
		Config:  cfg,
		Logger:  logging.New(cfg.Log.Level, cfg.Log.Format, out),
		Metrics: metrics.New(),
	}
	if cfg.Events.Enabled {
		conn, err := db.Open(db.Config{Workspace: opts.Workspace})
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		if err := migrate.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate event log: %w", err)
		}
		rt.DB = conn
		rt.Events = &repo.Repo{DB: conn}
	}
	model := opts.Model
	if model == nil && !opts.SkipModel {
		model, err = llm.Shared(ModelConfig(cfg, rt.Logger))
		if err != nil {
			rt.Close()
			return nil, err
		}
	}
	rt.Engine = engine.New(rt.DB, cfg, model)
	rt.Engine.Metrics = rt.Metrics
	rt.Engine.Logger = rt.Logger
	rt.Logger.Debug("runtime ready",
		"workspace", opts.Workspace,
		"provider", cfg.Model.Provider,
		"model", cfg.Model.Name,
		"output_mode", cfg.Generation.OutputMode,
		"events", cfg.Events.Enabled,
	)
	return rt, nil
}

// ModelConfig maps the model section of cfg to a client config.
func ModelConfig(cfg *config.Config, logger *slog.Logger) llm.Config {
	return llm.Config{
		Provider:    cfg.Model.Provider,
		Model:       cfg.Model.Name,
		BaseURL:     cfg.Model.BaseURL,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
		Timeout:     time.Duration(cfg.Model.TimeoutSeconds) * time.Second,
		Logger:      logger,
	}
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}
