// Package application wires configuration, storage, the import pipeline and
// the run manager together for the server and CLI entry points.
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/stockimport/internal/config"
	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/JonMunkholm/stockimport/internal/jobs"
	"github.com/JonMunkholm/stockimport/internal/metrics"
	"github.com/JonMunkholm/stockimport/internal/notify"
	"github.com/JonMunkholm/stockimport/internal/store"
	"github.com/redis/go-redis/v9"
)

// App holds the long-lived components of a process.
type App struct {
	Config   *config.Config
	Store    store.Backend
	Importer *core.Importer
	Runner   *jobs.RetryRunner
	Manager  *jobs.Manager
	Redis    *redis.Client

	defaults core.ImportJob
}

// New opens the store, applies migrations and builds the pipeline.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	defaults, err := JobDefaults(cfg.Import)
	if err != nil {
		return nil, err
	}

	backend, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	applied, err := backend.Migrate(ctx)
	if err != nil {
		backend.Close()
		return nil, err
	}
	slog.Info("schema up to date", "driver", cfg.Database.Driver, "applied", len(applied))

	app := &App{Config: cfg, Store: backend, defaults: defaults}

	opts := []core.Option{
		core.WithProgressInterval(cfg.Import.ProgressInterval),
		core.WithReporter(metrics.NewReporter()),
	}
	if cfg.Redis.Enabled() {
		client, err := notify.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			backend.Close()
			return nil, err
		}
		app.Redis = client
		opts = append(opts, core.WithReporter(notify.NewRedisPublisher(client, cfg.Redis.ChannelPrefix)))
		slog.Info("publishing progress to redis", "prefix", cfg.Redis.ChannelPrefix)
	}

	gate := core.NewSecurityGate(cfg.Import.MaxFileSize, cfg.Import.RequiredHeaders, cfg.Import.AllowedDirs)
	app.Importer = core.NewImporter(backend, gate, opts...)

	app.Runner = jobs.NewRetryRunner(app.Importer, jobs.RetryPolicy{
		Attempts:        cfg.Retry.Attempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	})
	app.Runner.OnRetry(metrics.ObserveRetry)

	app.Manager = jobs.NewManager(app.Runner,
		jobs.NewLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWait),
		jobs.ManagerConfig{Timeout: cfg.Import.JobTimeout, Retention: cfg.Import.Retention},
	)
	return app, nil
}

// OpenStore connects to the configured database without migrating it.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (store.Backend, error) {
	return store.Open(ctx, store.Options{
		Driver:           cfg.Driver,
		URL:              cfg.URL,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DisableReturning: cfg.DisableReturning,
	})
}

// JobDefaults converts the configured import settings into a job template.
func JobDefaults(cfg config.ImportConfig) (core.ImportJob, error) {
	correlation, err := core.ParseCorrelationMode(cfg.Correlation)
	if err != nil {
		return core.ImportJob{}, fmt.Errorf("%w: %w", core.ErrInvalidJob, err)
	}
	key, err := inventory.ParseUniqueKey(cfg.UniqueKey)
	if err != nil {
		return core.ImportJob{}, fmt.Errorf("%w: %w", core.ErrInvalidJob, err)
	}
	return core.ImportJob{
		BatchSize:        cfg.BatchSize,
		UpdateExisting:   cfg.UpdateExisting,
		UniqueKey:        key,
		StrictTransforms: cfg.StrictTransforms,
		Correlation:      correlation,
	}, nil
}

// NewJob returns a job for path and actor carrying the configured defaults.
func (a *App) NewJob(path string, actor inventory.Actor) core.ImportJob {
	job := a.defaults
	job.SourcePath = path
	job.Actor = actor
	return job
}

// Defaults returns the configured job template.
func (a *App) Defaults() core.ImportJob {
	return a.defaults
}

// Close releases the store and redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Warn("close redis", "error", err)
		}
	}
	a.Store.Close()
}
