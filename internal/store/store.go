// Package store implements the inventory persistence ports on Postgres
// (pgx) and SQLite (modernc).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options selects and tunes a backend.
type Options struct {
	Driver string
	URL    string

	// Postgres pool settings.
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// SQLite settings.
	DisableReturning bool
}

// Backend is an opened store plus its lifecycle operations.
type Backend interface {
	inventory.Store
	Migrate(ctx context.Context) ([]MigrationResult, error)
	Ping(ctx context.Context) error
	Close()
}

// Open connects to the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Driver {
	case DriverPostgres, "":
		poolConfig, err := pgxpool.ParseConfig(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("parse database URL: %w", err)
		}
		if opts.MaxConns > 0 {
			poolConfig.MaxConns = int32(opts.MaxConns)
		}
		if opts.MinConns > 0 {
			poolConfig.MinConns = int32(opts.MinConns)
		}
		if opts.MaxConnLifetime > 0 {
			poolConfig.MaxConnLifetime = opts.MaxConnLifetime
		}
		if opts.MaxConnIdleTime > 0 {
			poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		return NewPostgres(pool), nil

	case DriverSQLite:
		return OpenSQLite(ctx, opts.URL, SQLiteOptions{DisableReturning: opts.DisableReturning})

	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() { s.db.Close() }
