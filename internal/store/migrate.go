package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// MigrationResult summarizes one applied migration.
type MigrationResult struct {
	Version int64  `json:"version"`
	Path    string `json:"path"`
	Empty   bool   `json:"empty"`
}

// Migrate brings the Postgres schema up to date.
func (p *Postgres) Migrate(ctx context.Context) ([]MigrationResult, error) {
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()
	return migrate(ctx, db, goose.DialectPostgres, postgresMigrations, "migrations/postgres")
}

// Migrate brings the SQLite schema up to date.
func (s *SQLite) Migrate(ctx context.Context) ([]MigrationResult, error) {
	return migrate(ctx, s.db, goose.DialectSQLite3, sqliteMigrations, "migrations/sqlite")
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, embedded embed.FS, dir string) ([]MigrationResult, error) {
	fsys, err := fs.Sub(embedded, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations dir: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	applied := make([]MigrationResult, 0, len(results))
	for _, r := range results {
		slog.Info("migration applied",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration", r.Duration,
		)
		applied = append(applied, MigrationResult{
			Version: r.Source.Version,
			Path:    r.Source.Path,
			Empty:   r.Empty,
		})
	}
	return applied, nil
}
