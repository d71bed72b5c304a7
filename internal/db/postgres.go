// Package db owns the Postgres connection pool and schema migrations
// for the job and notification tables.
package db

import (
	"context"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtbook/relay/internal/config"
)

// Connect builds the pgx pool from config and verifies connectivity
// before handing it out. Connections are recycled on a max lifetime so
// long-lived workers pick up server-side changes eventually.
func Connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns
	poolCfg.MaxConnLifetime = cfg.DBConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Migrate applies all pending up-migrations found under migrationsPath.
// Idempotent: a schema already at head is not an error.
func Migrate(databaseURL, migrationsPath string) error {
	migrationURL, err := pgx5URL(databaseURL)
	if err != nil {
		return err
	}

	m, err := migrate.New("file://"+migrationsPath, migrationURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// pgx5URL rewrites a postgres:// or postgresql:// connection string to
// the pgx5:// scheme golang-migrate's pgx/v5 driver registers under.
func pgx5URL(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse database URL: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql", "pgx5":
		u.Scheme = "pgx5"
	default:
		return "", fmt.Errorf("unsupported database URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}
