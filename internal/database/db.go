// Package database holds the PostgreSQL-backed zone catalog and selection
// storage.
package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/earthring/zoneselect/internal/config"
	_ "github.com/lib/pq"
)

// Open connects to PostgreSQL with the pool settings from cfg and pings it.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS zones (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		properties JSONB,
		geometry   JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS selections (
		key        TEXT PRIMARY KEY,
		zone_ids   TEXT[] NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
`

// EnsureSchema creates the zones and selections tables if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
