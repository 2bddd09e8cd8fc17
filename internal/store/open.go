package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/earthring/zoneselect/internal/config"
	"github.com/earthring/zoneselect/internal/database"
	"github.com/earthring/zoneselect/internal/selection"
)

// Backend is a selection store that owns a connection.
type Backend interface {
	selection.Store
	Delete(ctx context.Context, key string) error
	Close() error
}

type postgres struct {
	*database.SelectionStorage
	db *sql.DB
}

func (p *postgres) Close() error { return p.db.Close() }

// Open returns the backend named by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory, "":
		return NewMemory(), nil
	case config.BackendRedis:
		return OpenRedis(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Store.KeyPrefix)
	case config.BackendPostgres:
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &postgres{SelectionStorage: database.NewSelectionStorage(db), db: db}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}
