package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// SelectionStorage persists selection order per key.
type SelectionStorage struct {
	db *sql.DB
}

// NewSelectionStorage creates a new selection storage instance
func NewSelectionStorage(db *sql.DB) *SelectionStorage {
	return &SelectionStorage{db: db}
}

// Get returns the stored ids for key, or nil when there are none.
func (s *SelectionStorage) Get(ctx context.Context, key string) ([]string, error) {
	var ids pq.StringArray
	err := s.db.QueryRowContext(ctx, `SELECT zone_ids FROM selections WHERE key = $1`, key).Scan(&ids)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get selection %s: %w", key, err)
	}
	return []string(ids), nil
}

// Set upserts the ids for key.
func (s *SelectionStorage) Set(ctx context.Context, key string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	query := `
		INSERT INTO selections (key, zone_ids, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (key)
		DO UPDATE SET zone_ids = EXCLUDED.zone_ids, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, key, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to set selection %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *SelectionStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM selections WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete selection %s: %w", key, err)
	}
	return nil
}
