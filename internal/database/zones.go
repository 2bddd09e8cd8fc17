package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/earthring/zoneselect/internal/selection"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
)

// ZoneStorage reads and writes the zone catalog table.
type ZoneStorage struct {
	db *sql.DB
}

// NewZoneStorage creates a new zone storage instance
func NewZoneStorage(db *sql.DB) *ZoneStorage {
	return &ZoneStorage{db: db}
}

// ListZones returns every zone ordered by id.
func (s *ZoneStorage) ListZones(ctx context.Context) ([]selection.Zone, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, properties, geometry FROM zones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close rows in ListZones")
		}
	}()

	var zones []selection.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, *z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate zones: %w", err)
	}
	return zones, nil
}

// UpsertZone inserts z or replaces the stored zone with the same id.
func (s *ZoneStorage) UpsertZone(ctx context.Context, z selection.Zone) error {
	if strings.TrimSpace(z.ID) == "" {
		return fmt.Errorf("zone id cannot be empty")
	}
	if z.Geometry == nil {
		return fmt.Errorf("zone %s has no geometry", z.ID)
	}
	geom, err := geojson.NewGeometry(z.Geometry).MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode geometry for zone %s: %w", z.ID, err)
	}
	var props any
	if len(z.Properties) > 0 {
		raw, err := json.Marshal(z.Properties)
		if err != nil {
			return fmt.Errorf("failed to encode properties for zone %s: %w", z.ID, err)
		}
		props = string(raw)
	}

	query := `
		INSERT INTO zones (id, name, properties, geometry, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			properties = EXCLUDED.properties,
			geometry = EXCLUDED.geometry,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, z.ID, z.Name, props, string(geom)); err != nil {
		return fmt.Errorf("failed to upsert zone %s: %w", z.ID, err)
	}
	return nil
}

// DeleteZone removes the zone with id.
func (s *ZoneStorage) DeleteZone(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM zones WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete zone %s: %w", id, err)
	}
	return nil
}

type zoneScanner interface {
	Scan(dest ...any) error
}

func scanZone(scanner zoneScanner) (*selection.Zone, error) {
	var z selection.Zone
	var properties sql.NullString
	var geometry string

	if err := scanner.Scan(&z.ID, &z.Name, &properties, &geometry); err != nil {
		return nil, fmt.Errorf("failed to scan zone: %w", err)
	}
	if properties.Valid && properties.String != "" {
		if err := json.Unmarshal([]byte(properties.String), &z.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode properties for zone %s: %w", z.ID, err)
		}
	}
	g, err := geojson.UnmarshalGeometry([]byte(geometry))
	if err != nil {
		return nil, fmt.Errorf("failed to decode geometry for zone %s: %w", z.ID, err)
	}
	z.Geometry = g.Geometry()
	bound := z.Geometry.Bound()
	z.BBox = &bound
	return &z, nil
}
