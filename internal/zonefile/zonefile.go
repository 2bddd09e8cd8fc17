// Package zonefile loads the zone catalog from a GeoJSON feature collection
// and reloads it when the file changes.
package zonefile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/earthring/zoneselect/internal/selection"
	"github.com/fsnotify/fsnotify"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
)

const debounceInterval = 100 * time.Millisecond

// Load reads the feature collection at path.
func Load(path string) ([]selection.Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zone file: %w", err)
	}
	zones, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return zones, nil
}

// Parse decodes a feature collection into zones. Features without an id or
// without polygonal geometry are skipped. The id comes from the feature id,
// falling back to the "id" property; the name comes from the "name"
// property.
func Parse(data []byte) ([]selection.Zone, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, err
	}

	zones := make([]selection.Zone, 0, len(fc.Features))
	for _, f := range fc.Features {
		id := featureID(f)
		if id == "" || f.Geometry == nil {
			continue
		}
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			continue
		}

		bound := f.Geometry.Bound()
		if len(f.BBox) > 0 && f.BBox.Valid() {
			bound = f.BBox.Bound()
		}
		zones = append(zones, selection.Zone{
			ID:         id,
			Name:       f.Properties.MustString("name", ""),
			Geometry:   f.Geometry,
			Properties: map[string]any(f.Properties),
			BBox:       &bound,
		})
	}
	return zones, nil
}

func featureID(f *geojson.Feature) string {
	v := f.ID
	if v == nil {
		v = f.Properties["id"]
	}
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}

// Watch reloads the file at path whenever it changes and hands the new
// zones to onChange. Bursts of events are coalesced. Reload failures are
// logged and the previous zones stay in effect. Watch blocks until ctx is
// done.
func Watch(ctx context.Context, path string, log zerolog.Logger, onChange func([]selection.Zone)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	dir, name := filepath.Dir(path), filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	log.Info().Str("dir", dir).Str("file", name).Msg("watching zone file for changes")

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		var debounceC <-chan time.Time
		if debounce != nil {
			debounceC = debounce.C
		}

		select {
		case <-ctx.Done():
			return nil

		case <-debounceC:
			debounce = nil
			zones, err := Load(path)
			if err != nil {
				log.Warn().Err(err).Str("file", path).Msg("failed to reload zone file")
				continue
			}
			log.Info().Int("zones", len(zones)).Msg("zone file reloaded")
			onChange(zones)

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(debounceInterval)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("zone file watcher error")
		}
	}
}
