package main

import (
	"fmt"

	"github.com/earthring/zoneselect/internal/database"
	"github.com/earthring/zoneselect/internal/zonefile"
	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	var (
		path  string
		prune bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a GeoJSON zone file into the database catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.Catalog.Path
			}
			zones, err := zonefile.Load(path)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := database.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.EnsureSchema(ctx, db); err != nil {
				return err
			}

			storage := database.NewZoneStorage(db)
			keep := make(map[string]bool, len(zones))
			for _, z := range zones {
				if err := storage.UpsertZone(ctx, z); err != nil {
					return fmt.Errorf("failed to import zone %s: %w", z.ID, err)
				}
				keep[z.ID] = true
			}

			removed := 0
			if prune {
				existing, err := storage.ListZones(ctx)
				if err != nil {
					return err
				}
				for _, z := range existing {
					if keep[z.ID] {
						continue
					}
					if err := storage.DeleteZone(ctx, z.ID); err != nil {
						return fmt.Errorf("failed to prune zone %s: %w", z.ID, err)
					}
					removed++
				}
			}

			log.Info().Str("file", path).Int("imported", len(zones)).Int("pruned", removed).Msg("zone catalog imported")
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "file", "", "GeoJSON feature collection (default ZONES_PATH)")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete catalog zones missing from the file")

	return cmd
}
