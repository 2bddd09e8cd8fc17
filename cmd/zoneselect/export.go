package main

import (
	"encoding/json"
	"fmt"

	"github.com/earthring/zoneselect/internal/api"
	"github.com/earthring/zoneselect/internal/store"
	"github.com/spf13/cobra"
)

func exportCmd() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print a user's persisted selection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			backend, err := store.Open(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
			}
			defer func() {
				if err := backend.Close(); err != nil {
					log.Warn().Err(err).Msg("failed to close store")
				}
			}()

			ids, err := backend.Get(cmd.Context(), api.SelectionKey(userID))
			if err != nil {
				return err
			}
			if ids == nil {
				ids = []string{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"user_id": userID, "zone_ids": ids})
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
