package main

import (
	"fmt"

	"github.com/earthring/zoneselect/internal/auth"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		userID   int64
		username string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			token, err := auth.NewJWTService(cfg).GenerateAccessToken(userID, username, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&username, "name", "", "username")
	cmd.Flags().StringVar(&role, "role", "editor", "role claim")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
