// Command zoneselect serves interactive zone selection sessions and
// manages the zone catalog and persisted selections.
package main

import (
	"os"

	"github.com/earthring/zoneselect/internal/config"
	"github.com/earthring/zoneselect/internal/logger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const appName = "zoneselect"

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Zone selection server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(tokenCmd())
	cmd.AddCommand(exportCmd())
	cmd.AddCommand(importCmd())

	return cmd
}

// setup loads configuration and installs the process logger.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, log.Logger, err
	}
	return cfg, logger.Setup(cfg.Logging, appName), nil
}
