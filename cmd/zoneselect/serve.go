package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/earthring/zoneselect/internal/api"
	"github.com/earthring/zoneselect/internal/config"
	"github.com/earthring/zoneselect/internal/database"
	"github.com/earthring/zoneselect/internal/selection"
	"github.com/earthring/zoneselect/internal/store"
	"github.com/earthring/zoneselect/internal/zonefile"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the selection server",
		Long:  `Starts the HTTP and websocket server on SERVER_HOST:SERVER_PORT (default 0.0.0.0:8080).`,
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close store")
		}
	}()

	zones, err := loadZones(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info().Str("source", cfg.Catalog.Source).Int("zones", len(zones)).Msg("zone catalog loaded")

	srv, err := api.NewServer(cfg, backend, zones, log)
	if err != nil {
		return err
	}
	srv.SetCatalogLoader(func(ctx context.Context) ([]selection.Zone, error) {
		return loadZones(ctx, cfg)
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gctx)
	})

	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Str("environment", cfg.Server.Environment).Msg("server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.Catalog.Watch {
		g.Go(func() error {
			return watchZones(gctx, cfg, log, srv)
		})
	}

	return g.Wait()
}

// loadZones reads the catalog from the configured source.
func loadZones(ctx context.Context, cfg *config.Config) ([]selection.Zone, error) {
	if cfg.Catalog.Source != config.CatalogDatabase {
		return zonefile.Load(cfg.Catalog.Path)
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	return database.NewZoneStorage(db).ListZones(ctx)
}

// watchZones pushes catalog changes to srv until ctx is done. Only file
// catalogs are watched.
func watchZones(ctx context.Context, cfg *config.Config, log zerolog.Logger, srv *api.Server) error {
	if cfg.Catalog.Source != config.CatalogFile {
		log.Warn().Str("source", cfg.Catalog.Source).Msg("ZONES_WATCH only applies to file catalogs")
		return nil
	}
	return zonefile.Watch(ctx, cfg.Catalog.Path, log, srv.SetZones)
}
