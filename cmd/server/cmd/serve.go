package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"receiptvault/internal/app/server/api"
	"receiptvault/internal/app/server/config"
	"receiptvault/internal/domain/sync"
	"receiptvault/internal/infrastructure/storage"
	"receiptvault/internal/utils/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync HTTP server",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("run-address", ":8080", "address to listen on")
	f.Int("sync-page-size", 100, "keys per store page")
	f.Int("sync-max-batch-size", 25, "maximum records per push")
	f.String("sync-merge-bump", string(sync.MergeBumpOnDiscrepancy), "when a merge writes a new version: on_discrepancy or on_change")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("close store", "error", err)
		}
	}()

	svcCfg, err := cfg.Sync.ServiceConfig()
	if err != nil {
		return err
	}
	service := sync.NewService(store.Repository, log, svcCfg)

	srv := &http.Server{
		Addr: cfg.Server.RunAddress,
		Handler: api.New(api.Deps{
			Store:  store,
			Sync:   service,
			Config: cfg,
			Log:    log,
		}),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", "addr", cfg.Server.RunAddress, "store", cfg.Store.Driver, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
