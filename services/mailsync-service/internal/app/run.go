package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stoik/mailvault/services/mailsync-service/internal/api"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"serve"},
	Short:   "Sync the mailbox and serve the web UI",
	Long:    "Runs a startup sync, then serves the web UI and API while optionally re-syncing every sync.interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		d, err := build(ctx)
		if err != nil {
			return err
		}
		defer d.Close()
		log := d.logger

		if d.cfg.Sync.OnStartup {
			if summary, err := d.service.SyncAll(ctx); err != nil {
				log.Error("startup sync failed", zap.String("run_id", summary.RunID), zap.Error(err))
			}
		}

		router := api.NewRouter(api.NewHandler(d.store, d.service, d.cfg.Location, log))
		server := &http.Server{
			Addr:              d.cfg.HTTP.Addr,
			Handler:           router.Engine,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Handle graceful shutdown
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		errChan := make(chan error, 2)
		go func() {
			errChan <- d.service.Run(ctx, d.cfg.Sync.Interval, false)
		}()
		go func() {
			log.Info("http server listening", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("http server: %w", err)
			}
		}()

		select {
		case <-sigChan:
			log.Info("shutting down gracefully")
		case err := <-errChan:
			if err != nil {
				log.Error("stopping", zap.Error(err))
			}
			cancel()
			shutdown(server, d)
			return err
		}

		cancel()
		shutdown(server, d)
		return nil
	},
}

func shutdown(server *http.Server, d *deps) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		d.logger.Warn("http server did not stop cleanly", zap.Error(err))
	}
	if !d.service.Shutdown(shutdownTimeout) {
		d.logger.Warn("some operations may not have completed")
	}
}
