package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/docmem/internal/notify"
	"github.com/scrypster/docmem/internal/server"
	"github.com/scrypster/docmem/internal/sweep"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the /v1 JSON API and the mutation stream. When DOCMEM_SWEEP_INTERVAL
is set, retention and compaction also run in the background.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warn("closing storage", "error", err)
			}
		}()

		var sweeper *sweep.Service
		if cfg.Sweep.Interval > 0 {
			sweeper, err = sweep.NewService(a.coord, sweep.Config{
				PolicyID: cfg.Sweep.PolicyID,
				Interval: cfg.Sweep.Interval,
				Compact:  true,
			}, logger, a.scopes...)
			if err != nil {
				return err
			}
			go func() {
				if err := sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("sweeper exited", "error", err)
				}
			}()
		}

		opts := server.Options{Coordinator: a.coord, Version: version, Logger: logger}
		if sweeper != nil {
			opts.Sweeper = sweeper
		}
		running, err := server.Start(ctx, cfg, opts)
		if err != nil {
			return err
		}

		watcher := notify.NewEventWatcher(cfg.Storage.DataPath, running.Hub.Broadcast, logger)
		if err := watcher.Start(); err != nil {
			// The API still works; only the stream goes quiet.
			logger.Warn("mutation stream disabled", "error", err)
		}
		defer watcher.Stop()

		logger.Info("docmem running", "addr", running.Addr, "version", version, "storage", cfg.Storage.StorageEngine)
		<-ctx.Done()
		logger.Info("shutting down")
		<-running.Done()
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides DOCMEM_HOST)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides DOCMEM_PORT)")
	rootCmd.AddCommand(serveCmd)
}
