package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rbaliyan/workspace-mailbox/internal/app"
	"github.com/rbaliyan/workspace-mailbox/internal/config"
	"github.com/rbaliyan/workspace-mailbox/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Start the mailbox HTTP server and block until SIGINT or SIGTERM.

Examples:
  # Run with a config file
  mailboxd serve --config /etc/mailboxd/config.yaml

  # Run from environment only
  STORE_DRIVER=memory AUTH_SECRET=dev mailboxd serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, logCloser, err := logger.New(&logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Rotation: logger.Rotation{
			File:       cfg.Logger.Rotation.File,
			MaxSize:    cfg.Logger.Rotation.MaxSize,
			MaxBackups: cfg.Logger.Rotation.MaxBackups,
			MaxAge:     cfg.Logger.Rotation.MaxAge,
			Compress:   cfg.Logger.Rotation.Compress,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting mailboxd",
		"version", cfg.Version,
		"store", cfg.Store.Driver,
		"archive", cfg.Archive.Backend,
	)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	runErr := a.Run(ctx)
	if runErr != nil {
		log.Error("HTTP server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.Timeout.Shutdown)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown finished with errors", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	log.Info("mailboxd stopped")
	return runErr
}
