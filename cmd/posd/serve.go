package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Kellyhimself/POS-sub002/internal/app"
	"github.com/Kellyhimself/POS-sub002/internal/config"
	"github.com/Kellyhimself/POS-sub002/pkg/logger"
)

const serviceName = "posd"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: local API, sync workers and mode detection",
		Long:  "serve reads its configuration from the environment (POS_STORE_ID is required) and runs until SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return exitError(2, "load config: %v", err)
	}

	log := logger.New(serviceName, cfg.LogLevel)
	log.Info("starting posd",
		slog.String("version", app.Version),
		slog.String("environment", cfg.Environment),
		slog.String("store_id", cfg.StoreID),
		slog.String("http_addr", cfg.HTTPAddr),
	)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		return fmt.Errorf("initialize: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Run(ctx); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		return err
	}

	log.Info("posd stopped")
	return nil
}
