package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vaultline/internal/app"
	"vaultline/internal/platform/config"
	"vaultline/internal/platform/logger"
)

// main loads configuration, wires the services and runs until SIGINT or
// SIGTERM. Business logic lives in internal services packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("close failed", "error", err)
		}
	}()

	if err := a.Run(ctx); err != nil {
		log.Error("server stopped", "error", err)
		stop()
		_ = a.Close()
		os.Exit(1)
	}
	log.Info("server stopped")
}
