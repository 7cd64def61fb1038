package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/Leptons1618/nexa/internal/app"
	"github.com/Leptons1618/nexa/internal/config"
)

// runServe builds the application and runs the HTTP server until SIGINT or
// SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := initLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting nexa", "version", AppVersion, "provider", cfg.LLMProvider, "store", cfg.VectorStore)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	return a.Server.Run(ctx, cfg.Addr)
}
