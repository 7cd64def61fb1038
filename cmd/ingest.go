package cmd

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Leptons1618/nexa/internal/app"
	"github.com/Leptons1618/nexa/internal/config"
)

// runIngest indexes the given paths from the command line, sharing the exact
// same wiring as the server.
func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	tagsFlag := fs.String("tags", "", "comma-separated tags for the indexed chunks")
	versionFlag := fs.String("version", "", "document version stamp")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		return fmt.Errorf("ingest requires at least one path")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := initLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	var tags []string
	for _, t := range strings.Split(*tagsFlag, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	count, err := a.Ingest.Ingest(ctx, paths, tags, strings.TrimSpace(*versionFlag))
	if err != nil {
		return fmt.Errorf("ingesting documents: %w", err)
	}

	fmt.Printf("Indexed %d chunks from %d path(s)\n", count, len(paths))
	return nil
}
