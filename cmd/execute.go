// Package cmd contains the command-line entry points. Following the pattern
// of kubectl and hugo, all application logic lives here and main.go stays a
// minimal shim.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Leptons1618/nexa/internal/config"
	"github.com/Leptons1618/nexa/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the main entry point. It routes to a subcommand and handles
// version/help without touching configuration, so they work even when the
// config is broken.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			return printVersionInfo()
		case "help", "--help", "-h":
			printHelp()
			return nil
		case "serve":
			return runServe()
		case "ingest":
			return runIngest(os.Args[2:])
		default:
			printHelp()
			return fmt.Errorf("unknown command: %s", os.Args[1])
		}
	}

	return runServe()
}

// initLogger builds the process logger from configuration.
func initLogger(cfg *config.Config) log.Logger {
	level := log.ParseLevel(cfg.LogLevel)
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})
	slog.SetDefault(logger)
	return logger
}

func printVersionInfo() error {
	fmt.Printf("nexa v%s\n", AppVersion)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
	return nil
}

func printHelp() {
	fmt.Println("Nexa - documentation chat backend")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  nexa                         Start the HTTP API server (default)")
	fmt.Println("  nexa serve                   Start the HTTP API server")
	fmt.Println("  nexa ingest <path> [path...] Index documents into the vector store")
	fmt.Println("      -tags tag1,tag2          Tag the indexed chunks")
	fmt.Println("      -version v               Stamp a document version")
	fmt.Println("  nexa version                 Show version information")
	fmt.Println("  nexa help                    Show this help")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  Read from ./config.yaml (or $NEXA_CONFIG_DIR/config.yaml),")
	fmt.Println("  overridable via NEXA_* environment variables.")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  NEXA_CONFIG_DIR    Optional: directory holding config.yaml")
	fmt.Println("  DEBUG              Optional: enable debug logging")
}
