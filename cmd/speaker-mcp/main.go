package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-speaker/internal/config"
	"github.com/loqalabs/loqa-speaker/internal/journal"
	"github.com/loqalabs/loqa-speaker/internal/mcp"
	"github.com/loqalabs/loqa-speaker/internal/runtime"
	"github.com/loqalabs/loqa-speaker/internal/speech"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	maxWait     = flag.Int("max-wait", 300, "Upper bound in seconds for wait_until_done")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("loqa speaker MCP v%s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the MCP stream.
	logger := runtime.NewLogger(cfg.Telemetry, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	j, err := journal.Open(ctx, cfg.Journal, logger)
	if err != nil {
		logger.Error("failed to open journal", slog.String("error", err.Error()))
		os.Exit(1)
	}

	provider := speech.NewProvider(runtime.PipelineBuilder(cfg, logger, j.HandleOutcome))
	server := mcp.NewServer(mcp.Config{
		ServerName:    "loqa-speaker",
		ServerVersion: Version,
		MaxWait:       *maxWait,
	}, provider, j, logger)

	runErr := server.Run(ctx)
	provider.Shutdown()
	if err := j.Close(); err != nil {
		logger.Warn("journal close error", slog.String("error", err.Error()))
	}
	if runErr != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", runErr)
		os.Exit(1)
	}
}
