package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tallyd/tallyd/internal/config"
	"github.com/tallyd/tallyd/internal/mcpserver"
	"github.com/tallyd/tallyd/internal/store"
	"github.com/tallyd/tallyd/internal/tools"
)

// runMCP starts the tool-protocol server on stdio. Only storage is needed;
// the chat model stays out of this path.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting tool-protocol server", "version", Version)

	if err := store.Migrate(cfg.DSN()); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	entries := store.New(pool, logger)

	srv, err := mcpserver.New(mcpserver.Config{
		Name:    "tallyd",
		Version: Version,
		Bridge:  tools.NewBridge(entries),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("creating tool server: %w", err)
	}

	logger.Info("tool-protocol server ready", "transport", "stdio")

	if err := srv.Run(ctx, &mcpSdk.StdioTransport{}); err != nil {
		return fmt.Errorf("tool server error: %w", err)
	}

	logger.Info("tool-protocol server shut down gracefully")
	return nil
}
