package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tallyd/tallyd/internal/api"
	"github.com/tallyd/tallyd/internal/chat"
	"github.com/tallyd/tallyd/internal/config"
	"github.com/tallyd/tallyd/internal/mcpserver"
	"github.com/tallyd/tallyd/internal/store"
	"github.com/tallyd/tallyd/internal/tools"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // chat requests can span several model rounds
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// runServe initializes and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	addr, err := parseServeAddr()
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting HTTP API server", "version", Version)

	if err := store.Migrate(cfg.DSN()); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	entries := store.New(pool, logger)
	bridge := tools.NewBridge(entries)

	mcpServer, err := mcpserver.New(mcpserver.Config{
		Name:    "tallyd",
		Version: Version,
		Bridge:  bridge,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("creating tool server: %w", err)
	}

	registry := mcpserver.NewSessionRegistry(ctx, mcpServer, logger)
	defer registry.Close()

	model, err := chat.NewGemini(ctx, os.Getenv("GEMINI_API_KEY"), cfg.ModelName)
	if err != nil {
		return fmt.Errorf("creating chat model: %w", err)
	}

	orchestrator, err := chat.New(chat.Config{
		Model: model,
		Dialer: chat.DialerFunc(func(ctx context.Context) (chat.ToolSession, error) {
			return mcpServer.Connect(ctx)
		}),
		MaxRounds: cfg.MaxRounds,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating chat orchestrator: %w", err)
	}

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:        logger,
		Entries:       entries,
		Bridge:        bridge,
		Sessions:      registry,
		Chat:          orchestrator,
		Pinger:        pool,
		ConnectSecret: cfg.ConnectSecret,
		TrustProxy:    cfg.TrustProxy,
		RateBurst:     cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"model", cfg.ModelName,
		"max_rounds", cfg.MaxRounds,
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
