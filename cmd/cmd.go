// Package cmd provides the tallyd CLI commands.
//
// Commands:
//   - serve: HTTP API server (entries, tools, chat, tool-protocol sessions)
//   - mcp: tool-protocol server on stdio for direct client integration
//
// Signal handling and graceful shutdown are implemented for both commands
// via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
)

// Execute is the main entry point for the tallyd CLI.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "mcp":
		return runMCP()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("tallyd - timestamped tally service with a tool-calling chat surface")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tallyd serve [addr] Start HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  tallyd mcp          Start tool-protocol server on stdio")
	fmt.Println("  tallyd --version    Show version information")
	fmt.Println("  tallyd --help       Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY         Required for serve: chat model API key")
	fmt.Println("  DATABASE_URL           Optional: overrides postgres_* config")
	fmt.Println("  TALLYD_CONNECT_SECRET  Optional: shared secret for session connects")
	fmt.Println("  DEBUG                  Optional: enable debug logging")
}
