package config

import (
	"fmt"
	"os"
	"strings"
)

// Validate performs fail-fast validation of the configuration.
// Returns a sentinel error (wrapped with detail) on the first violation.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}

	if c.MaxRounds < 1 || c.MaxRounds > MaxAllowedRounds {
		return fmt.Errorf("%w: must be in [1, %d], got %d",
			ErrInvalidMaxRounds, MaxAllowedRounds, c.MaxRounds)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be in [1, 65535], got %d",
			ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}

	return nil
}

// ValidateServe performs additional validation required by serve mode.
// The chat endpoint needs a Gemini API key; the stdio MCP mode does not.
func (c *Config) ValidateServe() error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for serve mode", ErrMissingAPIKey)
	}
	return nil
}
