// Package api exposes the HTTP surface: entry listing, direct tool
// endpoints, the chat endpoint, the tool-protocol session endpoints and
// operational probes. Handlers stay thin; all tool semantics live in the
// bridge so every transport resolves calls identically.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tallyd/tallyd/internal/chat"
	"github.com/tallyd/tallyd/internal/log"
	"github.com/tallyd/tallyd/internal/mcpserver"
	"github.com/tallyd/tallyd/internal/store"
	"github.com/tallyd/tallyd/internal/tools"
)

// EntryLister pages stored entries.
type EntryLister interface {
	List(ctx context.Context, page, pageSize int) (*store.Page, error)
}

// Chatter runs one chat request to completion.
type Chatter interface {
	Run(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// SessionBroker is the session-registry surface the HTTP handlers consume.
type SessionBroker interface {
	Accept() (string, error)
	Dispatch(ctx context.Context, sessionID string, req mcpserver.Request) (any, error)
	Release(sessionID string)
}

// Pinger reports storage connectivity for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger   log.Logger
	Entries  EntryLister    // Required
	Bridge   *tools.Bridge  // Required
	Sessions SessionBroker  // Required
	Chat     Chatter        // Optional: nil disables POST /chat with 503
	Pinger   Pinger         // Optional: nil makes /ready report 503

	// ConnectSecret, when non-empty, gates session connects behind a shared
	// secret supplied as a bearer token or ?secret query parameter.
	ConnectSecret string

	TrustProxy bool // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst  int  // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Entries == nil {
		return nil, errors.New("entry lister is required")
	}
	if cfg.Bridge == nil {
		return nil, errors.New("tool bridge is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session broker is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	eh := &entriesHandler{entries: cfg.Entries, logger: logger}
	th := &toolsHandler{bridge: cfg.Bridge, logger: logger}
	ch := &chatHandler{chat: cfg.Chat, logger: logger}
	mh := &sessionHandler{sessions: cfg.Sessions, secret: cfg.ConnectSecret, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /entries", eh.list)

	mux.HandleFunc("POST /tools/store", th.store)
	mux.HandleFunc("GET /tools/sum", th.sum)

	mux.HandleFunc("POST /chat", ch.send)

	mux.HandleFunc("POST /mcp/connect", mh.connect)
	mux.HandleFunc("POST /mcp/message", mh.message)
	mux.HandleFunc("DELETE /mcp/sessions/{id}", mh.release)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first: Recovery -> Logging -> RateLimit.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	stack := handler
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		stack.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack so orchestration traffic
	// never hits the rate limiter.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pinger, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
