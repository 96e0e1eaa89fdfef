package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tallyd/tallyd/internal/log"
	"github.com/tallyd/tallyd/internal/tools"
)

var (
	// ErrUnknownSession indicates a message referenced a session id that was
	// never issued or has already been closed. Surfaced to the client as a
	// 4xx rejection, never silently dropped.
	ErrUnknownSession = errors.New("unknown session")

	// ErrUnknownMethod indicates an unsupported request method.
	ErrUnknownMethod = errors.New("unknown method")
)

// Request methods accepted by Dispatch.
const (
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"
)

// Request is one inbound control message for an open session.
type Request struct {
	Method    string          `json:"method"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallResponse is the wire form of a tools/call outcome.
type CallResponse struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ContentItem is one fragment of call output. Only text is produced.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ListResponse is the wire form of a tools/list outcome.
type ListResponse struct {
	Tools []tools.Descriptor `json:"tools"`
}

// SessionRegistry owns the mapping from opaque session ids to open
// tool-protocol connections. It is the single piece of mutable state shared
// by concurrent connects, dispatches and closes; the mutex makes every
// insert/lookup/remove atomic with respect to the others.
//
// Each session is Connecting -> Open -> Closed: Accept registers an Open
// session, Release removes it. There is no draining state; a dispatch
// racing a release is allowed to fail with a transport error.
type SessionRegistry struct {
	baseCtx context.Context //nolint:containedctx // session lifecycle context, outlives individual requests
	server  *Server
	logger  log.Logger

	mu       sync.Mutex
	sessions map[string]*Conn
}

// NewSessionRegistry creates an empty registry. ctx bounds the lifetime of
// every session it accepts; cancel it (and call Close) on shutdown.
func NewSessionRegistry(ctx context.Context, server *Server, logger log.Logger) *SessionRegistry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &SessionRegistry{
		baseCtx:  ctx,
		server:   server,
		logger:   logger,
		sessions: make(map[string]*Conn),
	}
}

// Accept opens a new session and registers it under a fresh id.
func (r *SessionRegistry) Accept() (string, error) {
	conn, err := r.server.Connect(r.baseCtx)
	if err != nil {
		return "", fmt.Errorf("accepting session: %w", err)
	}

	id := uuid.NewString()

	r.mu.Lock()
	r.sessions[id] = conn
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Debug("session opened", "session_id", id, "open_sessions", count)
	return id, nil
}

// Dispatch routes one control message to the session it references.
// Returns ErrUnknownSession for ids that were never issued or are already
// closed, and ErrUnknownMethod for unsupported methods.
func (r *SessionRegistry) Dispatch(ctx context.Context, sessionID string, req Request) (any, error) {
	r.mu.Lock()
	conn, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	// The session call happens outside the lock: independent sessions must
	// not serialize on each other, and a concurrent Release simply fails
	// this call with a transport error.
	switch req.Method {
	case MethodListTools:
		descs, err := conn.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		return ListResponse{Tools: descs}, nil

	case MethodCallTool:
		res := conn.Call(ctx, req.Name, req.Arguments)
		return CallResponse{
			Content: []ContentItem{{Type: "text", Text: res.Text}},
			IsError: res.IsError,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
	}
}

// Release closes and removes a session. Idempotent: releasing an unknown or
// already-released id is a no-op.
func (r *SessionRegistry) Release(sessionID string) {
	r.mu.Lock()
	conn, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := conn.Close(); err != nil {
		r.logger.Warn("closing session", "session_id", sessionID, "error", err)
	}
	r.logger.Debug("session closed", "session_id", sessionID)
}

// Len reports the number of open sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close releases every open session. Called on shutdown.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	conns := make(map[string]*Conn, len(r.sessions))
	for id, c := range r.sessions {
		conns[id] = c
	}
	r.sessions = make(map[string]*Conn)
	r.mu.Unlock()

	for id, c := range conns {
		if err := c.Close(); err != nil {
			r.logger.Warn("closing session", "session_id", id, "error", err)
		}
	}
}
