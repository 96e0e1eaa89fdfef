// Package mcpserver exposes the tallyd tools over the Model Context
// Protocol and manages tool-protocol sessions.
//
// The same mcp.Server instance backs three consumers: stdio transport for
// external MCP clients (tallyd mcp), HTTP-managed sessions for the message
// endpoint (SessionRegistry), and short-lived sessions opened by the chat
// orchestrator. All tool calls land in the same tools.Bridge.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tallyd/tallyd/internal/log"
	"github.com/tallyd/tallyd/internal/tools"
)

// Server wraps the MCP SDK server and the invocation bridge.
type Server struct {
	mcpServer *mcp.Server
	bridge    *tools.Bridge
	logger    log.Logger
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	Bridge  *tools.Bridge
	Logger  log.Logger
}

// New creates the MCP server and registers the tool registry on it.
func New(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		mcpServer: mcpServer,
		bridge:    cfg.Bridge,
		logger:    logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	return s, nil
}

// registerTools registers every descriptor from the tool registry.
// Handlers receive raw arguments and delegate to the bridge, so argument
// violations surface as error results, never as protocol faults.
func (s *Server) registerTools() error {
	descs, err := tools.Descriptors()
	if err != nil {
		return err
	}

	for _, d := range descs {
		name := d.Name
		s.mcpServer.AddTool(&mcp.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			// Raw-registered handlers receive arguments undecoded.
			res := s.bridge.Invoke(ctx, name, req.Params.Arguments)
			return tools.ToCallResult(res), nil
		})
	}

	return nil
}

// Run serves the MCP protocol on the given transport until ctx is done.
// Used by the stdio mode for external MCP clients.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	if err := s.mcpServer.Run(ctx, transport); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// Connect opens a new duplex session against this server over an in-memory
// transport pair and returns the client side. ctx bounds the lifetime of
// the session, not just the handshake, so callers must pass a context that
// outlives the connection.
func (s *Server) Connect(ctx context.Context) (*Conn, error) {
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := s.mcpServer.Connect(ctx, serverTransport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting server side: %w", err)
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "tallyd-internal",
		Version: "1.0.0",
	}, nil)

	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		_ = serverSession.Close()
		return nil, fmt.Errorf("connecting client side: %w", err)
	}

	return &Conn{
		client: clientSession,
		server: serverSession,
		bridge: s.bridge,
	}, nil
}
