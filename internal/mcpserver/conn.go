package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tallyd/tallyd/internal/tools"
)

// Conn is the client side of one open tool-protocol session. It owns both
// halves of the in-memory transport pair and must be closed when the
// session ends.
type Conn struct {
	client *mcp.ClientSession
	server *mcp.ServerSession
	bridge *tools.Bridge
}

// ListTools returns the ordered tool registry as seen over the session.
func (c *Conn) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	res, err := c.client.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}

	descs := make([]tools.Descriptor, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema, err := decodeSchema(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Name, err)
		}
		descs = append(descs, tools.Descriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return descs, nil
}

// decodeSchema recovers a typed schema from the session's wire form. The
// client side of the session sees schemas as already-decoded generic JSON,
// so a round trip through encoding is required.
func decodeSchema(v any) (*jsonschema.Schema, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding input schema: %w", err)
	}
	schema := new(jsonschema.Schema)
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, fmt.Errorf("decoding input schema: %w", err)
	}
	return schema, nil
}

// Call invokes the named tool across the session and flattens the outcome.
// Unknown names short-circuit to the bridge's canonical unknown-tool result
// instead of tripping a protocol fault; transport-level failures become
// error results so the caller can feed them back into a conversation.
func (c *Conn) Call(ctx context.Context, name string, args json.RawMessage) tools.Result {
	if !c.bridge.Known(name) {
		return c.bridge.Invoke(ctx, name, args)
	}

	res, err := c.client.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return tools.Result{IsError: true, Text: fmt.Sprintf("tool call failed: %v", err)}
	}
	return tools.Flatten(res)
}

// Close tears down both sides of the session. Safe to call more than once.
func (c *Conn) Close() error {
	cerr := c.client.Close()
	serr := c.server.Close()
	if cerr != nil {
		return fmt.Errorf("closing client session: %w", cerr)
	}
	if serr != nil {
		return fmt.Errorf("closing server session: %w", serr)
	}
	return nil
}
