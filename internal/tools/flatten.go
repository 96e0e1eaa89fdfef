package tools

import (
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Flatten normalizes a tool-protocol call result into a Result. Multiple
// text fragments are joined with newlines; non-text content falls back to
// its canonical JSON form.
func Flatten(res *mcp.CallToolResult) Result {
	if res == nil {
		return Result{}
	}

	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		data, err := json.Marshal(c)
		if err != nil {
			parts = append(parts, "<unrenderable content>")
			continue
		}
		parts = append(parts, string(data))
	}

	return Result{
		IsError: res.IsError,
		Text:    strings.Join(parts, "\n"),
	}
}

// ToCallResult converts a Result into the tool-protocol wire form.
func ToCallResult(r Result) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: r.Text}},
		IsError: r.IsError,
	}
}
