package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tallyd/tallyd/internal/store"
)

// fakeEntryStore records inserts and serves canned sums.
type fakeEntryStore struct {
	entries   []store.Entry
	sum       int64
	insertErr error
	sumErr    error
}

func (f *fakeEntryStore) Insert(_ context.Context, value int64, description string) (*store.Entry, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	e := store.Entry{
		ID:          int64(len(f.entries) + 1),
		Value:       value,
		Description: description,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 600_000_000, time.UTC),
	}
	f.entries = append(f.entries, e)
	return &e, nil
}

func (f *fakeEntryStore) SumRange(context.Context, string, string) (int64, error) {
	if f.sumErr != nil {
		return 0, f.sumErr
	}
	return f.sum, nil
}

func TestDescriptors_FixedOrder(t *testing.T) {
	descs, err := Descriptors()
	if err != nil {
		t.Fatalf("Descriptors() unexpected error: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("Descriptors() returned %d tools, want 2", len(descs))
	}
	if descs[0].Name != ToolStore || descs[1].Name != ToolSum {
		t.Errorf("order = [%s, %s], want [store, sum]", descs[0].Name, descs[1].Name)
	}
	for _, d := range descs {
		if d.Description == "" {
			t.Errorf("tool %s has empty description", d.Name)
		}
		if d.InputSchema == nil {
			t.Errorf("tool %s has nil input schema", d.Name)
		}
	}
}

func TestBridge_Store_Success(t *testing.T) {
	fake := &fakeEntryStore{}
	b := NewBridge(fake)

	res := b.Invoke(context.Background(), ToolStore,
		json.RawMessage(`{"value": 5, "description": "hello"}`))

	if res.IsError {
		t.Fatalf("Invoke(store) returned error result: %s", res.Text)
	}

	var e store.Entry
	if err := json.Unmarshal([]byte(res.Text), &e); err != nil {
		t.Fatalf("result text is not an entry JSON: %v\n%s", err, res.Text)
	}
	if e.Value != 5 || e.Description != "hello" {
		t.Errorf("entry = %+v, want value=5 description=hello", e)
	}
	if len(fake.entries) != 1 {
		t.Errorf("store received %d inserts, want 1", len(fake.entries))
	}
}

func TestBridge_Store_AcceptsWholeFloat(t *testing.T) {
	fake := &fakeEntryStore{}
	b := NewBridge(fake)

	res := b.Invoke(context.Background(), ToolStore,
		json.RawMessage(`{"value": 7.0, "description": "demo"}`))
	if res.IsError {
		t.Fatalf("whole-valued float rejected: %s", res.Text)
	}
	if fake.entries[0].Value != 7 {
		t.Errorf("stored value = %d, want 7", fake.entries[0].Value)
	}
}

func TestBridge_Store_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		args string
		want string
	}{
		{"missing value", `{"description": "x"}`, msgValueNotInteger},
		{"fractional value", `{"value": 3.5, "description": "x"}`, msgValueNotInteger},
		{"string value", `{"value": "x", "description": "y"}`, msgValueNotInteger},
		{"quoted number value", `{"value": "7", "description": "y"}`, msgValueNotInteger},
		{"quoted float value", `{"value": "7.0", "description": "y"}`, msgValueNotInteger},
		{"boolean value", `{"value": true, "description": "y"}`, msgValueNotInteger},
		{"null value", `{"value": null, "description": "y"}`, msgValueNotInteger},
		{"missing description", `{"value": 1}`, msgDescriptionRequired},
		{"blank description", `{"value": 1, "description": "   "}`, msgDescriptionRequired},
		{"non-string description", `{"value": 1, "description": 5}`, msgDescriptionRequired},
		{"empty args", ``, msgValueNotInteger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeEntryStore{}
			b := NewBridge(fake)

			res := b.Invoke(context.Background(), ToolStore, json.RawMessage(tt.args))
			if !res.IsError {
				t.Fatalf("expected error result, got success: %s", res.Text)
			}
			if res.Text != tt.want {
				t.Errorf("message = %q, want %q", res.Text, tt.want)
			}
			if len(fake.entries) != 0 {
				t.Error("validation failure must not reach the store")
			}
		})
	}
}

func TestBridge_Sum_Success(t *testing.T) {
	b := NewBridge(&fakeEntryStore{sum: 42})

	res := b.Invoke(context.Background(), ToolSum,
		json.RawMessage(`{"from": "1970-01-01T00:00:00.000Z", "to": "2100-01-01T00:00:00.000Z"}`))

	if res.IsError {
		t.Fatalf("Invoke(sum) returned error result: %s", res.Text)
	}
	if res.Text != "42" {
		t.Errorf("result text = %q, want decimal string \"42\"", res.Text)
	}
}

func TestBridge_Sum_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		args string
	}{
		{"missing both", `{}`},
		{"missing to", `{"from": "2026-01-01T00:00:00Z"}`},
		{"empty from", `{"from": "", "to": "2026-01-01T00:00:00Z"}`},
		{"non-string from", `{"from": 5, "to": "2026-01-01T00:00:00Z"}`},
		{"no args", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBridge(&fakeEntryStore{})
			res := b.Invoke(context.Background(), ToolSum, json.RawMessage(tt.args))
			if !res.IsError {
				t.Fatalf("expected error result, got success: %s", res.Text)
			}
			if res.Text != msgRangeRequired {
				t.Errorf("message = %q, want %q", res.Text, msgRangeRequired)
			}
		})
	}
}

func TestBridge_Sum_StoreErrorSurfaces(t *testing.T) {
	b := NewBridge(&fakeEntryStore{sumErr: errors.New("timestamp out of range")})

	res := b.Invoke(context.Background(), ToolSum,
		json.RawMessage(`{"from": "not-a-date", "to": "also-not"}`))
	if !res.IsError {
		t.Fatal("expected error result for failing store")
	}
	if !strings.Contains(res.Text, "timestamp out of range") {
		t.Errorf("result should carry the store error, got %q", res.Text)
	}
}

func TestBridge_UnknownTool(t *testing.T) {
	b := NewBridge(&fakeEntryStore{})

	res := b.Invoke(context.Background(), "frobnicate", nil)
	if !res.IsError {
		t.Fatal("expected error result for unknown tool")
	}
	if res.Text != "Unknown tool: frobnicate" {
		t.Errorf("message = %q, want %q", res.Text, "Unknown tool: frobnicate")
	}
}

func TestFlatten(t *testing.T) {
	res := Flatten(&mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "first"},
			&mcp.TextContent{Text: "second"},
		},
		IsError: true,
	})

	if !res.IsError {
		t.Error("error flag lost in flattening")
	}
	if res.Text != "first\nsecond" {
		t.Errorf("text = %q, want newline-joined fragments", res.Text)
	}
}

func TestFlatten_Nil(t *testing.T) {
	res := Flatten(nil)
	if res.IsError || res.Text != "" {
		t.Errorf("Flatten(nil) = %+v, want zero result", res)
	}
}

func TestToCallResult(t *testing.T) {
	out := ToCallResult(Result{IsError: true, Text: "boom"})
	if !out.IsError {
		t.Error("error flag lost")
	}
	if len(out.Content) != 1 {
		t.Fatalf("content length = %d, want 1", len(out.Content))
	}
	tc, ok := out.Content[0].(*mcp.TextContent)
	if !ok || tc.Text != "boom" {
		t.Errorf("content = %#v, want text \"boom\"", out.Content[0])
	}
}
