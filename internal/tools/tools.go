// Package tools defines the invokable operations exposed by tallyd and the
// bridge that executes them.
//
// There is exactly one authoritative implementation per tool: the REST
// endpoints, the tool-protocol session handlers, and the chat orchestrator
// all resolve calls through the same Bridge, so validation and execution
// semantics are identical regardless of transport.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/tallyd/tallyd/internal/store"
)

// Tool names. The registry order is fixed: store first, then sum.
const (
	ToolStore = "store"
	ToolSum   = "sum"
)

// StoreInput defines the argument schema for the store tool.
type StoreInput struct {
	Value       int64  `json:"value" jsonschema:"the integer value to store"`
	Description string `json:"description" jsonschema:"a non-empty label for the entry"`
}

// SumInput defines the argument schema for the sum tool.
type SumInput struct {
	From string `json:"from" jsonschema:"range start as an ISO-8601 datetime"`
	To   string `json:"to" jsonschema:"range end as an ISO-8601 datetime"`
}

// Descriptor is the static metadata of one tool: its name, description and
// argument schema. Descriptors are identical on every surface; the chat
// orchestrator translates them 1:1 into the model's function-schema format.
type Descriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

// Tool descriptions shared by every surface.
const (
	storeDescription = "Store an integer value with a description. Returns the created entry."
	sumDescription   = "Sum the values of entries created within [from, to]. Bounds are ISO-8601 datetimes."
)

// Descriptors returns the fixed, ordered tool registry: [store, sum].
// Schemas are inferred from the input structs; this never fails for the
// static types above, so an error here is a bug.
func Descriptors() ([]Descriptor, error) {
	storeSchema, err := jsonschema.For[StoreInput](nil)
	if err != nil {
		return nil, fmt.Errorf("schema for store: %w", err)
	}
	sumSchema, err := jsonschema.For[SumInput](nil)
	if err != nil {
		return nil, fmt.Errorf("schema for sum: %w", err)
	}

	return []Descriptor{
		{Name: ToolStore, Description: storeDescription, InputSchema: storeSchema},
		{Name: ToolSum, Description: sumDescription, InputSchema: sumSchema},
	}, nil
}

// Result is the normalized outcome of a tool invocation: a single flattened
// text payload plus an error flag. Validation failures and execution errors
// are reported here, never as transport faults, so a model (or human) can
// read them and react.
type Result struct {
	IsError bool   `json:"isError,omitempty"`
	Text    string `json:"text"`
}

// errorResult builds an error-flagged result.
func errorResult(format string, args ...any) Result {
	return Result{IsError: true, Text: fmt.Sprintf(format, args...)}
}

// EntryStore is the subset of the entry store the bridge needs.
// Defined here, by the consumer.
type EntryStore interface {
	Insert(ctx context.Context, value int64, description string) (*store.Entry, error)
	SumRange(ctx context.Context, from, to string) (int64, error)
}

// Handler executes one tool against already-raw arguments.
type Handler func(ctx context.Context, args json.RawMessage) Result

// Bridge resolves tool invocations by name. The name-to-handler map is
// built once at startup; lookups are read-only afterwards, so Bridge is
// safe for concurrent use.
type Bridge struct {
	handlers map[string]Handler
}

// NewBridge creates the bridge over the given entry store.
func NewBridge(entries EntryStore) *Bridge {
	b := &Bridge{}
	b.handlers = map[string]Handler{
		ToolStore: func(ctx context.Context, args json.RawMessage) Result {
			return invokeStore(ctx, entries, args)
		},
		ToolSum: func(ctx context.Context, args json.RawMessage) Result {
			return invokeSum(ctx, entries, args)
		},
	}
	return b
}

// Known reports whether name resolves to a registered handler.
func (b *Bridge) Known(name string) bool {
	_, ok := b.handlers[name]
	return ok
}

// Invoke validates and executes the named tool. Unknown names yield an
// error result containing the name, not a transport fault.
func (b *Bridge) Invoke(ctx context.Context, name string, args json.RawMessage) Result {
	handler, ok := b.handlers[name]
	if !ok {
		return errorResult("Unknown tool: %s", name)
	}
	return handler(ctx, args)
}

// invokeStore validates store arguments and inserts the entry.
// On success the result text is the JSON serialization of the created entry.
func invokeStore(ctx context.Context, entries EntryStore, args json.RawMessage) Result {
	in, err := parseStoreArgs(args)
	if err != nil {
		return Result{IsError: true, Text: err.Error()}
	}

	entry, err := entries.Insert(ctx, in.Value, in.Description)
	if err != nil {
		return errorResult("storing entry: %v", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return errorResult("encoding entry: %v", err)
	}
	return Result{Text: string(data)}
}

// invokeSum validates sum arguments and computes the range total.
// The result text is the decimal string of the sum (0 when no rows match).
func invokeSum(ctx context.Context, entries EntryStore, args json.RawMessage) Result {
	in, err := parseSumArgs(args)
	if err != nil {
		return Result{IsError: true, Text: err.Error()}
	}

	total, err := entries.SumRange(ctx, in.From, in.To)
	if err != nil {
		return errorResult("summing entries: %v", err)
	}
	return Result{Text: fmt.Sprintf("%d", total)}
}
