// Package chat implements the tool-calling orchestration loop.
//
// The orchestrator drives a bounded, strictly sequential conversation
// between a chat model and the tool-protocol session: each round submits
// the full turn history plus the tool schema, executes any requested tool
// calls in the order the model emitted them, and feeds the flattened
// results back as tool turns. The round cap is a hard circuit breaker:
// nothing in the chat-model contract promises convergence, so without it
// the loop has no termination guarantee.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tallyd/tallyd/internal/log"
	"github.com/tallyd/tallyd/internal/tools"
)

// Turn roles. The conversation is an ordered, append-only sequence; earlier
// turns are never mutated or reordered.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// SentinelExhausted is returned as the final assistant content when the
// round budget runs out before the model produces a plain-text answer.
const SentinelExhausted = "stopped after max tool iterations"

var (
	// ErrUpstream indicates a chat-model or tool-session failure. These are
	// not recoverable inside the loop and abort the whole request.
	ErrUpstream = errors.New("upstream failure")

	// ErrEmptyRequest indicates the request carried neither a message nor a
	// turn history.
	ErrEmptyRequest = errors.New("message or messages is required")
)

// Turn is one role-tagged message in the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls carries the pending invocation requests of an assistant
	// turn, in emission order.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// CallID and ToolName tag a tool turn with the invocation it answers.
	CallID   string `json:"callId,omitempty"`
	ToolName string `json:"toolName,omitempty"`
}

// ToolCall is one invocation the model requested. Args is the raw argument
// payload; it requires a parse and may be malformed.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolLog records one resolved tool call for observability, in request
// order across all rounds.
type ToolLog struct {
	Name   string `json:"name"`
	Args   string `json:"args"`
	Output string `json:"output"`
}

// Request is a chat request: either a single free-text message (wrapped
// into one user turn) or a full multi-turn history.
type Request struct {
	Message  string `json:"message,omitempty"`
	Messages []Turn `json:"messages,omitempty"`
}

// Response is the single final outcome of a chat request. No partial
// responses are ever produced.
type Response struct {
	Role     string    `json:"role"`
	Content  string    `json:"content"`
	Model    string    `json:"model"`
	ToolLogs []ToolLog `json:"toolLogs"`
}

// ModelReply is one chat-model response: plain text, tool-invocation
// requests, or both.
type ModelReply struct {
	Text      string
	ToolCalls []ToolCall
}

// Model is the chat-model provider, consumed as a black box.
type Model interface {
	// Generate submits the turn history and tool schema and returns the
	// model's reply.
	Generate(ctx context.Context, turns []Turn, descs []tools.Descriptor) (*ModelReply, error)

	// Name identifies the underlying model for response metadata.
	Name() string
}

// ToolSession is one open tool-protocol session, scoped to a single chat
// request.
type ToolSession interface {
	ListTools(ctx context.Context) ([]tools.Descriptor, error)
	Call(ctx context.Context, name string, args json.RawMessage) tools.Result
	Close() error
}

// Dialer opens tool-protocol sessions.
type Dialer interface {
	Connect(ctx context.Context) (ToolSession, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (ToolSession, error)

// Connect implements Dialer.
func (f DialerFunc) Connect(ctx context.Context) (ToolSession, error) {
	return f(ctx)
}

// Orchestrator runs bounded chat rounds against a model and a tool session.
// Safe for concurrent use: all per-request state lives on the stack.
type Orchestrator struct {
	model     Model
	dialer    Dialer
	maxRounds int
	logger    log.Logger
}

// Config holds orchestrator configuration.
type Config struct {
	Model  Model
	Dialer Dialer

	// MaxRounds caps the number of model calls per request. Zero or
	// negative selects the default of 5.
	MaxRounds int

	Logger log.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}

	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 5
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	return &Orchestrator{
		model:     cfg.Model,
		dialer:    cfg.Dialer,
		maxRounds: maxRounds,
		logger:    logger,
	}, nil
}

// Run executes one chat request to completion: a final assistant turn, the
// exhaustion sentinel, or an upstream error. The tool session opened for
// the request is always closed, including on failure paths.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Response, error) {
	turns, err := bootstrap(req)
	if err != nil {
		return nil, err
	}

	session, err := o.dialer.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting tool session: %v", ErrUpstream, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			o.logger.Warn("closing chat tool session", "error", cerr)
		}
	}()

	descs, err := session.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing tools: %v", ErrUpstream, err)
	}

	var logs []ToolLog

	for round := 1; round <= o.maxRounds; round++ {
		reply, err := o.model.Generate(ctx, turns, descs)
		if err != nil {
			return nil, fmt.Errorf("%w: chat model: %v", ErrUpstream, err)
		}

		if len(reply.ToolCalls) == 0 {
			o.logger.Debug("chat completed", "rounds", round, "tool_calls", len(logs))
			return &Response{
				Role:     RoleAssistant,
				Content:  reply.Text,
				Model:    o.model.Name(),
				ToolLogs: logs,
			}, nil
		}

		// Append the assistant turn as emitted, raw tool-call requests
		// included, then resolve each call sequentially in emission order.
		// Sequential execution keeps the log trivially ordered and avoids
		// reasoning about argument-dependent side effects racing each other.
		turns = append(turns, Turn{
			Role:      RoleAssistant,
			Content:   reply.Text,
			ToolCalls: reply.ToolCalls,
		})

		for _, call := range reply.ToolCalls {
			res := session.Call(ctx, call.Name, call.Args)
			logs = append(logs, ToolLog{
				Name:   call.Name,
				Args:   string(call.Args),
				Output: res.Text,
			})
			o.logger.Debug("tool call resolved",
				"round", round, "tool", call.Name, "is_error", res.IsError)

			// Errors ride back as ordinary tool-turn content: the model
			// decides how to react, the request keeps going.
			turns = append(turns, Turn{
				Role:     RoleTool,
				Content:  res.Text,
				CallID:   call.ID,
				ToolName: call.Name,
			})
		}
	}

	o.logger.Warn("chat exhausted round budget", "max_rounds", o.maxRounds, "tool_calls", len(logs))
	return &Response{
		Role:     RoleAssistant,
		Content:  SentinelExhausted,
		Model:    o.model.Name(),
		ToolLogs: logs,
	}, nil
}

// bootstrap builds the initial turn history from a request.
func bootstrap(req Request) ([]Turn, error) {
	if len(req.Messages) > 0 {
		turns := make([]Turn, len(req.Messages))
		copy(turns, req.Messages)
		return turns, nil
	}
	if req.Message != "" {
		return []Turn{{Role: RoleUser, Content: req.Message}}, nil
	}
	return nil, ErrEmptyRequest
}
