package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/tallyd/tallyd/internal/tools"
)

// Gemini is a Model backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini model client.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Name implements Model.
func (g *Gemini) Name() string {
	return g.model
}

// Generate implements Model. The turn history is mapped onto Gemini's
// user/model content scheme: tool turns ride back as function responses
// inside a user-role content.
func (g *Gemini) Generate(ctx context.Context, turns []Turn, descs []tools.Descriptor) (*ModelReply, error) {
	config := &genai.GenerateContentConfig{}
	if len(descs) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toDeclarations(descs)}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, toContents(turns), config)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("model returned no candidates")
	}

	reply := &ModelReply{}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("encoding tool call arguments: %w", err)
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call-" + uuid.NewString()
			}
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{
				ID:   id,
				Name: part.FunctionCall.Name,
				Args: args,
			})
		case part.Text != "":
			reply.Text += part.Text
		}
	}
	return reply, nil
}

// toContents converts the turn history to Gemini contents.
func toContents(turns []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleAssistant:
			parts := []*genai.Part{}
			if turn.Content != "" {
				parts = append(parts, &genai.Part{Text: turn.Content})
			}
			for _, call := range turn.ToolCalls {
				var args map[string]any
				// A malformed payload was already rejected by the tool; an
				// empty echo is enough for the model to keep context.
				_ = json.Unmarshal(call.Args, &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: args,
				}})
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})

		case RoleTool:
			// Function responses ride back in a user-role content.
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       turn.CallID,
					Name:     turn.ToolName,
					Response: map[string]any{"result": turn.Content},
				}}},
			})

		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: turn.Content}},
			})
		}
	}
	return contents
}
