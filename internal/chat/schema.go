package chat

import (
	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"

	"github.com/tallyd/tallyd/internal/tools"
)

// toDeclarations converts tool descriptors to Gemini function declarations,
// preserving order.
func toDeclarations(descs []tools.Descriptor) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(descs))
	for _, d := range descs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  toGenaiSchema(d.InputSchema),
		})
	}
	return decls
}

// toGenaiSchema converts the JSON-schema subset our tools use (flat objects
// of primitive properties) to Gemini's schema type. Unsupported constructs
// degrade to an unconstrained node rather than failing the request.
func toGenaiSchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}

	out := &genai.Schema{
		Type:        toGenaiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	if s.Items != nil {
		out.Items = toGenaiSchema(s.Items)
	}
	return out
}

func toGenaiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeUnspecified
	}
}
