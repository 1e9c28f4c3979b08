package provider

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/toolforge/mcpcore/internal/types"
)

// GenerateParameters reflects a Go struct into the []types.ToolParameter
// shape an internal tool's catalog entry needs, the same
// reflect-then-round-trip-through-JSON pattern the teacher's own
// generateInputSchema uses ahead of a tool-calling API that wants a plain
// map, not a typed jsonschema.Schema.
func GenerateParameters(inputType any) ([]types.ToolParameter, error) {
	reflector := jsonschema.Reflector{FieldNameTag: "json", DoNotReference: true}
	schema := reflector.Reflect(inputType)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("provider: marshal schema: %w", err)
	}
	var parsed struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("provider: unmarshal schema: %w", err)
	}

	required := make(map[string]bool, len(parsed.Required))
	for _, r := range parsed.Required {
		required[r] = true
	}

	params := make([]types.ToolParameter, 0, len(parsed.Properties))
	for name, raw := range parsed.Properties {
		params = append(params, propertyToParameter(name, raw, required[name]))
	}
	return params, nil
}
