// Package tools provides the tool abstraction, the registry with
// action-space pruning, text-protocol parsers, and the builtin tools.
package tools

import (
	"context"

	"github.com/invopop/jsonschema"

	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/protocol"
)

// Tool is one callable capability. Execute returns a ToolResult in all
// cases; the error return is reserved for infrastructure faults, not for
// failures of the tool's own work (those go in the result).
type Tool interface {
	Name() string
	Description() string
	Definition() llms.ToolDefinition
	Execute(ctx context.Context, args map[string]any) (*protocol.ToolResult, error)
}

// schemaFor reflects a parameter struct into a JSON Schema object suitable
// for a tool definition.
func schemaFor(v any) map[string]any {
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)

	out := map[string]any{"type": "object"}
	if schema.Properties != nil {
		props := map[string]any{}
		for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			prop := map[string]any{"type": pair.Value.Type}
			if pair.Value.Description != "" {
				prop["description"] = pair.Value.Description
			}
			if pair.Value.Default != nil {
				prop["default"] = pair.Value.Default
			}
			if len(pair.Value.Enum) > 0 {
				prop["enum"] = pair.Value.Enum
			}
			props[pair.Key] = prop
		}
		out["properties"] = props
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok && s != ""
}

// intArg extracts an optional integer argument, tolerating the float64
// that JSON decoding produces.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
