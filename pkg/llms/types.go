// Package llms defines the narrow LLM client interface the runtime
// consumes, plus an OpenAI-compatible implementation and a scripted mock
// for tests. The engine never depends on a concrete provider.
package llms

import (
	"context"

	"github.com/striderlabs/strider/pkg/protocol"
)

// ToolDefinition describes one callable tool advertised to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// CompletionRequest is one LLM call.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []protocol.Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// Completion is the model's reply.
type Completion struct {
	Content   string
	ToolCalls []protocol.ToolCall
	Usage     protocol.TokenUsage
}

// Provider is the LLM client consumed by the runtime. Implementations must
// be safe for concurrent use; the engine calls Complete from parallel task
// executors.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}
