// Package protocol defines the conversation primitives shared by every
// component of the runtime: messages, tool calls and tool results.
//
// Messages are value types and are never mutated after creation. Components
// that need to shrink a conversation (the context compressor, the memory
// clear path) build a new slice instead.
package protocol

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single append-only entry in the conversation context.
type Message struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolMessage builds a tool-role message carrying a tool result.
func ToolMessage(toolName, callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: toolName}
}

// ToolCall is a named tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResult is the outcome of exactly one ToolCall.
type ToolResult struct {
	ToolCallID    string         `json:"tool_call_id,omitempty"`
	ToolName      string         `json:"tool_name"`
	Success       bool           `json:"success"`
	Output        string         `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ExitCode extracts metadata.exit_context.exit_code from a result, if the
// executed tool supplied one (the exit tool does). The second return is
// false when no exit context is present.
func (r ToolResult) ExitCode() (int, bool) {
	if r.Metadata == nil {
		return 0, false
	}
	ec, ok := r.Metadata["exit_context"].(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := ec["exit_code"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// TokenUsage is the advisory token accounting attached to LLM completions.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }
