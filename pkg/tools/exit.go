package tools

import (
	"context"
	"fmt"

	"github.com/striderlabs/strider/pkg/failure"
	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/protocol"
)

// ExitTool lets the model terminate the current subtask with an explicit
// exit code: 0 success, 1 retryable failure, 2 needs user input, 3 fatal.
// Core tool.
type ExitTool struct{}

// NewExitTool creates the tool.
func NewExitTool() *ExitTool { return &ExitTool{} }

func (t *ExitTool) Name() string { return "exit" }

func (t *ExitTool) Description() string {
	return "End the current subtask with an exit code (0=success, 1=retryable, 2=needs user, 3=fatal) and a short message"
}

type exitArgs struct {
	ExitCode int    `json:"exit_code" jsonschema:"required,description=0 success / 1 retryable failure / 2 needs user intervention / 3 fatal"`
	Message  string `json:"message,omitempty" jsonschema:"description=Why the subtask is ending"`
}

func (t *ExitTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  schemaFor(&exitArgs{}),
	}
}

func (t *ExitTool) Execute(ctx context.Context, args map[string]any) (*protocol.ToolResult, error) {
	code := intArg(args, "exit_code", failure.ExitSuccess)
	if code < failure.ExitSuccess || code > failure.ExitFatal {
		return &protocol.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("invalid params: exit_code must be 0-3, got %d", code),
		}, nil
	}
	message, _ := args["message"].(string)

	result := &protocol.ToolResult{
		Success: code == failure.ExitSuccess,
		Output:  message,
		Metadata: map[string]any{
			"exit_context": map[string]any{
				"exit_code": code,
				"message":   message,
			},
		},
	}
	if !result.Success {
		if message == "" {
			message = fmt.Sprintf("subtask exited with code %d", code)
		}
		result.Error = message
	}
	return result, nil
}
