package tools

import (
	"context"
	"fmt"

	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/protocol"
	"github.com/striderlabs/strider/pkg/sandbox"
)

// RunCodeTool executes model-written code through a sandbox executor.
// Core tool; the structured-task path leans on it for code-mode work.
type RunCodeTool struct {
	executor sandbox.Executor
}

// NewRunCodeTool wraps the given executor. A nil executor gets the local
// subprocess runner.
func NewRunCodeTool(executor sandbox.Executor) *RunCodeTool {
	if executor == nil {
		executor = sandbox.NewLocalExecutor("")
	}
	return &RunCodeTool{executor: executor}
}

func (t *RunCodeTool) Name() string { return "run_code" }

func (t *RunCodeTool) Description() string {
	return "Execute code in an isolated sandbox and return stdout, stderr and the exit code"
}

type runCodeArgs struct {
	Code           string `json:"code" jsonschema:"required,description=Source code to execute"`
	Language       string `json:"language,omitempty" jsonschema:"description=Language to run (python bash sh node go; default python)"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"description=Wall-clock limit in seconds (default 30)"`
}

func (t *RunCodeTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  schemaFor(&runCodeArgs{}),
	}
}

func (t *RunCodeTool) Execute(ctx context.Context, args map[string]any) (*protocol.ToolResult, error) {
	code, ok := stringArg(args, "code")
	if !ok {
		return &protocol.ToolResult{Success: false, Error: "invalid params: code is required"}, nil
	}

	req := sandbox.Request{
		Code:           code,
		Language:       func() string { s, _ := args["language"].(string); return s }(),
		TimeoutSeconds: intArg(args, "timeout_seconds", 0),
		MaxMemoryMB:    intArg(args, "max_memory_mb", 0),
	}

	res, err := t.executor.Execute(ctx, req)
	if err != nil {
		return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("invalid params: %v", err)}, nil
	}

	result := &protocol.ToolResult{
		Success:       res.Status == sandbox.StatusSuccess,
		Output:        res.Output,
		ExecutionTime: res.ExecutionTime,
		Metadata: map[string]any{
			"status":    res.Status,
			"exit_code": res.ExitCode,
			"stderr":    res.Error,
		},
	}
	if !result.Success {
		if res.Status == sandbox.StatusTimeout {
			result.Error = res.Error
		} else {
			result.Error = fmt.Sprintf("execution failed (exit %d): %s", res.ExitCode, res.Error)
		}
	}
	return result, nil
}
