package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/protocol"
)

// WriteFileTool writes files under a working directory, creating parent
// directories as needed. Core tool.
type WriteFileTool struct {
	workingDir string
}

// NewWriteFileTool creates the tool rooted at workingDir ("." when empty).
func NewWriteFileTool(workingDir string) *WriteFileTool {
	if workingDir == "" {
		workingDir = "."
	}
	return &WriteFileTool{workingDir: workingDir}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating it and any parent directories"
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=File path relative to the working directory"`
	Content string `json:"content" jsonschema:"required,description=Full file content to write"`
	Append  bool   `json:"append,omitempty" jsonschema:"description=Append instead of overwrite"`
}

func (t *WriteFileTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  schemaFor(&writeFileArgs{}),
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (*protocol.ToolResult, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return &protocol.ToolResult{Success: false, Error: "invalid params: path is required"}, nil
	}
	content, ok := args["content"].(string)
	if !ok {
		return &protocol.ToolResult{Success: false, Error: "invalid params: content is required"}, nil
	}

	full := filepath.Join(t.workingDir, filepath.Clean("/"+path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("failed to create directories: %v", err)}, nil
	}

	if appendMode, _ := args["append"].(bool); appendMode {
		f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("failed to open file: %v", err)}, nil
		}
		defer func() { _ = f.Close() }()
		if _, err := f.WriteString(content); err != nil {
			return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("failed to append: %v", err)}, nil
		}
	} else if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("failed to write file: %v", err)}, nil
	}

	return &protocol.ToolResult{
		Success: true,
		Output:  fmt.Sprintf("wrote %d bytes to %s", len(content), path),
		Metadata: map[string]any{
			"path":  path,
			"bytes": len(content),
		},
	}, nil
}
