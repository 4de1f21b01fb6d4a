package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/protocol"
)

const defaultMaxFileSize = 10 * 1024 * 1024

// ReadFileTool reads files under a working directory, optionally slicing
// a line range. It is a core tool and survives action-space pruning.
type ReadFileTool struct {
	workingDir  string
	maxFileSize int64
}

// NewReadFileTool creates the tool rooted at workingDir ("." when empty).
func NewReadFileTool(workingDir string) *ReadFileTool {
	if workingDir == "" {
		workingDir = "."
	}
	return &ReadFileTool{workingDir: workingDir, maxFileSize: defaultMaxFileSize}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file, optionally restricted to a line range"
}

type readFileArgs struct {
	Path      string `json:"path" jsonschema:"required,description=File path relative to the working directory"`
	StartLine int    `json:"start_line,omitempty" jsonschema:"description=First line to include (1-indexed)"`
	EndLine   int    `json:"end_line,omitempty" jsonschema:"description=Last line to include (inclusive)"`
}

func (t *ReadFileTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  schemaFor(&readFileArgs{}),
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (*protocol.ToolResult, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return &protocol.ToolResult{Success: false, Error: "invalid params: path is required"}, nil
	}

	full, err := t.resolve(path)
	if err != nil {
		return &protocol.ToolResult{Success: false, Error: err.Error()}, nil
	}

	info, err := os.Stat(full)
	if err != nil {
		return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("resource not found: %v", err)}, nil
	}
	if info.Size() > t.maxFileSize {
		return &protocol.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), t.maxFileSize),
		}, nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return &protocol.ToolResult{Success: false, Error: fmt.Sprintf("failed to read file: %v", err)}, nil
	}

	content := string(data)
	start := intArg(args, "start_line", 0)
	end := intArg(args, "end_line", 0)
	if start > 0 || end > 0 {
		content = sliceLines(content, start, end)
	}

	return &protocol.ToolResult{
		Success: true,
		Output:  content,
		Metadata: map[string]any{
			"path": path,
			"size": info.Size(),
		},
	}, nil
}

// resolve confines path to the working directory.
func (t *ReadFileTool) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	return filepath.Join(t.workingDir, clean), nil
}

func sliceLines(content string, start, end int) string {
	lines := strings.Split(content, "\n")
	if start < 1 {
		start = 1
	}
	if end < 1 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) || start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}
