// Package sandbox runs model-written code in an isolated subprocess with a
// wall-clock timeout. The Executor interface lets the run_code tool swap
// the local runner for a container-backed one without touching callers.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const (
	DefaultTimeoutSeconds = 30
	DefaultMaxMemoryMB    = 512

	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Request is one code execution.
type Request struct {
	Code           string
	Language       string
	TimeoutSeconds int
	MaxMemoryMB    int
}

// Result is the outcome of a sandboxed run. Output is stdout, Error is
// stderr plus any runner diagnostics.
type Result struct {
	Status        string
	Output        string
	Error         string
	ExitCode      int
	ExecutionTime time.Duration
}

// Executor runs code in isolation.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
	Languages() []string
}

// ==================== LOCAL EXECUTOR ====================

// interpreters maps a language name to the command that runs a script file.
var interpreters = map[string][]string{
	"python": {"python3"},
	"bash":   {"bash"},
	"sh":     {"sh"},
	"node":   {"node"},
	"go":     {"go", "run"},
}

var extensions = map[string]string{
	"python": ".py",
	"bash":   ".sh",
	"sh":     ".sh",
	"node":   ".js",
	"go":     ".go",
}

// LocalExecutor writes the code to a temp file and runs the matching
// interpreter as a subprocess. Memory limits are advisory only here; a
// container-backed Executor enforces them for untrusted workloads.
type LocalExecutor struct {
	workDir string
}

// NewLocalExecutor creates an executor running code under workDir
// (os.TempDir when empty).
func NewLocalExecutor(workDir string) *LocalExecutor {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &LocalExecutor{workDir: workDir}
}

// Languages implements Executor.
func (e *LocalExecutor) Languages() []string {
	return []string{"python", "bash", "sh", "node", "go"}
}

// Execute implements Executor. A timeout produces Status=timeout with exit
// code -1; a nonzero interpreter exit produces Status=error with the real
// exit code. The returned error is reserved for runner faults (temp file
// creation, unknown language), never for failures of the code itself.
func (e *LocalExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("code is required")
	}
	lang := req.Language
	if lang == "" {
		lang = "python"
	}
	argv, ok := interpreters[lang]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}

	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	script, err := os.CreateTemp(e.workDir, "run-*"+extensions[lang])
	if err != nil {
		return nil, fmt.Errorf("failed to create script file: %w", err)
	}
	defer func() { _ = os.Remove(script.Name()) }()
	if _, err := script.WriteString(req.Code); err != nil {
		_ = script.Close()
		return nil, fmt.Errorf("failed to write script: %w", err)
	}
	if err := script.Close(); err != nil {
		return nil, fmt.Errorf("failed to close script: %w", err)
	}

	args := append(append([]string{}, argv[1:]...), script.Name())
	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Dir = filepath.Dir(script.Name())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := &Result{
		Output:        stdout.String(),
		Error:         stderr.String(),
		ExecutionTime: elapsed,
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		result.Status = StatusTimeout
		result.ExitCode = -1
		result.Error = fmt.Sprintf("execution timed out after %ds", timeout)
	case runErr == nil:
		result.Status = StatusSuccess
		result.ExitCode = 0
	default:
		result.Status = StatusError
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			if result.Error == "" {
				result.Error = runErr.Error()
			}
		}
	}

	return result, nil
}
