package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/striderlabs/strider/pkg/failure"
	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/logger"
	"github.com/striderlabs/strider/pkg/protocol"
	"github.com/striderlabs/strider/pkg/registry"
)

// CoreTools are exempt from action-space pruning. Whatever subset a task
// narrows the registry to, these stay callable.
var CoreTools = map[string]bool{
	"read_file":  true,
	"write_file": true,
	"run_code":   true,
	"exit":       true,
}

// maxParallelTools bounds concurrent tool executions within one batch.
const maxParallelTools = 5

// Registry holds tools and enforces the per-task allow-list. When no
// allow-list is set every registered tool is callable.
type Registry struct {
	*registry.BaseRegistry[Tool]

	mu      sync.RWMutex
	allowed map[string]bool // nil means no pruning
	logger  *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Tool](),
		logger:       logger.GetLogger(),
	}
}

// RegisterTool adds a tool under its own name.
func (r *Registry) RegisterTool(t Tool) error {
	return r.Register(t.Name(), t)
}

// SetAllowedTools narrows the callable set for the current task. Core
// tools are always included regardless of the list. An empty list prunes
// down to the core set alone.
func (r *Registry) SetAllowedTools(names []string) {
	allowed := make(map[string]bool, len(names)+len(CoreTools))
	for _, name := range names {
		allowed[name] = true
	}
	for name := range CoreTools {
		allowed[name] = true
	}

	r.mu.Lock()
	r.allowed = allowed
	r.mu.Unlock()

	r.logger.Debug("action space narrowed", "allowed", len(allowed))
}

// Scoped returns a registry view with its own allow-list over the same
// underlying tools. Parallel tasks each take a view so narrowing one
// task's action space never touches a sibling's.
func (r *Registry) Scoped(names []string) *Registry {
	view := &Registry{
		BaseRegistry: r.BaseRegistry,
		logger:       r.logger,
	}
	view.SetAllowedTools(names)
	return view
}

// ResetAllowedTools restores the full action space.
func (r *Registry) ResetAllowedTools() {
	r.mu.Lock()
	r.allowed = nil
	r.mu.Unlock()
}

// IsAllowed reports whether the tool is callable under the current
// allow-list.
func (r *Registry) IsAllowed(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.allowed == nil {
		return true
	}
	return r.allowed[name]
}

// AllowedNames returns the callable tool names, sorted.
func (r *Registry) AllowedNames() []string {
	var names []string
	for _, name := range r.Names() {
		if r.IsAllowed(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Definitions returns the tool definitions advertised to the model,
// restricted to the current allow-list.
func (r *Registry) Definitions() []llms.ToolDefinition {
	var defs []llms.ToolDefinition
	for _, name := range r.AllowedNames() {
		tool, ok := r.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, tool.Definition())
	}
	return defs
}

// Execute runs one tool call and classifies the outcome. The signal is
// non-nil for failures and nil for successes; the result is always
// non-nil.
func (r *Registry) Execute(ctx context.Context, call protocol.ToolCall) (*protocol.ToolResult, *failure.Signal) {
	if !r.IsAllowed(call.Name) {
		msg := fmt.Sprintf("tool %q is not in the current action space", call.Name)
		sig := failure.New(failure.SourceValidation, failure.TypePermissionDenied, failure.ExitFatal, msg).
			WithTool(call.Name, call.Arguments)
		return failedResult(call, msg), sig
	}

	tool, ok := r.Get(call.Name)
	if !ok {
		msg := fmt.Sprintf("unknown tool: %s", call.Name)
		sig := failure.New(failure.SourceValidation, failure.TypeResourceNotFound, failure.ExitRetryable, msg).
			WithTool(call.Name, call.Arguments)
		return failedResult(call, msg), sig
	}

	start := time.Now()
	result, err := tool.Execute(ctx, call.Arguments)
	elapsed := time.Since(start)

	if result == nil {
		result = failedResult(call, "tool returned no result")
	}
	result.ToolCallID = call.ID
	result.ToolName = call.Name
	if result.ExecutionTime == 0 {
		result.ExecutionTime = elapsed
	}

	if err != nil {
		result.Success = false
		if result.Error == "" {
			result.Error = err.Error()
		}
	}

	if result.Success {
		r.logger.Debug("tool succeeded", "tool", call.Name, "duration", elapsed)
		return result, nil
	}

	sig := SignalFor(call, result)
	r.logger.Warn("tool failed", "tool", call.Name, "type", sig.Type, "exit", sig.ExitCode)
	return result, sig
}

// ExecuteAll runs a batch of tool calls with bounded parallelism. Results
// come back in call order. Failures do not cancel sibling calls; each
// result carries its own outcome.
func (r *Registry) ExecuteAll(ctx context.Context, calls []protocol.ToolCall) ([]*protocol.ToolResult, []*failure.Signal) {
	results := make([]*protocol.ToolResult, len(calls))
	signals := make([]*failure.Signal, len(calls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			results[i], signals[i] = r.Execute(ctx, call)
			return nil
		})
	}
	_ = g.Wait()

	return results, signals
}

// SignalFor derives a failure signal from a failed tool result. Exit tool
// results carry an explicit exit code in metadata; everything else is
// classified from the error text.
func SignalFor(call protocol.ToolCall, result *protocol.ToolResult) *failure.Signal {
	msg := result.Error
	if msg == "" {
		msg = "tool execution failed"
	}

	exitCode := failure.ExitRetryable
	typ := failure.ClassifyError(msg)
	if code, ok := result.ExitCode(); ok {
		exitCode = code
	} else if typ == failure.TypePermissionDenied || typ == failure.TypeInvalidParams {
		exitCode = failure.ExitFatal
	}

	sig := failure.New(failure.SourceTool, typ, exitCode, msg).
		WithTool(call.Name, call.Arguments)
	if stderr, ok := result.Metadata["stderr"].(string); ok {
		sig = sig.WithStderr(stderr)
	}
	return sig
}

func failedResult(call protocol.ToolCall, msg string) *protocol.ToolResult {
	return &protocol.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Success:    false,
		Error:      msg,
	}
}
