package skills

import (
	"context"
	"fmt"
	"time"

	"github.com/striderlabs/strider/pkg/failure"
	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/logger"
	"github.com/striderlabs/strider/pkg/protocol"
)

// ScriptRunner executes a sandboxed tool call on behalf of a skill. The
// engine's tool registry satisfies it.
type ScriptRunner interface {
	Execute(ctx context.Context, call protocol.ToolCall) (*protocol.ToolResult, *failure.Signal)
}

// Executor runs a matched skill. Skills carrying a script are tried as a
// sandboxed execution first, with the template turned into formatting
// instructions over the script's output; script-less skills and failed
// scripts run as one focused LLM call. No tool loop, no planning.
type Executor struct {
	provider llms.Provider
	model    string
	runner   ScriptRunner
}

// NewExecutor creates a skill executor. runner may be nil, which disables
// the script path.
func NewExecutor(provider llms.Provider, model string, runner ScriptRunner) *Executor {
	return &Executor{provider: provider, model: model, runner: runner}
}

// WithRunner returns a copy using a different script runner, typically a
// registry view narrowed to the skill's declared tools.
func (e *Executor) WithRunner(runner ScriptRunner) *Executor {
	clone := *e
	clone.runner = runner
	return &clone
}

// Execution is the outcome of a skill run.
type Execution struct {
	Skill    string
	Output   string
	Script   bool // true when the output came from the skill's script
	Usage    protocol.TokenUsage
	Duration time.Duration
}

// Execute runs the skill against the request. Script first when the
// skill has one, LLM otherwise or on script failure.
func (e *Executor) Execute(ctx context.Context, skill *Skill, request string) (*Execution, error) {
	start := time.Now()

	if skill.Script != "" && e.runner != nil {
		if exec := e.runScript(ctx, skill, request); exec != nil {
			exec.Duration = time.Since(start)
			return exec, nil
		}
		logger.GetLogger().Warn("skill script failed, falling back to prompt", "skill", skill.Name)
	}

	exec, err := e.runPrompt(ctx, skill, request)
	if err != nil {
		return nil, err
	}
	exec.Duration = time.Since(start)
	return exec, nil
}

// runScript executes the skill's script in the sandbox and formats its
// output through the skill template. A nil return means the script path
// did not produce a usable result.
func (e *Executor) runScript(ctx context.Context, skill *Skill, request string) *Execution {
	call := protocol.ToolCall{
		ID:   "skill_" + skill.Name,
		Name: "run_code",
		Arguments: map[string]any{
			"code":     skill.RenderScript(request),
			"language": skill.ScriptLanguage,
		},
	}
	result, sig := e.runner.Execute(ctx, call)
	if sig != nil || result == nil || !result.Success {
		return nil
	}

	exec := &Execution{Skill: skill.Name, Output: result.Output, Script: true}

	// One formatting call turns raw script output into the answer the
	// template describes. If it fails the raw output still stands.
	completion, err := e.provider.Complete(ctx, llms.CompletionRequest{
		Model:  e.modelFor(skill),
		System: skill.Render(request),
		Messages: []protocol.Message{protocol.UserMessage(
			"Request:\n" + request + "\n\nScript output:\n" + result.Output +
				"\n\nPresent the result per the instructions above.",
		)},
		MaxTokens: skill.MaxTokens,
	})
	if err == nil && completion.Content != "" {
		exec.Output = completion.Content
		exec.Usage = completion.Usage
	}
	return exec
}

// runPrompt renders the skill against the request and completes it.
func (e *Executor) runPrompt(ctx context.Context, skill *Skill, request string) (*Execution, error) {
	completion, err := e.provider.Complete(ctx, llms.CompletionRequest{
		Model:     e.modelFor(skill),
		System:    skill.Render(request),
		Messages:  []protocol.Message{protocol.UserMessage(request)},
		MaxTokens: skill.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("skill %s failed: %w", skill.Name, err)
	}
	return &Execution{
		Skill:  skill.Name,
		Output: completion.Content,
		Usage:  completion.Usage,
	}, nil
}

func (e *Executor) modelFor(skill *Skill) string {
	if skill.Model != "" {
		return skill.Model
	}
	return e.model
}
