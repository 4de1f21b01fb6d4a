package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/striderlabs/strider/pkg/events"
	"github.com/striderlabs/strider/pkg/failure"
	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/logger"
	"github.com/striderlabs/strider/pkg/protocol"
	"github.com/striderlabs/strider/pkg/retry"
	"github.com/striderlabs/strider/pkg/scratchpad"
	"github.com/striderlabs/strider/pkg/tools"
)

const (
	// DefaultTaskIterations bounds the inner loop per task.
	DefaultTaskIterations = 10
	// DefaultTaskTimeout bounds wall-clock time per task.
	DefaultTaskTimeout = 300 * time.Second
)

// TaskExecutorConfig tunes the per-task loop.
type TaskExecutorConfig struct {
	Model         string
	MaxIterations int
	Timeout       time.Duration
	Temperature   float64
}

// SetDefaults fills zero fields.
func (c *TaskExecutorConfig) SetDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultTaskIterations
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTaskTimeout
	}
}

// Validator checks a task's output against its acceptance criteria. A nil
// return accepts the output.
type Validator func(ctx context.Context, output string) *failure.Signal

// Outcome is the result of one task execution.
type Outcome struct {
	Output     string
	Signal     *failure.Signal
	Iterations int
	Usage      protocol.TokenUsage
}

// Success reports whether the task produced an accepted output.
func (o *Outcome) Success() bool { return o.Signal == nil }

// TaskExecutor runs the reason/act/observe loop for a single task.
type TaskExecutor struct {
	provider  llms.Provider
	registry  *tools.Registry
	observer  *failure.Observer
	pad       *scratchpad.ThreeFiles
	publisher events.Publisher
	machine   *Machine
	retrier   *retry.Executor
	llmPolicy retry.Policy
	config    TaskExecutorConfig
	logger    *slog.Logger
}

// NewTaskExecutor wires the loop's collaborators. pad may be nil when the
// session runs without working memory; publisher may be nil to discard
// events.
func NewTaskExecutor(provider llms.Provider, registry *tools.Registry, observer *failure.Observer, pad *scratchpad.ThreeFiles, publisher events.Publisher, cfg TaskExecutorConfig) *TaskExecutor {
	cfg.SetDefaults()
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &TaskExecutor{
		provider:  provider,
		registry:  registry,
		observer:  observer,
		pad:       pad,
		publisher: publisher,
		machine:   NewMachine(),
		retrier:   retry.NewExecutor(observer),
		llmPolicy: retry.PolicyFor(failure.TypeNetworkError),
		config:    cfg,
		logger:    logger.GetLogger(),
	}
}

// Machine exposes the executor's state machine, mainly for inspection.
func (e *TaskExecutor) Machine() *Machine { return e.machine }

// UseMachine swaps in a shared machine so the executor drives the
// session's state rather than a private one. Call before Execute.
func (e *TaskExecutor) UseMachine(m *Machine) {
	if m != nil {
		e.machine = m
	}
}

// Execute runs the loop until the model delivers an output, the exit tool
// fires, a failure is terminal, or the iteration/time budget runs out.
// The conversation lives in cm; callers share one manager across tasks in
// direct mode or hand each parallel task its own.
func (e *TaskExecutor) Execute(ctx context.Context, cm *ContextManager, description string, validate Validator) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	// A fresh machine walks INIT through intent parsing; a shared one
	// already carries the session position.
	if e.machine.Current() == StateInit {
		e.machine.Transition(SignalUserMessage)
		e.machine.Transition(SignalIntentUnclear)
	}
	cm.AddUser(description)

	outcome := &Outcome{}
	for iteration := 1; iteration <= e.config.MaxIterations; iteration++ {
		outcome.Iterations = iteration
		if err := ctx.Err(); err != nil {
			e.machine.Transition(SignalMaxIterations)
			outcome.Signal = timeoutSignal(e.config.Timeout)
			return outcome, nil
		}

		completion, sig, err := e.complete(ctx, llms.CompletionRequest{
			Model:       e.config.Model,
			Messages:    cm.Messages(),
			Tools:       e.registry.Definitions(),
			Temperature: e.config.Temperature,
		})
		if err != nil {
			if ctx.Err() != nil {
				e.machine.Transition(SignalMaxIterations)
				outcome.Signal = timeoutSignal(e.config.Timeout)
				return outcome, nil
			}
			if sig != nil && e.observer != nil && e.observer.ShouldStopRetry(sig) {
				e.noteHalt(ctx, sig)
				e.machine.Transition(SignalExitFailure)
				outcome.Signal = sig
				return outcome, nil
			}
			cm.AddUser("The last model call failed: " + err.Error() + ". Adjust and continue.")
			continue
		}
		outcome.Usage.InputTokens += completion.Usage.InputTokens
		outcome.Usage.OutputTokens += completion.Usage.OutputTokens

		calls := completion.ToolCalls
		if len(calls) == 0 {
			calls = tools.ParseToolCalls(completion.Content)
		}

		if reasoning := tools.ExtractReasoning(completion.Content); reasoning != "" {
			e.publisher.Publish(ctx, events.Thinking(reasoning))
		}

		// No tool calls means the model is answering.
		if len(calls) == 0 {
			output := completion.Content
			if tools.HasFinalAnswer(output) {
				output = tools.ExtractAnswer(output)
			}
			cm.AddAssistant(completion.Content)

			if validate != nil {
				if sig := validate(ctx, output); sig != nil {
					e.observe(sig)
					if e.observer != nil && e.observer.ShouldStopRetry(sig) {
						e.noteHalt(ctx, sig)
						e.machine.Transition(SignalExitFailure)
						outcome.Signal = sig
						return outcome, nil
					}
					cm.AddUser("Output rejected: " + sig.Message + "\n" + sig.Learning())
					e.reflect()
					continue
				}
			}
			e.machine.Transition(SignalTaskComplete)
			outcome.Output = output
			return outcome, nil
		}

		cm.AddAssistant(completion.Content)
		e.machine.Transition(SignalNeedTool)
		for _, call := range calls {
			e.publisher.Publish(ctx, events.ToolCall(call.Name, call.Arguments, ""))
		}

		results, signals := e.registry.ExecuteAll(ctx, calls)
		e.machine.Transition(SignalToolSuccess)

		done, stopSig := e.ingestResults(ctx, cm, calls, results, signals, outcome)
		if done {
			e.machine.Transition(SignalExitSuccess)
			return outcome, nil
		}
		if stopSig != nil {
			if stopSig.NeedsUserIntervention() {
				e.machine.Transition(SignalIntentUnclear)
			} else {
				e.machine.Transition(SignalExitFailure)
			}
			outcome.Signal = stopSig
			return outcome, nil
		}

		e.machine.Transition(SignalToolSuccess)
	}

	e.machine.Transition(SignalMaxIterations)
	outcome.Signal = failure.New(failure.SourceSystem, failure.TypeTimeout, failure.ExitRetryable,
		fmt.Sprintf("task did not finish within %d iterations", e.config.MaxIterations))
	return outcome, nil
}

// complete calls the model under the transient-failure retry policy.
// Every failed attempt is observed, so retries count toward the 3-strike
// rule.
func (e *TaskExecutor) complete(ctx context.Context, req llms.CompletionRequest) (*llms.Completion, *failure.Signal, error) {
	res := e.retrier.Execute(ctx, e.llmPolicy, func(ctx context.Context) (any, *failure.Signal, error) {
		completion, err := e.provider.Complete(ctx, req)
		if err != nil {
			return nil, llms.ClassifyLLMError(err), err
		}
		return completion, nil, nil
	})
	if res.Success {
		return res.Value.(*llms.Completion), nil, nil
	}
	sig := res.LastSignal
	if sig == nil && res.Err != nil {
		sig = llms.ClassifyLLMError(res.Err)
	}
	return nil, sig, res.Err
}

// reflect walks the failure loop back to reasoning.
func (e *TaskExecutor) reflect() {
	e.machine.Transition(SignalToolFailed)
	e.machine.Transition(SignalReflectionDone)
	e.machine.Transition(SignalReplanReady)
}

// ingestResults feeds tool outcomes back into the conversation and the
// failure subsystem. Returns done=true when the exit tool ended the task,
// or a non-nil signal when the loop must stop.
func (e *TaskExecutor) ingestResults(ctx context.Context, cm *ContextManager, calls []protocol.ToolCall, results []*protocol.ToolResult, signals []*failure.Signal, outcome *Outcome) (bool, *failure.Signal) {
	for i, result := range results {
		call := calls[i]
		content := result.Output
		if !result.Success {
			content = "ERROR: " + result.Error
		}
		cm.AddToolResult(call.Name, call.ID, content)
		e.publisher.Publish(ctx, events.ToolResult(call.Name, result.Success, result.Output, result.Error, result.ExecutionTime, ""))

		if code, ok := result.ExitCode(); ok && call.Name == "exit" {
			if code == failure.ExitSuccess {
				outcome.Output = result.Output
				return true, nil
			}
			return false, signals[i]
		}

		sig := signals[i]
		if sig == nil {
			e.recordAction(cm, call.Name)
			continue
		}

		e.observe(sig)
		cm.AddUser(sig.Learning())
		e.noteFailure(cm, sig)

		if e.observer != nil && e.observer.ShouldStopRetry(sig) {
			e.noteHalt(ctx, sig)
			return false, sig
		}
		e.reflect()
	}
	return false, nil
}

// noteHalt announces a retry loop stopped by the 3-strike rule.
func (e *TaskExecutor) noteHalt(ctx context.Context, sig *failure.Signal) {
	if e.observer == nil || !e.observer.Struck(sig) {
		return
	}
	e.publisher.Publish(ctx, events.Status("three_strike",
		"stopping retries: repeated "+string(sig.Type)+" failures"))
}

// recordAction applies the search-reminder cadence: after every second
// search-style call the model is told to bank findings before moving on.
func (e *TaskExecutor) recordAction(cm *ContextManager, toolName string) {
	if e.pad == nil {
		return
	}
	if e.pad.RecordAction(toolName) {
		cm.AddUser("Reminder: you have made several search calls. Record what you learned in findings before searching again.")
	}
}

// noteFailure logs the failure to the progress file and, when the same
// error keeps recurring, re-injects the task plan.
func (e *TaskExecutor) noteFailure(cm *ContextManager, sig *failure.Signal) {
	if e.pad == nil {
		return
	}
	rec := e.pad.RecordError(string(sig.Type), sig.Message)
	if rec.ShouldRereadPlan {
		if taskPlan := e.pad.ReadTaskPlan(); taskPlan != "" {
			cm.AddUser("The same error keeps recurring. Re-read the plan before the next step:\n\n" + taskPlan)
		}
	}
}

func (e *TaskExecutor) observe(sig *failure.Signal) {
	if e.observer != nil {
		e.observer.Observe(sig)
	}
}

func timeoutSignal(timeout time.Duration) *failure.Signal {
	return failure.New(failure.SourceTimeout, failure.TypeTimeout, failure.ExitRetryable,
		fmt.Sprintf("task timed out after %s", timeout))
}
