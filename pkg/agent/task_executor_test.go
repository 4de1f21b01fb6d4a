package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/striderlabs/strider/pkg/failure"
	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/protocol"
	"github.com/striderlabs/strider/pkg/scratchpad"
	"github.com/striderlabs/strider/pkg/tools"
)

type fakeTool struct {
	name    string
	handler func(args map[string]any) (*protocol.ToolResult, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "test tool" }
func (f *fakeTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{Name: f.name, Description: "test tool", Parameters: map[string]any{"type": "object"}}
}
func (f *fakeTool) Execute(_ context.Context, args map[string]any) (*protocol.ToolResult, error) {
	if f.handler != nil {
		return f.handler(args)
	}
	return &protocol.ToolResult{Success: true, Output: "ok"}, nil
}

func testExecutor(t *testing.T, provider llms.Provider, extraTools ...tools.Tool) (*TaskExecutor, *scratchpad.ThreeFiles) {
	t.Helper()
	reg := tools.NewRegistry()
	_ = reg.RegisterTool(tools.NewExitTool())
	for _, tool := range extraTools {
		_ = reg.RegisterTool(tool)
	}
	pad := scratchpad.NewThreeFiles(scratchpad.NewMemFS(), "sess_test")
	observer := failure.NewObserver(pad)
	return NewTaskExecutor(provider, reg, observer, pad, nil, TaskExecutorConfig{Model: "gpt-4o"}), pad
}

func TestTaskExecutorFinalAnswer(t *testing.T) {
	mock := llms.NewMockProvider(
		llms.ToolCallCompletion("lookup", map[string]any{"q": "x"}),
		llms.TextCompletion("I have what I need.\nFINAL ANSWER: the answer is 42"),
	)
	exec, _ := testExecutor(t, mock, &fakeTool{name: "lookup"})

	outcome, err := exec.Execute(context.Background(), NewContextManager("sys"), "find the answer", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Success() {
		t.Fatalf("expected success, got signal %v", outcome.Signal)
	}
	if outcome.Output != "the answer is 42" {
		t.Errorf("marker text should be stripped, got %q", outcome.Output)
	}
	if outcome.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", outcome.Iterations)
	}
	if outcome.Usage.Total() == 0 {
		t.Error("token usage should accumulate")
	}
}

func TestTaskExecutorExitToolSuccess(t *testing.T) {
	mock := llms.NewMockProvider(
		llms.ToolCallCompletion("exit", map[string]any{"exit_code": float64(0), "message": "task finished cleanly"}),
	)
	exec, _ := testExecutor(t, mock)

	outcome, err := exec.Execute(context.Background(), NewContextManager("sys"), "do a thing", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Success() || outcome.Output != "task finished cleanly" {
		t.Fatalf("exit 0 should end the task with its message, got %+v", outcome)
	}
}

func TestTaskExecutorExitToolFailure(t *testing.T) {
	mock := llms.NewMockProvider(
		llms.ToolCallCompletion("exit", map[string]any{"exit_code": float64(2), "message": "need an API key"}),
	)
	exec, _ := testExecutor(t, mock)

	outcome, err := exec.Execute(context.Background(), NewContextManager("sys"), "do a thing", nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Success() {
		t.Fatal("exit 2 is not success")
	}
	if !outcome.Signal.NeedsUserIntervention() {
		t.Errorf("expected needs-user signal, got %+v", outcome.Signal)
	}
}

func TestTaskExecutorThreeStrikeStops(t *testing.T) {
	failing := &fakeTool{
		name: "flaky",
		handler: func(map[string]any) (*protocol.ToolResult, error) {
			return &protocol.ToolResult{Success: false, Error: "connection refused"}, nil
		},
	}
	mock := llms.NewMockProvider(llms.ToolCallCompletion("flaky", map[string]any{}))
	exec, _ := testExecutor(t, mock, failing)

	outcome, err := exec.Execute(context.Background(), NewContextManager("sys"), "keep trying", nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Success() {
		t.Fatal("repeated identical failures must stop the loop")
	}
	if outcome.Iterations != failure.StrikeThreshold {
		t.Errorf("loop should stop at the third strike, ran %d iterations", outcome.Iterations)
	}
	if outcome.Signal.Type != failure.TypeNetworkError {
		t.Errorf("signal should carry the dominant failure, got %s", outcome.Signal.Type)
	}
}

func TestTaskExecutorIterationBudget(t *testing.T) {
	mock := llms.NewMockProvider(llms.ToolCallCompletion("noop", map[string]any{}))
	exec, _ := testExecutor(t, mock, &fakeTool{name: "noop"})

	outcome, err := exec.Execute(context.Background(), NewContextManager("sys"), "never finishes", nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Success() {
		t.Fatal("exhausted budget is a failure")
	}
	if outcome.Iterations != DefaultTaskIterations {
		t.Errorf("expected %d iterations, got %d", DefaultTaskIterations, outcome.Iterations)
	}
	if outcome.Signal.Type != failure.TypeTimeout {
		t.Errorf("budget exhaustion reports as timeout, got %s", outcome.Signal.Type)
	}
}

func TestTaskExecutorValidationRetry(t *testing.T) {
	mock := llms.NewMockProvider(
		llms.TextCompletion("FINAL ANSWER: too short"),
		llms.TextCompletion("FINAL ANSWER: a properly detailed answer with enough substance"),
	)
	exec, _ := testExecutor(t, mock)

	validate := func(_ context.Context, output string) *failure.Signal {
		if len(output) < 20 {
			return failure.New(failure.SourceValidation, failure.TypeValidationFailed, failure.ExitRetryable, "answer too short")
		}
		return nil
	}
	outcome, err := exec.Execute(context.Background(), NewContextManager("sys"), "write it up", validate)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Success() {
		t.Fatalf("second attempt should pass validation, got %v", outcome.Signal)
	}
	if outcome.Iterations != 2 {
		t.Errorf("expected a retry iteration, got %d", outcome.Iterations)
	}
}

func TestTaskExecutorLLMErrorRecovers(t *testing.T) {
	mock := llms.NewMockProvider(
		llms.TextCompletion("FINAL ANSWER: recovered"),
	).FailAt(0, errors.New("connection reset by peer"))
	exec, _ := testExecutor(t, mock)
	exec.llmPolicy.InitialDelay = time.Millisecond

	outcome, err := exec.Execute(context.Background(), NewContextManager("sys"), "try", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Success() || outcome.Output != "recovered" {
		t.Fatalf("retryable llm error should not end the task, got %+v", outcome)
	}
	if outcome.Iterations != 1 {
		t.Errorf("the retry happens inside one loop iteration, got %d", outcome.Iterations)
	}
	if mock.Calls() != 2 {
		t.Errorf("expected the failed attempt plus one retry, got %d calls", mock.Calls())
	}
}

func TestTaskExecutorLLMRetriesCountTowardStrikes(t *testing.T) {
	mock := llms.NewMockProvider(llms.TextCompletion("unreachable")).
		FailAt(0, errors.New("connection reset by peer")).
		FailAt(1, errors.New("connection reset by peer")).
		FailAt(2, errors.New("connection reset by peer"))
	exec, _ := testExecutor(t, mock)
	exec.llmPolicy.InitialDelay = time.Millisecond

	outcome, err := exec.Execute(context.Background(), NewContextManager("sys"), "try", nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Success() {
		t.Fatal("three identical transport failures must stop the task")
	}
	if outcome.Signal.Type != failure.TypeNetworkError {
		t.Errorf("signal should carry the dominant failure, got %s", outcome.Signal.Type)
	}
	if mock.Calls() != failure.StrikeThreshold {
		t.Errorf("the observer should stop the retry loop at the third strike, got %d calls", mock.Calls())
	}
	if exec.Machine().Current() != StateFailed {
		t.Errorf("a struck-out task ends in FAILED, got %s", exec.Machine().Current())
	}
}

func TestTaskExecutorSearchReminder(t *testing.T) {
	search := &fakeTool{name: "web_search", handler: func(map[string]any) (*protocol.ToolResult, error) {
		return &protocol.ToolResult{Success: true, Output: "results"}, nil
	}}
	mock := llms.NewMockProvider(
		llms.ToolCallCompletion("web_search", map[string]any{"query": "a"}),
		llms.ToolCallCompletion("web_search", map[string]any{"query": "b"}),
		llms.TextCompletion("FINAL ANSWER: done"),
	)
	exec, _ := testExecutor(t, mock, search)

	cm := NewContextManager("sys")
	outcome, err := exec.Execute(context.Background(), cm, "research", nil)
	if err != nil || !outcome.Success() {
		t.Fatalf("unexpected failure: %v %v", err, outcome.Signal)
	}

	reminded := false
	for _, msg := range cm.Snapshot() {
		if msg.Role == protocol.RoleUser && strings.Contains(msg.Content, "Record what you learned") {
			reminded = true
		}
	}
	if !reminded {
		t.Error("second search call should trigger the findings reminder")
	}
}

func TestTaskExecutorRecordsProgressOnFailure(t *testing.T) {
	failing := &fakeTool{name: "broken", handler: func(map[string]any) (*protocol.ToolResult, error) {
		return nil, fmt.Errorf("file not found somewhere")
	}}
	mock := llms.NewMockProvider(
		llms.ToolCallCompletion("broken", map[string]any{}),
		llms.TextCompletion("FINAL ANSWER: gave up on the file"),
	)
	exec, pad := testExecutor(t, mock, failing)

	if _, err := exec.Execute(context.Background(), NewContextManager("sys"), "read it", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(pad.ReadProgress(), "❌") {
		t.Error("failures must land in the progress log")
	}
}
