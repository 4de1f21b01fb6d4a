package llms

import (
	"context"
	"fmt"
	"sync"

	"github.com/striderlabs/strider/pkg/protocol"
)

// MockProvider replays a scripted sequence of completions. Tests use it to
// drive the engine deterministically without a live model.
type MockProvider struct {
	mu        sync.Mutex
	script    []*Completion
	errs      map[int]error
	calls     int
	Requests  []CompletionRequest
	OnRequest func(req CompletionRequest)
}

// NewMockProvider creates a provider replaying the given completions in
// order. When the script runs out the last completion repeats.
func NewMockProvider(script ...*Completion) *MockProvider {
	return &MockProvider{script: script, errs: make(map[int]error)}
}

// FailAt makes call n (0-based) return err instead of a completion.
func (m *MockProvider) FailAt(n int, err error) *MockProvider {
	m.errs[n] = err
	return m
}

// Name implements Provider.
func (m *MockProvider) Name() string { return "mock" }

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	n := m.calls
	m.calls++
	m.Requests = append(m.Requests, req)
	hook := m.OnRequest
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	if err, ok := m.errs[n]; ok {
		return nil, err
	}
	if len(m.script) == 0 {
		return nil, fmt.Errorf("mock provider has no scripted completions")
	}
	if n >= len(m.script) {
		n = len(m.script) - 1
	}
	return m.script[n], nil
}

// Calls returns how many completions were requested.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// TextCompletion builds a plain text completion with nominal usage.
func TextCompletion(content string) *Completion {
	return &Completion{
		Content: content,
		Usage:   protocol.TokenUsage{InputTokens: 50, OutputTokens: 20},
	}
}

// ToolCallCompletion builds a completion requesting one tool call.
func ToolCallCompletion(tool string, args map[string]any) *Completion {
	return &Completion{
		ToolCalls: []protocol.ToolCall{{ID: "call_" + tool, Name: tool, Arguments: args}},
		Usage:     protocol.TokenUsage{InputTokens: 50, OutputTokens: 10},
	}
}
