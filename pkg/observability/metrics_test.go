package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/protocol"
)

func TestCounters(t *testing.T) {
	m := New()

	m.SessionFinished("skill", "success")
	m.ToolCall("read_file", true)
	m.ToolCall("read_file", false)
	m.Failure("network_error")
	m.Replan()
	m.ThreeStrike()
	m.Tokens(100, 40)

	if got := testutil.ToFloat64(m.sessionsTotal.WithLabelValues("skill", "success")); got != 1 {
		t.Errorf("sessions counter = %v", got)
	}
	if got := testutil.ToFloat64(m.toolCallsTotal.WithLabelValues("read_file", "failure")); got != 1 {
		t.Errorf("tool failure counter = %v", got)
	}
	if got := testutil.ToFloat64(m.tokensTotal.WithLabelValues("input")); got != 100 {
		t.Errorf("input tokens = %v", got)
	}
	if got := testutil.ToFloat64(m.replansTotal); got != 1 {
		t.Errorf("replans = %v", got)
	}
}

func TestInstrumentProvider(t *testing.T) {
	m := New()
	mock := llms.NewMockProvider(&llms.Completion{
		Content: "hello",
		Usage:   protocol.TokenUsage{InputTokens: 10, OutputTokens: 5},
	})

	provider := InstrumentProvider(mock, m)
	if _, err := provider.Complete(context.Background(), llms.CompletionRequest{Model: "gpt-4o"}); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(m.tokensTotal.WithLabelValues("input")); got != 10 {
		t.Errorf("input tokens = %v", got)
	}
	if got := testutil.ToFloat64(m.tokensTotal.WithLabelValues("output")); got != 5 {
		t.Errorf("output tokens = %v", got)
	}
}

func TestInstrumentProviderNilMetrics(t *testing.T) {
	mock := llms.NewMockProvider(llms.TextCompletion("x"))
	if got := InstrumentProvider(mock, nil); got != mock {
		t.Error("nil metrics should return the provider unchanged")
	}
}
