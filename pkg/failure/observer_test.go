package failure

import (
	"strings"
	"testing"
)

type recordingProgress struct {
	lines []string
}

func (r *recordingProgress) UpdateProgress(entry string, isError bool) error {
	r.lines = append(r.lines, entry)
	return nil
}

func netError(tool string) *Signal {
	return New(SourceTool, TypeNetworkError, ExitRetryable, "connection refused").WithTool(tool, nil)
}

func TestObserver_SuccessNotInSummary(t *testing.T) {
	o := NewObserver(nil)
	o.Observe(Success("read_url"))
	o.Observe(Success("read_url"))

	if got := o.SummaryText(); got != "" {
		t.Errorf("expected empty summary for successes, got %q", got)
	}
	stats := o.Statistics()
	if stats.Total != 2 || stats.Failures != 0 {
		t.Errorf("stats = %+v, want total=2 failures=0", stats)
	}
}

func TestObserver_ThreeStrikeSameType(t *testing.T) {
	o := NewObserver(nil)

	o.Observe(netError("read_url"))
	if o.ShouldStopRetry(netError("read_url")) {
		t.Fatal("should not stop after one failure")
	}
	o.Observe(netError("web_search"))
	o.Observe(netError("read_url"))

	// Three network_error signals in the window: rule fires.
	if !o.ShouldStopRetry(netError("other_tool")) {
		t.Error("expected 3-strike to fire on same type")
	}
}

func TestObserver_ThreeStrikeSameTool(t *testing.T) {
	o := NewObserver(nil)
	o.Observe(New(SourceTool, TypeNetworkError, ExitRetryable, "a").WithTool("read_url", nil))
	o.Observe(New(SourceTool, TypeTimeout, ExitRetryable, "b").WithTool("read_url", nil))
	o.Observe(New(SourceTool, TypeExecutionError, ExitRetryable, "c").WithTool("read_url", nil))

	sig := New(SourceTool, TypeUnknown, ExitRetryable, "d").WithTool("read_url", nil)
	if !o.ShouldStopRetry(sig) {
		t.Error("expected 3-strike to fire on same tool across mixed types")
	}
}

func TestObserver_FatalAlwaysStops(t *testing.T) {
	o := NewObserver(nil)
	sig := New(SourceSystem, TypeExecutionError, ExitFatal, "boom")
	if !o.ShouldStopRetry(sig) {
		t.Error("fatal exit code must stop retries immediately")
	}
}

func TestObserver_ClearResetsStrikes(t *testing.T) {
	o := NewObserver(nil)
	for i := 0; i < 3; i++ {
		o.Observe(netError("read_url"))
	}
	o.Clear()

	if o.ShouldStopRetry(netError("read_url")) {
		t.Error("3-strike must not fire after Clear")
	}
	if stats := o.Statistics(); stats.Total != 0 {
		t.Errorf("history not cleared: %+v", stats)
	}
}

func TestObserver_SummaryBounded(t *testing.T) {
	o := NewObserver(nil)
	for i := 0; i < 12; i++ {
		o.Observe(netError("read_url"))
	}
	if n := len(o.RecentSignals(0)); n > DefaultSummaryWindow {
		t.Errorf("summary holds %d signals, window is %d", n, DefaultSummaryWindow)
	}
}

func TestObserver_ProgressWriterKeepsFailures(t *testing.T) {
	progress := &recordingProgress{}
	o := NewObserver(progress)

	o.Observe(Success("read_file"))
	o.Observe(netError("read_url"))

	if len(progress.lines) != 1 {
		t.Fatalf("expected 1 progress line, got %d", len(progress.lines))
	}
	if !strings.Contains(progress.lines[0], "read_url") {
		t.Errorf("progress line missing tool name: %q", progress.lines[0])
	}
}

func TestObserver_CallbackPanicDoesNotPropagate(t *testing.T) {
	o := NewObserver(nil)
	o.OnFailure(func(sig *Signal) { panic("callback bug") })

	// Must not panic.
	o.Observe(netError("read_url"))
}

func TestSignal_Retryability(t *testing.T) {
	cases := []struct {
		name string
		sig  *Signal
		want bool
	}{
		{"network error", New(SourceTool, TypeNetworkError, ExitRetryable, ""), true},
		{"permission denied", New(SourceTool, TypePermissionDenied, ExitRetryable, ""), false},
		{"invalid params", New(SourceTool, TypeInvalidParams, ExitRetryable, ""), false},
		{"fatal", New(SourceTool, TypeNetworkError, ExitFatal, ""), false},
		{"success", Success("x"), false},
	}
	for _, tc := range cases {
		if got := tc.sig.IsRetryable(); got != tc.want {
			t.Errorf("%s: IsRetryable() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSignal_LearningKeywordFallback(t *testing.T) {
	sig := New(SourceLLM, "weird_type", ExitRetryable, "request timed out after 30s")
	if got := sig.Learning(); !strings.Contains(got, "timed out") {
		t.Errorf("expected timeout learning, got %q", got)
	}
}

func TestClassifyError(t *testing.T) {
	cases := map[string]Type{
		"429 Too Many Requests":        TypeRateLimited,
		"context deadline exceeded":    TypeTimeout,
		"permission denied for /etc":   TypePermissionDenied,
		"no such file or directory":    TypeResourceNotFound,
		"missing required field 'url'": TypeInvalidParams,
		"connection reset by peer":     TypeNetworkError,
		"something else entirely":      TypeExecutionError,
	}
	for msg, want := range cases {
		if got := ClassifyError(msg); got != want {
			t.Errorf("ClassifyError(%q) = %s, want %s", msg, got, want)
		}
	}
}
