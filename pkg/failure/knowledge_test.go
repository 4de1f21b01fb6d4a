package failure

import (
	"testing"

	"github.com/striderlabs/strider/pkg/scratchpad"
)

func TestKnowledgeBase_RecordAndReload(t *testing.T) {
	fs := scratchpad.NewMemFS()
	kb := NewKnowledgeBase(fs)

	sig := New(SourceTool, TypeRateLimited, ExitRetryable, "429").WithTool("web_search", nil)
	if err := kb.Record(sig); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := kb.Record(sig); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	// A fresh KB on the same storage sees the persisted patterns.
	kb2 := NewKnowledgeBase(fs)
	patterns := kb2.Snapshot()
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	if patterns[0].Count != 2 {
		t.Errorf("count = %d, want 2", patterns[0].Count)
	}
	if patterns[0].Tool != "web_search" {
		t.Errorf("tool = %q, want web_search", patterns[0].Tool)
	}
}

func TestKnowledgeBase_LearningFallback(t *testing.T) {
	kb := NewKnowledgeBase(scratchpad.NewMemFS())
	sig := New(SourceTool, TypeTimeout, ExitRetryable, "slow")
	if kb.LearningFor(sig) == "" {
		t.Error("expected canned learning for unknown pattern")
	}
}
