package agent

import (
	"strings"
	"testing"

	"github.com/striderlabs/strider/pkg/plan"
	"github.com/striderlabs/strider/pkg/protocol"
)

func TestMachineStartsInit(t *testing.T) {
	m := NewMachine()
	if m.Current() != StateInit {
		t.Fatalf("expected INIT, got %s", m.Current())
	}
	if m.IsTerminal() {
		t.Error("INIT is not terminal")
	}
}

// walk drives the machine through signals, failing on any rejected edge.
func walk(t *testing.T, m *Machine, sigs ...Signal) {
	t.Helper()
	for _, sig := range sigs {
		from := m.Current()
		if !m.Transition(sig) {
			t.Fatalf("signal %s from %s should be defined", sig, from)
		}
	}
}

func TestMachineDirectFlow(t *testing.T) {
	m := NewMachine()
	walk(t, m, SignalUserMessage, SignalIntentUnclear)
	if m.Current() != StateReasoning {
		t.Fatalf("unclear intent should land in REASONING, got %s", m.Current())
	}

	walk(t, m, SignalNeedTool, SignalToolSuccess, SignalToolSuccess)
	if m.Current() != StateReasoning {
		t.Fatalf("tool cycle should return to REASONING, got %s", m.Current())
	}

	walk(t, m, SignalTaskComplete)
	if m.Current() != StateSuccess || !m.IsTerminal() {
		t.Errorf("task completion ends in SUCCESS, got %s", m.Current())
	}
}

func TestMachinePlannedFlow(t *testing.T) {
	m := NewMachine()
	walk(t, m, SignalUserMessage, SignalIntentClear)
	if m.Current() != StatePlanning {
		t.Fatalf("clear intent should land in PLANNING, got %s", m.Current())
	}
	walk(t, m, SignalPlanReady, SignalNeedTool, SignalToolFailed, SignalReflectionDone, SignalReplanReady)
	if m.Current() != StateReasoning {
		t.Fatalf("failure loop should return to REASONING, got %s", m.Current())
	}
	walk(t, m, SignalExitSuccess)
	if m.Current() != StateSuccess {
		t.Errorf("exit code 0 ends in SUCCESS, got %s", m.Current())
	}
}

func TestMachineTerminalStates(t *testing.T) {
	cases := []struct {
		sig  Signal
		want State
	}{
		{SignalTaskComplete, StateSuccess},
		{SignalExitFailure, StateFailed},
		{SignalMaxIterations, StateTimeout},
	}
	for _, tc := range cases {
		m := NewMachine()
		walk(t, m, SignalUserMessage, SignalIntentUnclear, tc.sig)
		if m.Current() != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.sig, tc.want, m.Current())
		}
		if !m.IsTerminal() {
			t.Errorf("%s is terminal", tc.want)
		}
		// Terminal states absorb everything.
		for _, sig := range []Signal{SignalUserMessage, SignalNeedTool, SignalTaskComplete} {
			if m.Transition(sig) {
				t.Errorf("%s must not leave %s", sig, tc.want)
			}
		}
	}
}

func TestMachineUndefinedSignalIsNoop(t *testing.T) {
	m := NewMachine()
	if m.Transition(SignalToolSuccess) {
		t.Error("TOOL_SUCCESS from INIT is undefined")
	}
	if m.Current() != StateInit {
		t.Error("undefined signals must not change state")
	}
	if len(m.History()) != 0 {
		t.Error("no-op signals must not be recorded")
	}

	walk(t, m, SignalUserMessage)
	if m.Transition(SignalReplanReady) {
		t.Error("REPLAN_READY from PARSING_INTENT is undefined")
	}
}

func TestMachineWaitingConfirm(t *testing.T) {
	m := NewMachine()
	walk(t, m, SignalUserMessage, SignalIntentUnclear, SignalIntentUnclear)
	if m.Current() != StateWaitingConfirm {
		t.Fatalf("expected WAITING_CONFIRM, got %s", m.Current())
	}
	if m.IsTerminal() {
		t.Error("waiting on the user is not terminal")
	}
	walk(t, m, SignalUserConfirmed)
	if m.Current() != StateReasoning {
		t.Errorf("confirmation resumes reasoning, got %s", m.Current())
	}
}

func TestMachineCancel(t *testing.T) {
	m := NewMachine()
	walk(t, m, SignalUserMessage, SignalIntentUnclear, SignalNeedTool)
	m.Cancel()
	if m.Current() != StateCancelled || !m.IsTerminal() {
		t.Fatalf("cancel forces CANCELLED, got %s", m.Current())
	}

	// Cancelling a finished session leaves the outcome alone.
	done := NewMachine()
	walk(t, done, SignalUserMessage, SignalIntentUnclear, SignalTaskComplete)
	done.Cancel()
	if done.Current() != StateSuccess {
		t.Errorf("cancel must not overwrite a terminal state, got %s", done.Current())
	}
}

func TestMachineHistoryRecordsSignals(t *testing.T) {
	m := NewMachine()
	walk(t, m, SignalUserMessage, SignalIntentUnclear)

	hist := m.History()
	if len(hist) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(hist))
	}
	first := hist[0]
	if first.From != StateInit || first.Signal != SignalUserMessage || first.To != StateParsingIntent {
		t.Errorf("unexpected first transition: %+v", first)
	}
	if first.At.IsZero() {
		t.Error("transitions carry timestamps")
	}
}

func TestMachineHistoryBounded(t *testing.T) {
	m := NewMachine()
	walk(t, m, SignalUserMessage, SignalIntentUnclear)
	for i := 0; i < maxHistory; i++ {
		walk(t, m, SignalNeedTool, SignalToolSuccess, SignalToolSuccess)
	}
	if got := len(m.History()); got > maxHistory {
		t.Errorf("history must stay bounded at %d, got %d", maxHistory, got)
	}
}

func TestMachineReset(t *testing.T) {
	m := NewMachine()
	walk(t, m, SignalUserMessage, SignalIntentUnclear, SignalTaskComplete)
	m.Reset()
	if m.Current() != StateInit {
		t.Error("reset should land in INIT")
	}
	if len(m.History()) != 0 {
		t.Error("reset clears the history")
	}
}

func TestContextManagerAppendOnly(t *testing.T) {
	cm := NewContextManager("system here")
	cm.AddUser("question")
	cm.AddAssistant("thinking")
	cm.AddToolResult("read_file", "c1", "contents")

	msgs := cm.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != protocol.RoleSystem || msgs[0].Content != "system here" {
		t.Error("system prompt must lead the conversation")
	}
	if msgs[3].Role != protocol.RoleTool || msgs[3].ToolCallID != "c1" {
		t.Error("tool result message malformed")
	}
}

func TestContextManagerRecitationSuffix(t *testing.T) {
	cm := NewContextManager("system")
	cm.AddUser("do the thing")

	p, _ := plan.NewPlan("", "the goal", []*plan.Task{plan.NewTask("t1", "step one")})
	cm.SetPlan(p, false)

	msgs := cm.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != protocol.RoleUser || !contains(last.Content, "the goal") {
		t.Fatalf("recitation should trail the conversation, got %+v", last)
	}
	if cm.Len() != 2 {
		t.Error("recitation must not be stored in the transcript")
	}

	p.Tasks[0].MarkSuccess("done")
	refreshed := cm.Messages()
	if !contains(refreshed[len(refreshed)-1].Content, "[x] t1") {
		t.Error("recitation should reflect current task status")
	}

	cm.ClearPlan()
	if got := cm.Messages(); len(got) != 2 {
		t.Error("clearing the plan removes the recitation")
	}
}

func TestContextManagerReplace(t *testing.T) {
	cm := NewContextManager("system")
	for i := 0; i < 10; i++ {
		cm.AddUser("filler")
	}
	cm.Replace([]protocol.Message{
		protocol.SystemMessage("system"),
		protocol.UserMessage("summary of earlier turns"),
	})
	if cm.Len() != 2 {
		t.Errorf("replace should swap the transcript, got %d messages", cm.Len())
	}
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
