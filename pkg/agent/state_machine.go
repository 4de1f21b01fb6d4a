// Package agent contains the control loop: the state machine, the
// conversation context manager, the per-task execution loop, answer
// synthesis, and the engine that ties the runtime together.
package agent

import (
	"sync"
	"time"
)

// State names the phases of the outer control loop.
type State string

const (
	StateInit           State = "INIT"
	StateParsingIntent  State = "PARSING_INTENT"
	StatePlanning       State = "PLANNING"
	StateReasoning      State = "REASONING"
	StateToolCalling    State = "TOOL_CALLING"
	StateObserving      State = "OBSERVING"
	StateReflecting     State = "REFLECTING"
	StateReplanning     State = "REPLANNING"
	StateWaitingConfirm State = "WAITING_CONFIRM"
	StateSuccess        State = "SUCCESS"
	StateFailed         State = "FAILED"
	StateTimeout        State = "TIMEOUT"
	StateCancelled      State = "CANCELLED"
)

// Signal labels the edges of the state machine.
type Signal string

const (
	SignalUserMessage    Signal = "USER_MESSAGE_RECEIVED"
	SignalIntentClear    Signal = "INTENT_CLEAR"
	SignalIntentUnclear  Signal = "INTENT_UNCLEAR"
	SignalPlanReady      Signal = "PLAN_READY"
	SignalNeedTool       Signal = "NEED_TOOL"
	SignalToolSuccess    Signal = "TOOL_SUCCESS"
	SignalToolFailed     Signal = "TOOL_FAILED"
	SignalReflectionDone Signal = "REFLECTION_DONE"
	SignalReplanReady    Signal = "REPLAN_READY"
	SignalUserConfirmed  Signal = "USER_CONFIRMED"
	SignalTaskComplete   Signal = "TASK_COMPLETE"
	SignalMaxIterations  Signal = "MAX_ITERATIONS"
	SignalExitSuccess    Signal = "EXIT_CODE_SUCCESS"
	SignalExitFailure    Signal = "EXIT_CODE_FAILURE"
)

// terminalStates have no outgoing edges; a session ends in one of them.
var terminalStates = map[State]bool{
	StateSuccess:   true,
	StateFailed:    true,
	StateTimeout:   true,
	StateCancelled: true,
}

// transitions is the fixed edge table, keyed by (state, signal). Any pair
// not listed is a no-op: the machine stays put rather than entering an
// undefined state.
var transitions = map[State]map[Signal]State{
	StateInit: {
		SignalUserMessage: StateParsingIntent,
	},
	StateParsingIntent: {
		SignalIntentClear:   StatePlanning,
		SignalIntentUnclear: StateReasoning,
	},
	StatePlanning: {
		SignalPlanReady:   StateReasoning,
		SignalExitFailure: StateFailed,
	},
	StateReasoning: {
		SignalNeedTool:      StateToolCalling,
		SignalToolFailed:    StateReflecting,
		SignalIntentUnclear: StateWaitingConfirm,
		SignalTaskComplete:  StateSuccess,
		SignalMaxIterations: StateTimeout,
		SignalExitSuccess:   StateSuccess,
		SignalExitFailure:   StateFailed,
	},
	StateToolCalling: {
		SignalToolSuccess: StateObserving,
		SignalToolFailed:  StateReflecting,
	},
	StateObserving: {
		SignalToolSuccess:   StateReasoning,
		SignalToolFailed:    StateReflecting,
		SignalIntentUnclear: StateWaitingConfirm,
		SignalTaskComplete:  StateSuccess,
		SignalMaxIterations: StateTimeout,
		SignalExitSuccess:   StateSuccess,
		SignalExitFailure:   StateFailed,
	},
	StateReflecting: {
		SignalReflectionDone: StateReplanning,
		SignalExitFailure:    StateFailed,
	},
	StateReplanning: {
		SignalReplanReady: StateReasoning,
		SignalExitFailure: StateFailed,
	},
	StateWaitingConfirm: {
		SignalUserConfirmed: StateReasoning,
		SignalExitFailure:   StateFailed,
	},
}

// maxHistory bounds the transition log.
const maxHistory = 100

// Transition is one recorded state change.
type Transition struct {
	From   State
	Signal Signal
	To     State
	At     time.Time
}

// Machine is the session state machine. It starts in INIT and advances on
// signals; terminal states absorb every signal.
type Machine struct {
	mu      sync.Mutex
	current State
	history []Transition
}

// NewMachine creates a machine in INIT.
func NewMachine() *Machine {
	return &Machine{current: StateInit}
}

// Current returns the active state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition advances on sig when the (state, signal) pair is defined.
// Undefined pairs return false and leave the state unchanged.
func (m *Machine) Transition(sig Signal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := transitions[m.current][sig]
	if !ok {
		return false
	}
	m.record(Transition{From: m.current, Signal: sig, To: next, At: time.Now().UTC()})
	m.current = next
	return true
}

// IsTerminal reports whether the machine reached a terminal state.
func (m *Machine) IsTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return terminalStates[m.current]
}

// Cancel forces the machine into CANCELLED. Cancellation arrives out of
// band rather than as a signal, so the jump bypasses the edge table; a
// machine already in a terminal state stays where it is.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if terminalStates[m.current] {
		return
	}
	m.record(Transition{From: m.current, To: StateCancelled, At: time.Now().UTC()})
	m.current = StateCancelled
}

// Reset returns the machine to INIT and clears the history.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = StateInit
	m.history = nil
}

// History returns a copy of the recorded transitions.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Machine) record(t Transition) {
	m.history = append(m.history, t)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}
