// Package checkpoint persists session state at a fixed iteration cadence
// so a crashed or interrupted session resumes instead of restarting. Only
// the newest few checkpoints are retained.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/striderlabs/strider/pkg/failure"
	"github.com/striderlabs/strider/pkg/logger"
	"github.com/striderlabs/strider/pkg/plan"
	"github.com/striderlabs/strider/pkg/protocol"
	"github.com/striderlabs/strider/pkg/scratchpad"
)

const (
	// DefaultInterval saves every N iterations.
	DefaultInterval = 5
	// DefaultRetain keeps the newest K checkpoints per session.
	DefaultRetain = 3
)

// State is everything needed to resume a session mid-run.
type State struct {
	SessionID  string             `json:"session_id"`
	Iteration  int                `json:"iteration"`
	AgentState string             `json:"agent_state"`
	CreatedAt  time.Time          `json:"created_at"`
	Messages   []protocol.Message `json:"messages"`
	Plan       *plan.Plan         `json:"plan,omitempty"`
	Signals    []*failure.Signal  `json:"signals,omitempty"`
	TaskPlan   string             `json:"task_plan,omitempty"`
	Findings   string             `json:"findings,omitempty"`
	Progress   string             `json:"progress,omitempty"`
	TokensIn   int                `json:"tokens_in"`
	TokensOut  int                `json:"tokens_out"`
}

// Manager saves and restores checkpoints on a filesystem.
type Manager struct {
	fs       scratchpad.Filesystem
	interval int
	retain   int
	logger   *slog.Logger
}

// NewManager creates a manager; non-positive interval or retain fall back
// to the defaults.
func NewManager(fs scratchpad.Filesystem, interval, retain int) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Manager{fs: fs, interval: interval, retain: retain, logger: logger.GetLogger()}
}

// ShouldCheckpoint reports whether this iteration is on the cadence.
func (m *Manager) ShouldCheckpoint(iteration int) bool {
	return iteration > 0 && iteration%m.interval == 0
}

func checkpointPath(sessionID string, iteration int) string {
	return fmt.Sprintf("checkpoints/%s/checkpoint_%06d.json", sessionID, iteration)
}

func sessionPrefix(sessionID string) string {
	return "checkpoints/" + sessionID
}

// Save persists the state and prunes checkpoints beyond the retention
// count, oldest first.
func (m *Manager) Save(state *State) error {
	if state.SessionID == "" {
		return fmt.Errorf("state has no session id")
	}
	state.CreatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	path := checkpointPath(state.SessionID, state.Iteration)
	if err := m.fs.Write(path, data); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	m.logger.Debug("checkpoint saved", "session", state.SessionID, "iteration", state.Iteration)

	return m.prune(state.SessionID)
}

func (m *Manager) prune(sessionID string) error {
	paths, err := m.fs.List(sessionPrefix(sessionID))
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	sort.Strings(paths)
	for len(paths) > m.retain {
		if err := m.fs.Remove(paths[0]); err != nil {
			return fmt.Errorf("failed to prune checkpoint: %w", err)
		}
		m.logger.Debug("checkpoint pruned", "path", paths[0])
		paths = paths[1:]
	}
	return nil
}

// List returns the retained checkpoint iterations for a session,
// ascending.
func (m *Manager) List(sessionID string) ([]int, error) {
	paths, err := m.fs.List(sessionPrefix(sessionID))
	if err != nil {
		return nil, err
	}
	var iterations []int
	for _, path := range paths {
		var iter int
		if _, err := fmt.Sscanf(path, sessionPrefix(sessionID)+"/checkpoint_%d.json", &iter); err == nil {
			iterations = append(iterations, iter)
		}
	}
	sort.Ints(iterations)
	return iterations, nil
}

// Latest loads the newest checkpoint for a session. Returns nil state
// without error when the session has none.
func (m *Manager) Latest(sessionID string) (*State, error) {
	iterations, err := m.List(sessionID)
	if err != nil {
		return nil, err
	}
	if len(iterations) == 0 {
		return nil, nil
	}
	return m.Load(sessionID, iterations[len(iterations)-1])
}

// Load reads one specific checkpoint. Restored plans are re-validated;
// corrupt blobs are an error, not a silent reset.
func (m *Manager) Load(sessionID string, iteration int) (*State, error) {
	data, err := m.fs.Read(checkpointPath(sessionID, iteration))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint: %w", err)
	}
	if state.Plan != nil {
		if err := state.Plan.Validate(); err != nil {
			return nil, fmt.Errorf("checkpoint carries an invalid plan: %w", err)
		}
	}
	return &state, nil
}
