// Package plan provides the task DAG, its LLM-backed planner, the
// dependency-aware scheduler, and plan recitation for prompt injection.
package plan

import (
	"encoding/json"
	"strings"
	"time"
)

// Task status values.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// DefaultMaxRetries bounds per-task retry attempts.
const DefaultMaxRetries = 3

// Task is one node of a plan. Dependencies name other task IDs in the
// same plan; a task becomes ready when every dependency finished as
// success or skipped.
type Task struct {
	ID                 string
	Title              string
	Description        string
	AcceptanceCriteria string
	Dependencies       []string
	ToolsHint          []string
	IsOptional         bool

	Status     string
	Output     string
	Error      string
	RetryCount int
	MaxRetries int
	StartedAt  time.Time
	FinishedAt time.Time
}

// taskWire is the serialised shape of a task, shared by planner output
// and the plan events. Outcome details live under metadata.
type taskWire struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Status             string        `json:"status"`
	DependsOn          []string      `json:"dependsOn"`
	AcceptanceCriteria string        `json:"acceptanceCriteria"`
	ToolsHint          []string      `json:"toolsHint,omitempty"`
	IsOptional         bool          `json:"isOptional,omitempty"`
	Metadata           *taskMetadata `json:"metadata,omitempty"`
}

type taskMetadata struct {
	StartTime    int64  `json:"startTime,omitempty"`
	EndTime      int64  `json:"endTime,omitempty"`
	Duration     int64  `json:"duration,omitempty"`
	Output       string `json:"output,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	RetryCount   int    `json:"retryCount,omitempty"`
	MaxRetries   int    `json:"maxRetries,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (t *Task) MarshalJSON() ([]byte, error) {
	meta := &taskMetadata{
		Output:       t.Output,
		ErrorMessage: t.Error,
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
	}
	if !t.StartedAt.IsZero() {
		meta.StartTime = t.StartedAt.UnixMilli()
	}
	if !t.FinishedAt.IsZero() {
		meta.EndTime = t.FinishedAt.UnixMilli()
		if !t.StartedAt.IsZero() {
			meta.Duration = t.FinishedAt.Sub(t.StartedAt).Milliseconds()
		}
	}
	return json.Marshal(taskWire{
		ID:                 t.ID,
		Title:              t.Title,
		Description:        t.Description,
		Status:             t.Status,
		DependsOn:          t.Dependencies,
		AcceptanceCriteria: t.AcceptanceCriteria,
		ToolsHint:          t.ToolsHint,
		IsOptional:         t.IsOptional,
		Metadata:           meta,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Task) UnmarshalJSON(data []byte) error {
	var w taskWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.ID = w.ID
	t.Title = w.Title
	t.Description = w.Description
	t.Status = w.Status
	t.Dependencies = w.DependsOn
	t.AcceptanceCriteria = w.AcceptanceCriteria
	t.ToolsHint = w.ToolsHint
	t.IsOptional = w.IsOptional
	if t.Status == "" {
		t.Status = StatusPending
	}
	if w.Metadata != nil {
		t.Output = w.Metadata.Output
		t.Error = w.Metadata.ErrorMessage
		t.RetryCount = w.Metadata.RetryCount
		t.MaxRetries = w.Metadata.MaxRetries
		if w.Metadata.StartTime > 0 {
			t.StartedAt = time.UnixMilli(w.Metadata.StartTime).UTC()
		}
		if w.Metadata.EndTime > 0 {
			t.FinishedAt = time.UnixMilli(w.Metadata.EndTime).UTC()
		}
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	return nil
}

// NewTask creates a pending task with default retry bounds.
func NewTask(id, description string, deps ...string) *Task {
	return &Task{
		ID:           id,
		Description:  description,
		Dependencies: deps,
		Status:       StatusPending,
		MaxRetries:   DefaultMaxRetries,
	}
}

// Prompt renders the instruction block handed to the task's inner loop:
// title, description, acceptance criteria, and the suggested tools.
func (t *Task) Prompt() string {
	var b strings.Builder
	title := t.Title
	if title == "" {
		title = t.Description
	}
	b.WriteString("Task: " + title + "\n\n" + t.Description + "\n")
	if t.AcceptanceCriteria != "" {
		b.WriteString("\nAcceptance criteria: " + t.AcceptanceCriteria + "\n")
	}
	if len(t.ToolsHint) > 0 {
		b.WriteString("\nSuggested tools: " + strings.Join(t.ToolsHint, ", ") + "\n")
	}
	return b.String()
}

// IsTerminal reports whether the task reached a final status.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case StatusSuccess, StatusError, StatusSkipped:
		return true
	}
	return false
}

// Satisfied reports whether the task counts as a fulfilled dependency:
// success or skipped.
func (t *Task) Satisfied() bool {
	return t.Status == StatusSuccess || t.Status == StatusSkipped
}

// CanRetry reports whether another attempt is within bounds.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// ResetForRetry returns the task to pending for another attempt,
// incrementing the retry counter and clearing the previous outcome.
func (t *Task) ResetForRetry() {
	t.RetryCount++
	t.Status = StatusPending
	t.Output = ""
	t.Error = ""
	t.StartedAt = time.Time{}
	t.FinishedAt = time.Time{}
}

// MarkRunning transitions the task to running.
func (t *Task) MarkRunning() {
	t.Status = StatusRunning
	t.StartedAt = time.Now().UTC()
}

// MarkSuccess records a successful completion.
func (t *Task) MarkSuccess(output string) {
	t.Status = StatusSuccess
	t.Output = output
	t.FinishedAt = time.Now().UTC()
}

// MarkError records a failed completion.
func (t *Task) MarkError(errMsg string) {
	t.Status = StatusError
	t.Error = errMsg
	t.FinishedAt = time.Now().UTC()
}

// MarkSkipped records that the task was skipped.
func (t *Task) MarkSkipped(reason string) {
	t.Status = StatusSkipped
	t.Error = reason
	t.FinishedAt = time.Now().UTC()
}
