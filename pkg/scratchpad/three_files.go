package scratchpad

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
)

const (
	fileTaskPlan = "task_plan.md"
	fileFindings = "findings.md"
	fileProgress = "progress.md"

	// actionReminderEvery is the 2-Action Rule: after every two
	// search-style tool calls, remind the model to record findings.
	actionReminderEvery = 2

	// errorRereadThreshold is the rolling per-type error count at which
	// the engine should inject a re-read-the-plan recovery prompt.
	errorRereadThreshold = 3
)

// searchStyleTools are the tools whose calls count toward the 2-Action Rule.
var searchStyleTools = map[string]bool{
	"web_search": true,
	"read_url":   true,
}

// ErrorRecord is the result of recording an error in the progress log.
type ErrorRecord struct {
	Count            int
	ShouldRereadPlan bool
}

// ThreeFiles is the durable scratchpad of one session. Progress is
// append-only: writers never rewrite prior lines.
type ThreeFiles struct {
	mu        sync.Mutex
	fs        Filesystem
	sessionID string

	actionCount int
	errorCounts map[string]int
}

// NewThreeFiles creates the scratchpad for a session on the given storage.
func NewThreeFiles(fs Filesystem, sessionID string) *ThreeFiles {
	return &ThreeFiles{
		fs:          fs,
		sessionID:   sessionID,
		errorCounts: make(map[string]int),
	}
}

func (t *ThreeFiles) path(name string) string {
	return path.Join("sessions", t.sessionID, name)
}

// WriteTaskPlan replaces the stable plan text.
func (t *ThreeFiles) WriteTaskPlan(content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fs.Write(t.path(fileTaskPlan), []byte(content))
}

// AppendFindings appends evidence to the findings file.
func (t *ThreeFiles) AppendFindings(entry string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.append(fileFindings, entry)
}

// UpdateProgress appends one entry to the progress log. Error entries keep
// their ❌ prefix so failures stay visible to later iterations.
func (t *ThreeFiles) UpdateProgress(entry string, isError bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := entry
	if isError && !strings.HasPrefix(entry, "❌") {
		line = "❌ " + entry
	}
	return t.append(fileProgress, line)
}

func (t *ThreeFiles) append(name, entry string) error {
	p := t.path(name)
	var existing []byte
	if t.fs.Exists(p) {
		data, err := t.fs.Read(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		existing = data
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	line := fmt.Sprintf("- [%s] %s\n", stamp, entry)
	return t.fs.Write(p, append(existing, []byte(line)...))
}

// ReadTaskPlan returns the current plan text, empty when none was written.
func (t *ThreeFiles) ReadTaskPlan() string { return t.read(fileTaskPlan) }

// ReadFindings returns the accumulated findings.
func (t *ThreeFiles) ReadFindings() string { return t.read(fileFindings) }

// ReadProgress returns the full progress log.
func (t *ThreeFiles) ReadProgress() string { return t.read(fileProgress) }

func (t *ThreeFiles) read(name string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.path(name)
	if !t.fs.Exists(p) {
		return ""
	}
	data, err := t.fs.Read(p)
	if err != nil {
		return ""
	}
	return string(data)
}

// RecordError logs an error to progress and bumps the rolling count for its
// type. When the count for one type crosses the threshold the caller should
// inject a recovery prompt telling the model to re-read the plan.
func (t *ThreeFiles) RecordError(errorType, message string) ErrorRecord {
	t.mu.Lock()
	t.errorCounts[errorType]++
	count := t.errorCounts[errorType]
	t.mu.Unlock()

	// Best effort: the count is authoritative even if the write fails.
	_ = t.UpdateProgress(fmt.Sprintf("error (%s): %s", errorType, message), true)

	return ErrorRecord{
		Count:            count,
		ShouldRereadPlan: count >= errorRereadThreshold,
	}
}

// RecordAction notes a tool call and reports whether the engine should
// remind the model to record findings (2-Action Rule: every second
// search-style call). Counters are per session and reset with the session.
func (t *ThreeFiles) RecordAction(toolName string) bool {
	if !searchStyleTools[toolName] {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actionCount++
	return t.actionCount%actionReminderEvery == 0
}

// Snapshot returns the current content of all three files, used by the
// checkpoint manager.
func (t *ThreeFiles) Snapshot() (taskPlan, findings, progress string) {
	return t.ReadTaskPlan(), t.ReadFindings(), t.ReadProgress()
}

// Restore rewrites all three files from a checkpoint snapshot.
func (t *ThreeFiles) Restore(taskPlan, findings, progress string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fs.Write(t.path(fileTaskPlan), []byte(taskPlan)); err != nil {
		return err
	}
	if err := t.fs.Write(t.path(fileFindings), []byte(findings)); err != nil {
		return err
	}
	return t.fs.Write(t.path(fileProgress), []byte(progress))
}
