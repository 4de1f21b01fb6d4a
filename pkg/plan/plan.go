package plan

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Plan is a validated DAG of tasks. Version starts at 1 and increments on
// every revision; task ordering follows the planner's output order.
type Plan struct {
	ID        string
	Goal      string
	Version   int
	Tasks     []*Task
	CreatedAt time.Time
	UpdatedAt time.Time

	byID map[string]*Task
}

// Progress summarises task statuses. Percentage counts completed and
// skipped tasks, so a finished plan reads 100.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Running    int `json:"running"`
	Skipped    int `json:"skipped"`
	Pending    int `json:"pending"`
	Percentage int `json:"percentage"`
}

// planWire is the serialised shape of a plan, shared by the PLAN_* events
// and checkpoint blobs. Timestamps are UTC epoch milliseconds.
type planWire struct {
	PlanID    string   `json:"planId"`
	Goal      string   `json:"goal"`
	Version   int      `json:"version"`
	Tasks     []*Task  `json:"tasks"`
	Progress  Progress `json:"progress"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

// MarshalJSON implements json.Marshaler.
func (p *Plan) MarshalJSON() ([]byte, error) {
	w := planWire{
		PlanID:   p.ID,
		Goal:     p.Goal,
		Version:  p.Version,
		Tasks:    p.Tasks,
		Progress: p.Progress(),
	}
	if !p.CreatedAt.IsZero() {
		w.CreatedAt = p.CreatedAt.UnixMilli()
	}
	if !p.UpdatedAt.IsZero() {
		w.UpdatedAt = p.UpdatedAt.UnixMilli()
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler, rebuilding the task index.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var w planWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.ID = w.PlanID
	p.Goal = w.Goal
	p.Version = w.Version
	p.Tasks = w.Tasks
	if w.CreatedAt > 0 {
		p.CreatedAt = time.UnixMilli(w.CreatedAt).UTC()
	}
	if w.UpdatedAt > 0 {
		p.UpdatedAt = time.UnixMilli(w.UpdatedAt).UTC()
	}
	p.byID = make(map[string]*Task, len(p.Tasks))
	for _, t := range p.Tasks {
		p.byID[t.ID] = t
	}
	return nil
}

// NewPlan builds and validates a plan. The ID is generated when empty.
func NewPlan(id, goal string, tasks []*Task) (*Plan, error) {
	if id == "" {
		id = GenerateID()
	}
	now := time.Now().UTC()
	p := &Plan{ID: id, Goal: goal, Version: 1, Tasks: tasks, CreatedAt: now, UpdatedAt: now}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// GenerateID returns a fresh plan identifier.
func GenerateID() string {
	return "plan_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Validate checks structural invariants: unique task IDs, dependencies
// that exist, no cycles, and at least one entry point.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}

	p.byID = make(map[string]*Task, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task has no id")
		}
		if _, dup := p.byID[t.ID]; dup {
			return fmt.Errorf("duplicate task id: %s", t.ID)
		}
		p.byID[t.ID] = t
	}

	entryPoints := 0
	for _, t := range p.Tasks {
		if len(t.Dependencies) == 0 {
			entryPoints++
		}
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return fmt.Errorf("task %s depends on itself", t.ID)
			}
			if _, ok := p.byID[dep]; !ok {
				return fmt.Errorf("task %s depends on unknown task %s", t.ID, dep)
			}
		}
	}
	if entryPoints == 0 {
		return fmt.Errorf("plan has no entry point: every task has dependencies")
	}

	return p.checkAcyclic()
}

// checkAcyclic runs a three-colour depth-first search: white unvisited,
// grey on the current path, black finished. A grey-to-grey edge is a
// cycle.
func (p *Plan) checkAcyclic() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	colour := make(map[string]int, len(p.Tasks))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch colour[id] {
		case grey:
			return fmt.Errorf("dependency cycle: %s", strings.Join(append(path, id), " -> "))
		case black:
			return nil
		}
		colour[id] = grey
		for _, dep := range p.byID[id].Dependencies {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		colour[id] = black
		return nil
	}

	for _, t := range p.Tasks {
		if err := visit(t.ID, nil); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a task by ID.
func (p *Plan) Get(id string) (*Task, bool) {
	t, ok := p.byID[id]
	return t, ok
}

// Ready returns pending tasks whose dependencies all finished as success
// or skipped, in plan order.
func (p *Plan) Ready() []*Task {
	var ready []*Task
	for _, t := range p.Tasks {
		if t.Status != StatusPending {
			continue
		}
		ok := true
		for _, dep := range t.Dependencies {
			if !p.byID[dep].Satisfied() {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready
}

// Done reports whether the plan is complete: every task finished as
// success or skipped. A task stuck in error leaves the plan incomplete.
func (p *Plan) Done() bool {
	for _, t := range p.Tasks {
		if t.Status != StatusSuccess && t.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// Succeeded reports whether every required task succeeded. Optional tasks
// may be skipped or failed.
func (p *Plan) Succeeded() bool {
	for _, t := range p.Tasks {
		if t.IsOptional {
			continue
		}
		if t.Status != StatusSuccess {
			return false
		}
	}
	return true
}

// Stuck reports whether no progress is possible: nothing is ready or
// running, yet the plan is not complete. A required task failing upstream
// leaves its dependents permanently pending.
func (p *Plan) Stuck() bool {
	if p.Done() {
		return false
	}
	for _, t := range p.Tasks {
		if t.Status == StatusRunning {
			return false
		}
	}
	return len(p.Ready()) == 0
}

// Progress tallies the plan's task statuses.
func (p *Plan) Progress() Progress {
	var pr Progress
	pr.Total = len(p.Tasks)
	for _, t := range p.Tasks {
		switch t.Status {
		case StatusSuccess:
			pr.Completed++
		case StatusError:
			pr.Failed++
		case StatusRunning:
			pr.Running++
		case StatusSkipped:
			pr.Skipped++
		default:
			pr.Pending++
		}
	}
	if pr.Total > 0 {
		pr.Percentage = (pr.Completed + pr.Skipped) * 100 / pr.Total
	}
	return pr
}

// Touch advances UpdatedAt, keeping it monotonic.
func (p *Plan) Touch() {
	if now := time.Now().UTC(); now.After(p.UpdatedAt) {
		p.UpdatedAt = now
	}
}

// Revise replaces the plan's remaining tasks with newTasks, keeping the
// outcomes of terminal tasks whose IDs carry over. The version
// increments; the revised plan is validated before it replaces anything.
func (p *Plan) Revise(newTasks []*Task) (*Plan, error) {
	revised := &Plan{
		ID:        p.ID,
		Goal:      p.Goal,
		Version:   p.Version + 1,
		Tasks:     newTasks,
		CreatedAt: p.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	if err := revised.Validate(); err != nil {
		return nil, fmt.Errorf("revised plan is invalid: %w", err)
	}

	for _, t := range revised.Tasks {
		if prev, ok := p.byID[t.ID]; ok && prev.IsTerminal() {
			t.Status = prev.Status
			t.Output = prev.Output
			t.Error = prev.Error
			t.RetryCount = prev.RetryCount
			t.StartedAt = prev.StartedAt
			t.FinishedAt = prev.FinishedAt
		}
	}
	return revised, nil
}
