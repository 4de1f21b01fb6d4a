package plan

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/striderlabs/strider/pkg/failure"
	"github.com/striderlabs/strider/pkg/logger"
)

// Replan decision actions.
const (
	ActionRetry  = "retry"
	ActionSkip   = "skip"
	ActionReplan = "replan"
	ActionAbort  = "abort"
	ActionHuman  = "human"
)

// MaxReplans caps plan revisions per session. Past the cap a stuck plan
// escalates to the user instead of cycling.
const MaxReplans = 3

// Decision says how the scheduler wants a failure handled.
type Decision struct {
	Action string
	Reason string
}

// Callbacks fire synchronously on task transitions, in the scheduler's
// locked context; keep them fast and do not call back into the scheduler.
type Callbacks struct {
	OnTaskStart    func(t *Task)
	OnTaskComplete func(t *Task)
	OnTaskFailed   func(t *Task, d Decision)
}

// Scheduler drives a plan through its task lifecycle and decides what to
// do about failures. All methods are safe for concurrent use; parallel
// task executors report back through Complete and Fail.
type Scheduler struct {
	mu          sync.Mutex
	plan        *Plan
	replanCount int
	callbacks   Callbacks
	logger      *slog.Logger
}

// NewScheduler wraps a validated plan.
func NewScheduler(p *Plan, cb Callbacks) *Scheduler {
	return &Scheduler{plan: p, callbacks: cb, logger: logger.GetLogger()}
}

// Plan returns the current plan (latest revision).
func (s *Scheduler) Plan() *Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// ReplanCount returns how many revisions have been applied.
func (s *Scheduler) ReplanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replanCount
}

// NextBatch claims every ready task, marks them running, and returns
// them. Callers execute the batch concurrently and report outcomes.
func (s *Scheduler) NextBatch() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := s.plan.Ready()
	for _, t := range ready {
		t.MarkRunning()
		if s.callbacks.OnTaskStart != nil {
			s.callbacks.OnTaskStart(t)
		}
	}
	if len(ready) > 0 {
		s.plan.Touch()
	}
	return ready
}

// Complete records a task success.
func (s *Scheduler) Complete(taskID, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.plan.Get(taskID)
	if !ok {
		return fmt.Errorf("unknown task: %s", taskID)
	}
	t.MarkSuccess(output)
	s.plan.Touch()
	if s.callbacks.OnTaskComplete != nil {
		s.callbacks.OnTaskComplete(t)
	}
	return nil
}

// Fail records a task failure and returns the decision: retry when the
// signal is retryable and attempts remain, skip for optional tasks, human
// when the signal demands user input, replan while revisions remain, and
// human again once the replan budget is spent.
func (s *Scheduler) Fail(taskID string, sig *failure.Signal) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.plan.Get(taskID)
	if !ok {
		return Decision{}, fmt.Errorf("unknown task: %s", taskID)
	}

	msg := "task failed"
	if sig != nil {
		msg = sig.Message
	}
	t.MarkError(msg)
	s.plan.Touch()

	d := s.decide(t, sig)
	s.logger.Info("task failure handled", "task", taskID, "action", d.Action, "reason", d.Reason)

	if d.Action == ActionRetry {
		t.ResetForRetry()
	}
	if s.callbacks.OnTaskFailed != nil {
		s.callbacks.OnTaskFailed(t, d)
	}
	return d, nil
}

func (s *Scheduler) decide(t *Task, sig *failure.Signal) Decision {
	if sig != nil && sig.NeedsUserIntervention() {
		return Decision{Action: ActionHuman, Reason: "task requires user input: " + sig.Message}
	}
	if sig != nil && sig.IsRetryable() && t.CanRetry() {
		return Decision{
			Action: ActionRetry,
			Reason: fmt.Sprintf("retryable failure, attempt %d of %d", t.RetryCount+1, t.MaxRetries),
		}
	}
	if t.IsOptional {
		return Decision{Action: ActionSkip, Reason: "optional task failed, continuing without it"}
	}
	if s.replanCount < MaxReplans {
		return Decision{
			Action: ActionReplan,
			Reason: fmt.Sprintf("required task %s exhausted retries, revising plan (%d/%d)", t.ID, s.replanCount+1, MaxReplans),
		}
	}
	return Decision{Action: ActionHuman, Reason: fmt.Sprintf("replan budget exhausted after task %s failed; user guidance needed", t.ID)}
}

// Skip marks a task skipped, typically after a skip decision.
func (s *Scheduler) Skip(taskID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.plan.Get(taskID)
	if !ok {
		return fmt.Errorf("unknown task: %s", taskID)
	}
	t.MarkSkipped(reason)
	s.plan.Touch()
	return nil
}

// ApplyRevision swaps in a revised plan produced by the planner. Fails
// once the replan budget is spent.
func (s *Scheduler) ApplyRevision(revised *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.replanCount >= MaxReplans {
		return fmt.Errorf("replan budget exhausted (%d)", MaxReplans)
	}
	if revised.ID != s.plan.ID {
		return fmt.Errorf("revision belongs to plan %s, scheduler holds %s", revised.ID, s.plan.ID)
	}
	s.plan = revised
	s.plan.Touch()
	s.replanCount++
	s.logger.Info("plan revised", "plan", revised.ID, "version", revised.Version)
	return nil
}

// Done reports whether the plan is complete: every task finished as
// success or skipped.
func (s *Scheduler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan.Done()
}

// Stuck reports whether the plan can make no further progress.
func (s *Scheduler) Stuck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan.Stuck()
}
