// Package policy hosts the dynamic stop conditions and context compaction
// rules of the control loop: the iteration budget, the context compressor
// and the token budget advisor.
package policy

import (
	"fmt"
	"time"
)

// Stop reasons reported by the iteration policy.
const (
	ReasonFatalError    = "fatal_error"
	ReasonTimeBudget    = "time_budget_exceeded"
	ReasonMaxIterations = "max_iterations_reached"
	ReasonBudget        = "iteration_budget_exhausted"
)

// Default budgets.
const (
	DefaultBaseBudget    = 10
	DefaultMaxIterations = 30
	DefaultContextWindow = 128_000
)

// IterationConfig configures the dynamic iteration policy.
type IterationConfig struct {
	// BaseBudget is the floor of the adapted iteration budget.
	BaseBudget int
	// MaxIterations is the hard ceiling for the outer loop.
	MaxIterations int
	// AvailableTime bounds total elapsed wall time. Zero disables.
	AvailableTime time.Duration
	// ContextWindowLimit is the model context window in tokens.
	ContextWindowLimit int
}

// SetDefaults fills zero fields.
func (c *IterationConfig) SetDefaults() {
	if c.BaseBudget <= 0 {
		c.BaseBudget = DefaultBaseBudget
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxIterations < c.BaseBudget {
		c.MaxIterations = c.BaseBudget
	}
	if c.ContextWindowLimit <= 0 {
		c.ContextWindowLimit = DefaultContextWindow
	}
}

// IterationPolicy decides each outer iteration whether the loop continues.
// The budget adapts once, up front, to the task description length: longer
// tasks earn more iterations, clamped to [BaseBudget, MaxIterations].
type IterationPolicy struct {
	config IterationConfig
	budget int
}

// NewIterationPolicy creates the policy, computing the adapted budget from
// the task description.
func NewIterationPolicy(config IterationConfig, taskDescription string) *IterationPolicy {
	config.SetDefaults()

	// One extra iteration per 80 characters of task description.
	budget := config.BaseBudget + len(taskDescription)/80
	if budget > config.MaxIterations {
		budget = config.MaxIterations
	}

	return &IterationPolicy{config: config, budget: budget}
}

// Budget returns the adapted iteration budget.
func (p *IterationPolicy) Budget() int { return p.budget }

// ShouldContinue reports whether another iteration may run, with the stop
// reason when it may not.
func (p *IterationPolicy) ShouldContinue(iteration, tokensUsed int, hasFatalError bool, elapsed time.Duration) (bool, string) {
	if hasFatalError {
		return false, ReasonFatalError
	}
	if p.config.AvailableTime > 0 && elapsed >= p.config.AvailableTime {
		return false, ReasonTimeBudget
	}
	if iteration >= p.config.MaxIterations {
		return false, ReasonMaxIterations
	}
	if iteration >= p.budget {
		return false, fmt.Sprintf("%s (budget=%d)", ReasonBudget, p.budget)
	}
	return true, ""
}
