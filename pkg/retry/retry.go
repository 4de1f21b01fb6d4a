// Package retry executes operations under a configurable backoff policy.
// Policies are keyed to failure classes: rate limits wait longer and retry
// more, permission and parameter errors never retry.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/striderlabs/strider/pkg/failure"
)

// Strategy selects the delay curve between attempts.
type Strategy string

const (
	StrategyNone              Strategy = "none"
	StrategyImmediate         Strategy = "immediate"
	StrategyLinear            Strategy = "linear"
	StrategyExponential       Strategy = "exponential"
	StrategyExponentialJitter Strategy = "exponential_jitter"
)

// Policy configures retry behavior for one class of operation.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Strategy selects the delay curve. StrategyNone disables retries.
	Strategy Strategy
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// BackoffFactor is the multiplier for exponential strategies.
	BackoffFactor float64
	// JitterFactor in [0,1] scales the random component added by
	// StrategyExponentialJitter: delay += delay * JitterFactor * U(0,1).
	JitterFactor float64
	// RetryableTypes restricts retries to the listed failure types.
	// Empty means any retryable failure.
	RetryableTypes []failure.Type
}

// SetDefaults fills zero fields with sane values.
func (p *Policy) SetDefaults() {
	if p.Strategy == "" {
		p.Strategy = StrategyExponentialJitter
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 2.0
	}
	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		p.JitterFactor = 0.2
	}
}

// Delay computes the wait before retry attempt n (1-based), capped at
// MaxDelay.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch p.Strategy {
	case StrategyNone, StrategyImmediate:
		return 0
	case StrategyLinear:
		d = time.Duration(attempt) * p.InitialDelay
	case StrategyExponential, StrategyExponentialJitter:
		d = p.InitialDelay
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.BackoffFactor)
			if d > p.MaxDelay {
				break
			}
		}
	default:
		d = p.InitialDelay
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Strategy == StrategyExponentialJitter && p.JitterFactor > 0 {
		d += time.Duration(float64(d) * p.JitterFactor * rand.Float64())
		if d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	return d
}

// shouldRetry decides whether another attempt is allowed after a failure.
func (p *Policy) shouldRetry(attempt int, sig *failure.Signal) bool {
	if p.Strategy == StrategyNone {
		return false
	}
	if attempt >= p.MaxRetries {
		return false
	}
	if sig == nil || !sig.IsRetryable() {
		return false
	}
	if len(p.RetryableTypes) == 0 {
		return true
	}
	for _, t := range p.RetryableTypes {
		if sig.Type == t {
			return true
		}
	}
	return false
}

// PolicyFor returns the preset policy for a failure type.
func PolicyFor(typ failure.Type) Policy {
	var p Policy
	switch typ {
	case failure.TypeRateLimited:
		p = Policy{
			MaxRetries:    5,
			Strategy:      StrategyExponentialJitter,
			InitialDelay:  5 * time.Second,
			MaxDelay:      2 * time.Minute,
			BackoffFactor: 2.0,
			JitterFactor:  0.5,
		}
	case failure.TypePermissionDenied, failure.TypeInvalidParams:
		p = Policy{MaxRetries: 0, Strategy: StrategyNone}
	case failure.TypeResourceNotFound:
		p = Policy{MaxRetries: 1, Strategy: StrategyImmediate}
	case failure.TypeTimeout:
		p = Policy{
			MaxRetries:    2,
			Strategy:      StrategyLinear,
			InitialDelay:  2 * time.Second,
			MaxDelay:      10 * time.Second,
			BackoffFactor: 1.0,
		}
	case failure.TypeNetworkError:
		p = Policy{
			MaxRetries:    3,
			Strategy:      StrategyExponentialJitter,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
			JitterFactor:  0.3,
		}
	default:
		p = Policy{
			MaxRetries:    2,
			Strategy:      StrategyExponential,
			InitialDelay:  time.Second,
			MaxDelay:      15 * time.Second,
			BackoffFactor: 2.0,
		}
	}
	p.SetDefaults()
	return p
}

// Operation is one attempt of the work being retried. The returned signal
// classifies the failure when err is non-nil; a nil signal is derived from
// the error message.
type Operation func(ctx context.Context) (any, *failure.Signal, error)

// Result is the outcome of a retried operation.
type Result struct {
	Success    bool
	Value      any
	Err        error
	Attempts   int
	TotalDelay time.Duration
	LastSignal *failure.Signal
}

// Executor retries operations and reports each outcome to an optional
// observer (so retries count toward the 3-strike rule).
type Executor struct {
	observer *failure.Observer
}

// NewExecutor creates an executor. observer may be nil.
func NewExecutor(observer *failure.Observer) *Executor {
	return &Executor{observer: observer}
}

// Execute runs op under the policy until it succeeds, the policy is
// exhausted, the observer calls a stop, or ctx is done.
func (e *Executor) Execute(ctx context.Context, policy Policy, op Operation) Result {
	policy.SetDefaults()

	var res Result
	for attempt := 0; ; attempt++ {
		res.Attempts = attempt + 1

		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		value, sig, err := op(ctx)
		if err == nil {
			res.Success = true
			res.Value = value
			res.Err = nil
			return res
		}

		if sig == nil {
			sig = failure.New(failure.SourceSystem, failure.ClassifyError(err.Error()),
				failure.ExitRetryable, err.Error())
		}
		res.Err = err
		res.LastSignal = sig

		if e.observer != nil {
			e.observer.Observe(sig)
			if e.observer.ShouldStopRetry(sig) {
				return res
			}
		}

		if !policy.shouldRetry(attempt, sig) {
			return res
		}

		delay := policy.Delay(attempt + 1)
		res.TotalDelay += delay
		if delay > 0 {
			select {
			case <-ctx.Done():
				res.Err = ctx.Err()
				return res
			case <-time.After(delay):
			}
		}
	}
}

// ExecuteWithFallback tries primary under its policy and, if it fails,
// fallback under the same policy. Attempt counts and delays are merged.
func (e *Executor) ExecuteWithFallback(ctx context.Context, policy Policy, primary, fallback Operation) Result {
	res := e.Execute(ctx, policy, primary)
	if res.Success {
		return res
	}

	fb := e.Execute(ctx, policy, fallback)
	fb.Attempts += res.Attempts
	fb.TotalDelay += res.TotalDelay
	if !fb.Success && fb.LastSignal == nil {
		fb.LastSignal = res.LastSignal
	}
	return fb
}
