package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/striderlabs/strider/pkg/failure"
)

func TestPolicy_DelayCurves(t *testing.T) {
	linear := Policy{Strategy: StrategyLinear, InitialDelay: time.Second, MaxDelay: time.Minute}
	linear.SetDefaults()
	if got := linear.Delay(3); got != 3*time.Second {
		t.Errorf("linear Delay(3) = %v, want 3s", got)
	}

	exp := Policy{Strategy: StrategyExponential, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2}
	exp.SetDefaults()
	if got := exp.Delay(3); got != 4*time.Second {
		t.Errorf("exponential Delay(3) = %v, want 4s", got)
	}

	capped := Policy{Strategy: StrategyExponential, InitialDelay: time.Second, MaxDelay: 3 * time.Second, BackoffFactor: 10}
	capped.SetDefaults()
	if got := capped.Delay(5); got != 3*time.Second {
		t.Errorf("capped Delay(5) = %v, want 3s", got)
	}

	jitter := Policy{Strategy: StrategyExponentialJitter, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2, JitterFactor: 0.5}
	jitter.SetDefaults()
	for i := 0; i < 20; i++ {
		d := jitter.Delay(1)
		if d < time.Second || d > 1500*time.Millisecond {
			t.Fatalf("jitter Delay(1) = %v, want [1s, 1.5s]", d)
		}
	}
}

func TestExecutor_RetriesUntilSuccess(t *testing.T) {
	ex := NewExecutor(nil)
	calls := 0
	op := func(ctx context.Context) (any, *failure.Signal, error) {
		calls++
		if calls < 3 {
			return nil, failure.New(failure.SourceTool, failure.TypeNetworkError, failure.ExitRetryable, "down"), errors.New("down")
		}
		return "ok", nil, nil
	}

	policy := Policy{MaxRetries: 5, Strategy: StrategyImmediate}
	policy.SetDefaults()
	res := ex.Execute(context.Background(), policy, op)

	if !res.Success || res.Value != "ok" {
		t.Fatalf("result = %+v", res)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
}

func TestExecutor_NonRetryableStopsImmediately(t *testing.T) {
	ex := NewExecutor(nil)
	calls := 0
	op := func(ctx context.Context) (any, *failure.Signal, error) {
		calls++
		return nil, failure.New(failure.SourceTool, failure.TypeInvalidParams, failure.ExitRetryable, "bad args"), errors.New("bad args")
	}

	res := ex.Execute(context.Background(), PolicyFor(failure.TypeNetworkError), op)
	if res.Success || calls != 1 {
		t.Errorf("success=%v calls=%d, want failure after 1 call", res.Success, calls)
	}
	if res.LastSignal == nil || res.LastSignal.Type != failure.TypeInvalidParams {
		t.Errorf("last signal = %+v", res.LastSignal)
	}
}

func TestExecutor_RetryableTypesFilter(t *testing.T) {
	ex := NewExecutor(nil)
	calls := 0
	op := func(ctx context.Context) (any, *failure.Signal, error) {
		calls++
		return nil, failure.New(failure.SourceTool, failure.TypeTimeout, failure.ExitRetryable, "slow"), errors.New("slow")
	}

	policy := Policy{
		MaxRetries:     3,
		Strategy:       StrategyImmediate,
		RetryableTypes: []failure.Type{failure.TypeNetworkError},
	}
	policy.SetDefaults()
	res := ex.Execute(context.Background(), policy, op)
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (timeout not in retryable set)", calls)
	}
	if res.Success {
		t.Error("expected failure")
	}
}

func TestExecutor_ObserverThreeStrikeStopsRetries(t *testing.T) {
	obs := failure.NewObserver(nil)
	// Two prior strikes for the same tool.
	for i := 0; i < 2; i++ {
		obs.Observe(failure.New(failure.SourceTool, failure.TypeNetworkError, failure.ExitRetryable, "x").WithTool("read_url", nil))
	}

	ex := NewExecutor(obs)
	calls := 0
	op := func(ctx context.Context) (any, *failure.Signal, error) {
		calls++
		sig := failure.New(failure.SourceTool, failure.TypeNetworkError, failure.ExitRetryable, "x").WithTool("read_url", nil)
		return nil, sig, errors.New("x")
	}

	policy := Policy{MaxRetries: 10, Strategy: StrategyImmediate}
	policy.SetDefaults()
	res := ex.Execute(context.Background(), policy, op)

	if calls != 1 {
		t.Errorf("calls = %d, want 1: third strike must stop the retry loop", calls)
	}
	if res.Success {
		t.Error("expected failure")
	}
}

func TestExecutor_Fallback(t *testing.T) {
	ex := NewExecutor(nil)
	primary := func(ctx context.Context) (any, *failure.Signal, error) {
		return nil, failure.New(failure.SourceTool, failure.TypePermissionDenied, failure.ExitRetryable, "no"), errors.New("no")
	}
	fallback := func(ctx context.Context) (any, *failure.Signal, error) {
		return 42, nil, nil
	}

	policy := Policy{MaxRetries: 2, Strategy: StrategyImmediate}
	policy.SetDefaults()
	res := ex.ExecuteWithFallback(context.Background(), policy, primary, fallback)

	if !res.Success || res.Value != 42 {
		t.Fatalf("result = %+v", res)
	}
	if res.Attempts != 2 {
		t.Errorf("merged attempts = %d, want 2", res.Attempts)
	}
}

func TestPolicyFor_Presets(t *testing.T) {
	rl := PolicyFor(failure.TypeRateLimited)
	if rl.MaxRetries < 3 || rl.InitialDelay < time.Second || rl.JitterFactor < 0.3 {
		t.Errorf("rate-limited preset too aggressive: %+v", rl)
	}
	pd := PolicyFor(failure.TypePermissionDenied)
	if pd.MaxRetries != 0 || pd.Strategy != StrategyNone {
		t.Errorf("permission-denied preset must not retry: %+v", pd)
	}
	nf := PolicyFor(failure.TypeResourceNotFound)
	if nf.MaxRetries != 1 {
		t.Errorf("not-found preset retries %d times, want 1", nf.MaxRetries)
	}
}

func TestExecutor_ContextCancellation(t *testing.T) {
	ex := NewExecutor(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op := func(ctx context.Context) (any, *failure.Signal, error) {
		t.Fatal("operation must not run with cancelled context")
		return nil, nil, nil
	}
	res := ex.Execute(ctx, PolicyFor(failure.TypeNetworkError), op)
	if res.Success || !errors.Is(res.Err, context.Canceled) {
		t.Errorf("result = %+v", res)
	}
}
