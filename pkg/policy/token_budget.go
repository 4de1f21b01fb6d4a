package policy

import "sync"

// TokenBudget tracks cumulative token usage for a session and advises the
// compressor when to switch to summary mode. It is advisory only: the
// counts come from LLM usage metadata, which may lag reality.
type TokenBudget struct {
	mu            sync.Mutex
	inputTokens   int
	outputTokens  int
	windowLimit   int
	reservedRatio float64
}

// NewTokenBudget creates a budget for the given window. reservedRatio is
// the fraction of the window held back for the final answer; when usage
// eats into the reserve, summary mode is advised. Zero means 0.25.
func NewTokenBudget(windowLimit int, reservedRatio float64) *TokenBudget {
	if windowLimit <= 0 {
		windowLimit = 128_000
	}
	if reservedRatio <= 0 || reservedRatio >= 1 {
		reservedRatio = 0.25
	}
	return &TokenBudget{windowLimit: windowLimit, reservedRatio: reservedRatio}
}

// Add records usage from one LLM call.
func (b *TokenBudget) Add(input, output int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputTokens += input
	b.outputTokens += output
}

// Usage returns cumulative input and output token counts.
func (b *TokenBudget) Usage() (input, output int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputTokens, b.outputTokens
}

// Total returns the cumulative total.
func (b *TokenBudget) Total() int {
	in, out := b.Usage()
	return in + out
}

// ShouldSwitchToSummaryMode reports whether usage has breached the
// reserved portion of the window.
func (b *TokenBudget) ShouldSwitchToSummaryMode() bool {
	usable := float64(b.windowLimit) * (1 - b.reservedRatio)
	return float64(b.Total()) >= usable
}

// Reset clears the counters (used when the context is rewritten).
func (b *TokenBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputTokens = 0
	b.outputTokens = 0
}
