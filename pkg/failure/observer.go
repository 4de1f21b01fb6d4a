package failure

import (
	"log/slog"
	"sync"
)

// StrikeThreshold is the number of same-type or same-tool failures within
// the summary window that triggers the 3-strike rule.
const StrikeThreshold = 3

// ProgressWriter receives one formatted line per observed failure. The
// scratchpad's progress file implements this (Keep-the-Failures rule).
type ProgressWriter interface {
	UpdateProgress(entry string, isError bool) error
}

// Callback is invoked for every observed non-success signal. Callbacks are
// best-effort: panics are recovered and logged, never propagated.
type Callback func(sig *Signal)

// Statistics summarises everything the observer has seen.
type Statistics struct {
	Total        int            `json:"total"`
	Failures     int            `json:"failures"`
	ByType       map[Type]int   `json:"by_type"`
	ByTool       map[string]int `json:"by_tool"`
	StrikesFired int            `json:"strikes_fired"`
}

// Observer watches every invocation outcome for a session. All signals go
// into the full history (for statistics and later learning); only
// non-success ones enter the bounded summary that drives the 3-strike rule.
type Observer struct {
	mu        sync.Mutex
	history   []*Signal
	summary   *Summary
	progress  ProgressWriter
	callbacks []Callback
	strikes   int
	enabled   bool
}

// NewObserver creates an observer. progress may be nil when no scratchpad
// is attached (the inner task executor shares the engine's observer, so
// in practice there is one progress writer per session).
func NewObserver(progress ProgressWriter) *Observer {
	return &Observer{
		summary:  NewSummary(DefaultSummaryWindow),
		progress: progress,
		enabled:  true,
	}
}

// SetThreeStrikeEnabled gates the 3-strike stop condition.
func (o *Observer) SetThreeStrikeEnabled(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled = enabled
}

// OnFailure registers a callback invoked for each non-success signal.
func (o *Observer) OnFailure(cb Callback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = append(o.callbacks, cb)
}

// Observe records an invocation outcome. Non-success signals are appended
// to the progress log, added to the summary window and fanned out to
// callbacks.
func (o *Observer) Observe(sig *Signal) {
	if sig == nil {
		return
	}

	o.mu.Lock()
	o.history = append(o.history, sig)
	if !sig.IsSuccess() {
		o.summary.Add(sig)
		if o.isStruckLocked(sig) {
			o.strikes++
		}
	}
	callbacks := o.callbacks
	progress := o.progress
	o.mu.Unlock()

	if sig.IsSuccess() {
		return
	}

	if progress != nil {
		if err := progress.UpdateProgress(sig.String(), true); err != nil {
			slog.Warn("failed to write failure to progress log", "error", err)
		}
	}

	for _, cb := range callbacks {
		o.invoke(cb, sig)
	}
}

func (o *Observer) invoke(cb Callback, sig *Signal) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("failure callback panicked", "panic", r)
		}
	}()
	cb(sig)
}

// isStruckLocked evaluates the 3-strike rule for a signal. Caller holds mu.
func (o *Observer) isStruckLocked(sig *Signal) bool {
	if !o.enabled {
		return false
	}
	if o.summary.SameTypeCount(sig.Type) >= StrikeThreshold {
		return true
	}
	return o.summary.SameToolCount(sig.Tool) >= StrikeThreshold
}

// ShouldStopRetry reports whether retrying after this signal is pointless:
// the exit code is fatal, or the 3-strike rule fired for its type or tool.
func (o *Observer) ShouldStopRetry(sig *Signal) bool {
	if sig == nil {
		return false
	}
	if sig.ExitCode == ExitFatal {
		return true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isStruckLocked(sig)
}

// Struck reports whether the 3-strike rule has fired for this signal's
// type or tool, independent of the signal's own exit code.
func (o *Observer) Struck(sig *Signal) bool {
	if sig == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isStruckLocked(sig)
}

// SummaryText returns the current failure window rendered for prompt
// injection, empty when nothing failed recently.
func (o *Observer) SummaryText() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary.Text()
}

// Statistics returns aggregate counts over the full history.
func (o *Observer) Statistics() Statistics {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats := Statistics{
		ByType:       make(map[Type]int),
		ByTool:       make(map[string]int),
		StrikesFired: o.strikes,
	}
	for _, sig := range o.history {
		stats.Total++
		if sig.IsSuccess() {
			continue
		}
		stats.Failures++
		stats.ByType[sig.Type]++
		if sig.Tool != "" {
			stats.ByTool[sig.Tool]++
		}
	}
	return stats
}

// DominantType returns the most frequent failure type observed, or
// TypeUnknown when nothing failed. Used for the final FAILED response.
func (o *Observer) DominantType() Type {
	stats := o.Statistics()
	best := TypeUnknown
	bestCount := 0
	for typ, count := range stats.ByType {
		if count > bestCount {
			best, bestCount = typ, count
		}
	}
	return best
}

// Clear resets the summary window and history. After Clear the 3-strike
// rule cannot fire until three new failures accumulate.
func (o *Observer) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = nil
	o.summary.Clear()
	o.strikes = 0
}

// RecentSignals returns up to n most recent non-success signals, oldest
// first. Used by checkpointing.
func (o *Observer) RecentSignals(n int) []*Signal {
	o.mu.Lock()
	defer o.mu.Unlock()
	sigs := o.summary.Signals()
	if n > 0 && len(sigs) > n {
		sigs = sigs[len(sigs)-n:]
	}
	return sigs
}

// Restore reloads a failure window captured by a checkpoint.
func (o *Observer) Restore(sigs []*Signal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summary.Clear()
	for _, sig := range sigs {
		o.history = append(o.history, sig)
		o.summary.Add(sig)
	}
}
