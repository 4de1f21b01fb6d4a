package failure

import (
	"fmt"
	"strings"
)

// DefaultSummaryWindow is the number of recent non-success signals retained.
const DefaultSummaryWindow = 5

// Summary is a bounded ring of the most recent non-success signals. It is
// the window over which the 3-strike rule is evaluated.
type Summary struct {
	window  int
	signals []*Signal
}

// NewSummary creates a summary retaining at most window signals. A window
// of zero or less uses DefaultSummaryWindow.
func NewSummary(window int) *Summary {
	if window <= 0 {
		window = DefaultSummaryWindow
	}
	return &Summary{window: window}
}

// Add appends a non-success signal, evicting the oldest when full.
// Successful signals are ignored.
func (s *Summary) Add(sig *Signal) {
	if sig == nil || sig.IsSuccess() {
		return
	}
	s.signals = append(s.signals, sig)
	if len(s.signals) > s.window {
		s.signals = s.signals[len(s.signals)-s.window:]
	}
}

// Len returns the number of retained signals.
func (s *Summary) Len() int { return len(s.signals) }

// SameTypeCount counts retained signals with the given failure type.
func (s *Summary) SameTypeCount(typ Type) int {
	count := 0
	for _, sig := range s.signals {
		if sig.Type == typ {
			count++
		}
	}
	return count
}

// SameToolCount counts retained signals originating from the given tool.
func (s *Summary) SameToolCount(tool string) int {
	if tool == "" {
		return 0
	}
	count := 0
	for _, sig := range s.signals {
		if sig.Tool == tool {
			count++
		}
	}
	return count
}

// Clear drops all retained signals.
func (s *Summary) Clear() { s.signals = nil }

// Signals returns a copy of the retained signals, oldest first.
func (s *Summary) Signals() []*Signal {
	out := make([]*Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

// Text renders the window as a short block for prompt injection.
func (s *Summary) Text() string {
	if len(s.signals) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Recent failures (%d):\n", len(s.signals)))
	for _, sig := range s.signals {
		b.WriteString("- ")
		b.WriteString(sig.String())
		b.WriteString("\n")
	}
	return b.String()
}
