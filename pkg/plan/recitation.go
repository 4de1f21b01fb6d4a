package plan

import (
	"fmt"
	"strings"
)

// Recite renders the plan as a markdown checklist for prompt injection.
// Recent work drifts out of the model's attention on long sessions;
// repeating the plan keeps the goal anchored.
func Recite(p *Plan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Current Plan (v%d): %s\n\n", p.Version, p.Goal)

	for _, t := range p.Tasks {
		mark := " "
		suffix := ""
		switch t.Status {
		case StatusSuccess:
			mark = "x"
		case StatusRunning:
			suffix = " (in progress)"
			if t.AcceptanceCriteria != "" {
				suffix += "\n  done when: " + t.AcceptanceCriteria
			}
		case StatusError:
			mark = "!"
			suffix = fmt.Sprintf(" (failed: %s)", t.Error)
		case StatusSkipped:
			mark = "-"
			suffix = " (skipped)"
		}
		fmt.Fprintf(&sb, "- [%s] %s: %s%s\n", mark, t.ID, t.Description, suffix)
	}

	prog := p.Progress()
	fmt.Fprintf(&sb, "\nProgress: %d/%d complete (%d%%).\n", prog.Completed, prog.Total, prog.Percentage)
	return sb.String()
}

// ReciteMinimal renders a one-line progress summary for token-tight
// contexts.
func ReciteMinimal(p *Plan) string {
	prog := p.Progress()
	current := "none"
	for _, t := range p.Tasks {
		if t.Status == StatusRunning {
			current = t.ID
			break
		}
	}
	return fmt.Sprintf("Plan v%d: %d/%d tasks done, current: %s", p.Version, prog.Completed, prog.Total, current)
}
