package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/protocol"
)

// Answer styles.
const (
	StyleConcise  = "concise"
	StyleDetailed = "detailed"
	StyleReport   = "report"
)

var styleInstructions = map[string]string{
	StyleConcise:  "Answer in a few sentences. No headings, no preamble.",
	StyleDetailed: "Give a thorough answer covering every task's findings. Use short paragraphs.",
	StyleReport:   "Write a structured report with markdown headings: a summary first, then one section per theme, then open questions.",
}

// TaskOutput pairs a task with what it produced, for answer synthesis.
type TaskOutput struct {
	TaskID      string
	Description string
	Output      string
	Failed      bool
}

// AnswerGenerator assembles the final answer from task outputs. When the
// synthesis call fails the raw outputs are concatenated instead, so the
// session always ends with the evidence it gathered.
type AnswerGenerator struct {
	provider llms.Provider
	model    string
}

// NewAnswerGenerator creates a generator.
func NewAnswerGenerator(provider llms.Provider, model string) *AnswerGenerator {
	return &AnswerGenerator{provider: provider, model: model}
}

// DetectStyle picks an answer register from the phrasing of the request.
func DetectStyle(request string) string {
	lower := strings.ToLower(request)
	switch {
	case strings.Contains(lower, "report") || strings.Contains(lower, "in depth") ||
		strings.Contains(lower, "detailed analysis"):
		return StyleReport
	case strings.Contains(lower, "summar") || strings.Contains(lower, "briefly") ||
		strings.Contains(lower, "tl;dr") || strings.Contains(lower, "short answer"):
		return StyleConcise
	default:
		return StyleDetailed
	}
}

// Generate synthesizes the answer in the requested style. Unknown styles
// fall back to detailed.
func (g *AnswerGenerator) Generate(ctx context.Context, request string, outputs []TaskOutput, style string) string {
	if len(outputs) == 0 {
		return ""
	}
	if len(outputs) == 1 && !outputs[0].Failed {
		return outputs[0].Output
	}

	instructions, ok := styleInstructions[style]
	if !ok {
		instructions = styleInstructions[StyleDetailed]
	}

	var sb strings.Builder
	sb.WriteString("Original request: " + request + "\n\nTask results:\n")
	for _, out := range outputs {
		status := "succeeded"
		if out.Failed {
			status = "FAILED"
		}
		fmt.Fprintf(&sb, "\n### %s (%s): %s\n%s\n", out.TaskID, status, out.Description, out.Output)
	}

	completion, err := g.provider.Complete(ctx, llms.CompletionRequest{
		Model:  g.model,
		System: "Synthesize a final answer from the task results below. " + instructions + " Do not invent results that are not present.",
		Messages: []protocol.Message{
			protocol.UserMessage(sb.String()),
		},
	})
	if err != nil || completion.Content == "" {
		return Concatenate(outputs)
	}
	return completion.Content
}

// Concatenate joins the successful task outputs verbatim, the fallback
// when synthesis is unavailable.
func Concatenate(outputs []TaskOutput) string {
	var parts []string
	for _, out := range outputs {
		if out.Failed || strings.TrimSpace(out.Output) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("### %s\n%s", out.Description, out.Output))
	}
	if len(parts) == 0 {
		return "No task produced usable output."
	}
	return strings.Join(parts, "\n\n")
}
