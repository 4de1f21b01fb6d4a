package agent

import (
	"context"
	"strings"

	"github.com/striderlabs/strider/pkg/failure"
	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/protocol"
)

const validatorSystemPrompt = `You are a strict reviewer. Given acceptance criteria and a piece of work, decide whether the work meets the criteria.

Reply with exactly one line:
PASS
or
FAIL: <one sentence naming what is missing>

No other output.`

// NewCriteriaValidator builds a Validator that judges an output against
// the task's acceptance criteria with one model call. The judge errs on
// the side of accepting: an unreachable or incoherent judge never blocks
// a task.
func NewCriteriaValidator(provider llms.Provider, model, criteria string) Validator {
	return func(ctx context.Context, output string) *failure.Signal {
		completion, err := provider.Complete(ctx, llms.CompletionRequest{
			Model:  model,
			System: validatorSystemPrompt,
			Messages: []protocol.Message{protocol.UserMessage(
				"Acceptance criteria:\n" + criteria + "\n\nWork to review:\n" + output,
			)},
		})
		if err != nil {
			return nil
		}

		verdict := strings.TrimSpace(completion.Content)
		if !strings.HasPrefix(verdict, "FAIL") {
			return nil
		}
		reason := strings.TrimSpace(strings.TrimPrefix(verdict, "FAIL"))
		reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
		if reason == "" {
			reason = "output does not meet the acceptance criteria"
		}
		return failure.New(failure.SourceValidation, failure.TypeValidationFailed, failure.ExitRetryable,
			"acceptance check failed: "+reason)
	}
}
