// Package failure normalises tool, LLM and system errors into typed signals
// with well-defined retry semantics. Every tool invocation, successful or
// not, produces exactly one Signal; the Observer watches the non-success
// ones and applies the 3-strike rule.
package failure

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies where a failure originated.
type Source string

const (
	SourceTool       Source = "tool"
	SourceValidation Source = "validation"
	SourceTimeout    Source = "timeout"
	SourceUser       Source = "user"
	SourceLLM        Source = "llm"
	SourceSystem     Source = "system"
)

// Type classifies a failure independent of its source.
type Type string

const (
	TypeExecutionError   Type = "execution_error"
	TypeValidationFailed Type = "validation_failed"
	TypeTimeout          Type = "timeout"
	TypeRejected         Type = "rejected"
	TypeNetworkError     Type = "network_error"
	TypePermissionDenied Type = "permission_denied"
	TypeResourceNotFound Type = "resource_not_found"
	TypeInvalidParams    Type = "invalid_params"
	TypeRateLimited      Type = "rate_limited"
	TypeUnknown          Type = "unknown"
)

// Exit codes carried by signals. The engine reads these to decide between
// retrying, asking the user and giving up.
const (
	ExitSuccess   = 0 // operation succeeded
	ExitRetryable = 1 // transient failure, retry may help
	ExitNeedsUser = 2 // user intervention required
	ExitFatal     = 3 // unrecoverable, stop immediately
)

// Signal is the canonical record of one tool/LLM invocation outcome.
type Signal struct {
	Source    Source         `json:"source"`
	Type      Type           `json:"type"`
	ExitCode  int            `json:"exit_code"`
	Message   string         `json:"message,omitempty"`
	Stderr    string         `json:"stderr,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	ToolArgs  map[string]any `json:"tool_args,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Success builds the signal recorded for a successful invocation.
func Success(tool string) *Signal {
	return &Signal{
		Source:    SourceTool,
		Type:      TypeUnknown,
		ExitCode:  ExitSuccess,
		Tool:      tool,
		Timestamp: time.Now().UTC(),
	}
}

// New builds a non-success signal.
func New(source Source, typ Type, exitCode int, message string) *Signal {
	return &Signal{
		Source:    source,
		Type:      typ,
		ExitCode:  exitCode,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// WithTool attaches the originating tool name and arguments.
func (s *Signal) WithTool(name string, args map[string]any) *Signal {
	s.Tool = name
	s.ToolArgs = args
	return s
}

// WithStderr attaches captured stderr output.
func (s *Signal) WithStderr(stderr string) *Signal {
	s.Stderr = stderr
	return s
}

// IsSuccess reports whether the signal records a successful invocation.
func (s *Signal) IsSuccess() bool { return s.ExitCode == ExitSuccess }

// IsRetryable reports whether a retry could plausibly succeed. Fatal exit
// codes and failures the caller cannot fix by repeating (permission denied,
// invalid parameters) are never retryable.
func (s *Signal) IsRetryable() bool {
	if s.ExitCode == ExitFatal {
		return false
	}
	switch s.Type {
	case TypePermissionDenied, TypeInvalidParams:
		return false
	}
	return !s.IsSuccess()
}

// NeedsUserIntervention reports whether the failure requires the user.
func (s *Signal) NeedsUserIntervention() bool { return s.ExitCode == ExitNeedsUser }

// learnings maps failure types to human-readable hints that are injected
// back into the prompt context so the model changes strategy.
var learnings = map[Type]string{
	TypeExecutionError:   "The tool failed while executing. Check the arguments and consider an alternative tool or approach.",
	TypeValidationFailed: "The output did not satisfy the acceptance criteria. Re-read the task and produce output matching the criteria exactly.",
	TypeTimeout:          "The operation timed out. Break the work into smaller steps or use a faster data source.",
	TypeRejected:         "The request was rejected. Do not repeat the same call; reformulate it or pick a different tool.",
	TypeNetworkError:     "A network error occurred. The resource may be unreachable; try a different URL or source.",
	TypePermissionDenied: "Permission was denied. This tool or resource is not available; do not retry, choose another way.",
	TypeResourceNotFound: "The resource was not found. Verify the identifier or search for an alternative.",
	TypeInvalidParams:    "The arguments were invalid. Re-read the tool description and fix the parameter names and types.",
	TypeRateLimited:      "The service is rate limiting requests. Slow down and batch work where possible.",
}

// keyword fallbacks used when the type is unknown but the message is telling.
var learningKeywords = []struct {
	keyword string
	hint    string
}{
	{"rate limit", learnings[TypeRateLimited]},
	{"timeout", learnings[TypeTimeout]},
	{"timed out", learnings[TypeTimeout]},
	{"not found", learnings[TypeResourceNotFound]},
	{"permission", learnings[TypePermissionDenied]},
	{"forbidden", learnings[TypePermissionDenied]},
	{"connection", learnings[TypeNetworkError]},
}

// Learning returns a human-readable hint for this failure, keyed by type
// with a fallback keyword scan of the error message. It carries no state.
func (s *Signal) Learning() string {
	if hint, ok := learnings[s.Type]; ok {
		return hint
	}
	lower := strings.ToLower(s.Message)
	for _, kw := range learningKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.hint
		}
	}
	return "The last action failed. Reconsider the approach before repeating it."
}

// String renders the signal as a single progress-log line.
func (s *Signal) String() string {
	if s.IsSuccess() {
		return fmt.Sprintf("✅ %s succeeded", s.Tool)
	}
	target := s.Tool
	if target == "" {
		target = string(s.Source)
	}
	return fmt.Sprintf("❌ %s failed (%s, exit=%d): %s", target, s.Type, s.ExitCode, s.Message)
}

// ClassifyError derives a failure type from a raw error message. Used when
// a collaborator returns an untyped error.
func ClassifyError(message string) Type {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"):
		return TypeRateLimited
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"),
		strings.Contains(lower, "deadline exceeded"):
		return TypeTimeout
	case strings.Contains(lower, "permission"), strings.Contains(lower, "forbidden"),
		strings.Contains(lower, "unauthorized"):
		return TypePermissionDenied
	case strings.Contains(lower, "not found"), strings.Contains(lower, "404"),
		strings.Contains(lower, "no such file"):
		return TypeResourceNotFound
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "missing required"):
		return TypeInvalidParams
	case strings.Contains(lower, "connection"), strings.Contains(lower, "network"),
		strings.Contains(lower, "dns"), strings.Contains(lower, "tls"):
		return TypeNetworkError
	default:
		return TypeExecutionError
	}
}
