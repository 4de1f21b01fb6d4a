// Package events defines the typed progress events streamed to UI
// consumers and the bounded bus that multiplexes them.
//
// Event ordering within a session is causal: TASK_START precedes that
// task's terminal event, PLAN_REVISED separates plan versions, and exactly
// one DONE terminates a stream. Consumers demultiplex parallel task output
// by the taskId payload field.
package events

import "time"

// Type enumerates the event kinds.
type Type string

const (
	TypeStatus           Type = "status"
	TypeThinking         Type = "thinking"
	TypeContent          Type = "content"
	TypeToolCall         Type = "tool_call"
	TypeToolResult       Type = "tool_result"
	TypePlanCreated      Type = "plan_created"
	TypePlanRevised      Type = "plan_revised"
	TypeTaskStart        Type = "task_start"
	TypeTaskComplete     Type = "task_complete"
	TypeTaskFailed       Type = "task_failed"
	TypeTaskUpdate       Type = "task_update"
	TypeResearchProgress Type = "research_progress_update"
	TypeAnswerGenerating Type = "answer_generating"
	TypeAnswerReady      Type = "answer_ready"
	TypeError            Type = "error"
	TypeDone             Type = "done"
)

// Event is one typed progress event. Payload keys follow the SSE contract;
// timestamps are UTC milliseconds since epoch.
type Event struct {
	Type    Type           `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Now returns the current UTC time in epoch milliseconds, the timestamp
// format used in event payloads.
func Now() int64 {
	return time.Now().UTC().UnixMilli()
}

// New builds an event with the given payload.
func New(typ Type, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{Type: typ, Payload: payload}
}

// Status builds a status event for a phase change.
func Status(phase, message string) Event {
	return New(TypeStatus, map[string]any{"phase": phase, "message": message})
}

// Thinking builds a reasoning-fragment event.
func Thinking(content string) Event {
	return New(TypeThinking, map[string]any{"content": content})
}

// Content builds a content event, optionally tagged with a task id.
func Content(content, taskID string) Event {
	p := map[string]any{"content": content}
	if taskID != "" {
		p["taskId"] = taskID
	}
	return New(TypeContent, p)
}

// ToolCall builds a tool invocation event.
func ToolCall(toolName string, parameters map[string]any, taskID string) Event {
	p := map[string]any{"tool_name": toolName, "parameters": parameters}
	if taskID != "" {
		p["taskId"] = taskID
	}
	return New(TypeToolCall, p)
}

// ToolResult builds a tool outcome event.
func ToolResult(toolName string, success bool, result, errMsg string, executionTime time.Duration, taskID string) Event {
	p := map[string]any{"tool_name": toolName, "success": success}
	if result != "" {
		p["result"] = result
	}
	if errMsg != "" {
		p["error"] = errMsg
	}
	if executionTime > 0 {
		p["execution_time"] = executionTime.Milliseconds()
	}
	if taskID != "" {
		p["taskId"] = taskID
	}
	return New(TypeToolResult, p)
}

// TaskStart builds the event marking a task's transition to running.
func TaskStart(taskID string) Event {
	return New(TypeTaskStart, map[string]any{
		"taskId":    taskID,
		"status":    "running",
		"startTime": Now(),
	})
}

// TaskComplete builds a task success event.
func TaskComplete(taskID, output string, duration time.Duration) Event {
	return New(TypeTaskComplete, map[string]any{
		"taskId":   taskID,
		"status":   "success",
		"output":   output,
		"endTime":  Now(),
		"duration": duration.Milliseconds(),
	})
}

// TaskFailed builds a task failure event.
func TaskFailed(taskID, failureType, errMsg string, retryCount int, canRetry bool) Event {
	return New(TypeTaskFailed, map[string]any{
		"taskId":       taskID,
		"status":       "error",
		"failureType":  failureType,
		"errorMessage": errMsg,
		"endTime":      Now(),
		"retryCount":   retryCount,
		"canRetry":     canRetry,
	})
}

// ResearchProgress builds a coarse progress event for long-running plan
// execution. Percentages are 0-100.
func ResearchProgress(phase string, phaseProgress, overallProgress int, currentAction string) Event {
	return New(TypeResearchProgress, map[string]any{
		"phase":           phase,
		"phaseProgress":   phaseProgress,
		"overallProgress": overallProgress,
		"currentAction":   currentAction,
	})
}

// Error builds an error event. recoverable=true announces a path fallback
// rather than a terminal failure.
func Error(message string, recoverable bool) Event {
	return New(TypeError, map[string]any{"message": message, "recoverable": recoverable})
}

// AnswerGenerating announces final answer assembly has begun.
func AnswerGenerating(message string) Event {
	return New(TypeAnswerGenerating, map[string]any{"message": message})
}

// AnswerReady carries the assembled final answer.
func AnswerReady(content, summary string, suggestions []string) Event {
	p := map[string]any{"content": content}
	if summary != "" {
		p["summary"] = summary
	}
	if len(suggestions) > 0 {
		p["suggestions"] = suggestions
	}
	return New(TypeAnswerReady, p)
}

// Done builds the terminal event of a stream.
func Done(status, message string, extra map[string]any) Event {
	p := map[string]any{"status": status, "message": message}
	for k, v := range extra {
		p[k] = v
	}
	return New(TypeDone, p)
}

// TaskID returns the taskId payload field, empty when untagged.
func (e Event) TaskID() string {
	id, _ := e.Payload["taskId"].(string)
	return id
}

// IsTerminal reports whether the event ends a stream.
func (e Event) IsTerminal() bool {
	return e.Type == TypeDone
}
