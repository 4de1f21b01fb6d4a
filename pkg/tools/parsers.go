package tools

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/striderlabs/strider/pkg/protocol"
)

// FinalAnswerMarker introduces the model's final answer in plain-text
// protocol mode. Text after the marker is the answer; tool-call blocks in
// the same reply are ignored once the marker appears.
const FinalAnswerMarker = "FINAL ANSWER:"

var toolBlockPattern = regexp.MustCompile("(?s)```(?:json|tool)?\\s*\\n(\\{.*?\\})\\s*\\n```")

type toolBlock struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// ParseToolCalls extracts tool invocations from fenced JSON blocks of the
// form {"tool": "...", "args": {...}}. Parsing is deterministic: the same
// text always yields the same calls with the same IDs, so reparsing a
// replayed transcript is idempotent. Blocks that fail to decode are
// skipped. Nothing is parsed after a final-answer marker.
func ParseToolCalls(text string) []protocol.ToolCall {
	if idx := strings.Index(text, FinalAnswerMarker); idx >= 0 {
		text = text[:idx]
	}

	var calls []protocol.ToolCall
	for _, match := range toolBlockPattern.FindAllStringSubmatch(text, -1) {
		var block toolBlock
		if err := json.Unmarshal([]byte(match[1]), &block); err != nil {
			continue
		}
		if block.Tool == "" {
			continue
		}
		if block.Args == nil {
			block.Args = map[string]any{}
		}
		calls = append(calls, protocol.ToolCall{
			ID:        callID(block.Tool, match[1], len(calls)),
			Name:      block.Tool,
			Arguments: block.Args,
		})
	}
	return calls
}

// callID derives a stable ID from the call's position and raw content.
func callID(tool, raw string, index int) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(raw))
	return fmt.Sprintf("call_%d_%s_%08x", index, tool, h.Sum32())
}

// HasFinalAnswer reports whether the text carries a final-answer marker.
func HasFinalAnswer(text string) bool {
	return strings.Contains(text, FinalAnswerMarker)
}

// ExtractAnswer returns the text after the final-answer marker, trimmed.
// Empty when no marker is present.
func ExtractAnswer(text string) string {
	idx := strings.Index(text, FinalAnswerMarker)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(text[idx+len(FinalAnswerMarker):])
}

// ExtractReasoning returns the prose before the first tool block or
// final-answer marker. This is what gets streamed as thinking.
func ExtractReasoning(text string) string {
	end := len(text)
	if loc := toolBlockPattern.FindStringIndex(text); loc != nil && loc[0] < end {
		end = loc[0]
	}
	if idx := strings.Index(text, FinalAnswerMarker); idx >= 0 && idx < end {
		end = idx
	}
	return strings.TrimSpace(text[:end])
}
