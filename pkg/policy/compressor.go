package policy

import (
	"fmt"
	"strings"

	"github.com/striderlabs/strider/pkg/protocol"
	"github.com/striderlabs/strider/pkg/utils"
)

// Compression strategies.
const (
	CompressSoft       = "soft"
	CompressAggressive = "aggressive"
)

const (
	// softThreshold and aggressiveThreshold are fractions of the context
	// window at which compression kicks in.
	softThreshold       = 0.70
	aggressiveThreshold = 0.90

	// keepRecentCount messages are always retained verbatim.
	keepRecentCount = 6

	// largeToolOutputBytes is the aggressive-mode cutoff above which tool
	// outputs are replaced with a size note.
	largeToolOutputBytes = 2048
)

// summaryHeader marks a message produced by a prior compression pass.
const summaryHeader = "[Conversation summary: earlier messages were compressed]\n"

// CompressionResult reports what a compression pass achieved.
type CompressionResult struct {
	Strategy     string `json:"strategy_used"`
	TokensBefore int    `json:"tokens_before"`
	TokensAfter  int    `json:"tokens_after"`
	TokensSaved  int    `json:"tokens_saved"`
}

// Compressor shrinks a conversation when token usage approaches the
// context window. The output preserves the ordering of retained messages
// and always keeps the system message and the most recent exchanges.
type Compressor struct {
	counter     *utils.TokenCounter
	windowLimit int
}

// NewCompressor creates a compressor for the given model and window size.
func NewCompressor(model string, windowLimit int) (*Compressor, error) {
	if windowLimit <= 0 {
		windowLimit = 128_000
	}
	counter, err := utils.NewTokenCounter(model)
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}
	return &Compressor{counter: counter, windowLimit: windowLimit}, nil
}

// ShouldCompress reports whether compression should run for the given
// usage, and with which strategy. force always selects aggressive.
func (c *Compressor) ShouldCompress(tokensUsed int, force bool) (bool, string) {
	if force {
		return true, CompressAggressive
	}
	ratio := float64(tokensUsed) / float64(c.windowLimit)
	switch {
	case ratio >= aggressiveThreshold:
		return true, CompressAggressive
	case ratio >= softThreshold:
		return true, CompressSoft
	default:
		return false, ""
	}
}

// Compress returns a shorter message list. Rules:
//  1. the last keepRecentCount messages survive verbatim;
//  2. the system message (if present) survives;
//  3. older assistant/tool exchanges collapse into one summary message;
//  4. aggressive mode additionally replaces large tool outputs in the
//     retained tail with "<tool X returned N bytes>".
//
// Compress is idempotent: running it again on its own output is a no-op
// shape-wise (the summary message is recognised and kept as-is).
func (c *Compressor) Compress(messages []protocol.Message, tokensUsed int, strategy string) ([]protocol.Message, CompressionResult) {
	result := CompressionResult{
		Strategy:     strategy,
		TokensBefore: tokensUsed,
	}

	if len(messages) <= keepRecentCount+1 {
		result.TokensAfter = tokensUsed
		return messages, result
	}

	cut := len(messages) - keepRecentCount
	head := messages[:cut]
	tail := messages[cut:]

	out := make([]protocol.Message, 0, keepRecentCount+2)

	// Rule 2: system message first.
	for _, msg := range head {
		if msg.Role == protocol.RoleSystem {
			out = append(out, msg)
			break
		}
	}

	// Rule 3: summarise the remaining head.
	if summary := summariseHead(head); summary != "" {
		out = append(out, protocol.Message{
			Role:     protocol.RoleUser,
			Content:  summary,
			Metadata: map[string]string{"compressed": "true"},
		})
	}

	// Rule 1 (+4): retained tail, with large tool outputs elided in
	// aggressive mode.
	for _, msg := range tail {
		if strategy == CompressAggressive && msg.Role == protocol.RoleTool && len(msg.Content) > largeToolOutputBytes {
			msg = protocol.Message{
				Role:       protocol.RoleTool,
				Content:    fmt.Sprintf("<tool %s returned %d bytes>", msg.Name, len(msg.Content)),
				ToolCallID: msg.ToolCallID,
				Name:       msg.Name,
			}
		}
		out = append(out, msg)
	}

	result.TokensAfter = c.counter.CountMessages(out)
	result.TokensSaved = result.TokensBefore - result.TokensAfter
	if result.TokensSaved < 0 {
		result.TokensSaved = 0
	}
	return out, result
}

// CountMessages measures a transcript with the compressor's counter.
func (c *Compressor) CountMessages(messages []protocol.Message) int {
	return c.counter.CountMessages(messages)
}

// summariseHead renders the dropped prefix as one compact block. Previously
// generated summaries are passed through instead of being re-summarised.
func summariseHead(head []protocol.Message) string {
	var b strings.Builder
	b.WriteString(summaryHeader)
	entries := 0
	for _, msg := range head {
		switch msg.Role {
		case protocol.RoleSystem:
			continue
		case protocol.RoleUser:
			if msg.Metadata["compressed"] == "true" {
				// Already a summary: keep its body verbatim, once.
				body := strings.TrimPrefix(msg.Content, summaryHeader)
				b.WriteString(body)
				entries++
				continue
			}
			b.WriteString(fmt.Sprintf("- user: %s\n", truncate(msg.Content, 200)))
		case protocol.RoleAssistant:
			b.WriteString(fmt.Sprintf("- assistant: %s\n", truncate(msg.Content, 200)))
		case protocol.RoleTool:
			b.WriteString(fmt.Sprintf("- tool %s: %s\n", msg.Name, truncate(msg.Content, 120)))
		}
		entries++
	}
	if entries == 0 {
		return ""
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
