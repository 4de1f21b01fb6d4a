package agent

import (
	"sync"

	"github.com/striderlabs/strider/pkg/plan"
	"github.com/striderlabs/strider/pkg/protocol"
)

// ContextManager owns the conversation sent to the model. Appends only;
// the single exception is Replace, which the compressor uses to swap the
// transcript for its condensed form. When a plan is attached, Messages
// appends a recitation so the goal stays in the model's recent attention.
type ContextManager struct {
	mu           sync.Mutex
	systemPrompt string
	messages     []protocol.Message
	plan         *plan.Plan
	minimalPlan  bool
}

// NewContextManager creates a manager with the given system prompt.
func NewContextManager(systemPrompt string) *ContextManager {
	return &ContextManager{
		systemPrompt: systemPrompt,
		messages:     []protocol.Message{protocol.SystemMessage(systemPrompt)},
	}
}

// SystemPrompt returns the configured system prompt.
func (c *ContextManager) SystemPrompt() string {
	return c.systemPrompt
}

// AddUser appends a user message.
func (c *ContextManager) AddUser(content string) {
	c.append(protocol.UserMessage(content))
}

// AddAssistant appends an assistant message.
func (c *ContextManager) AddAssistant(content string) {
	c.append(protocol.AssistantMessage(content))
}

// AddToolResult appends a tool result message.
func (c *ContextManager) AddToolResult(toolName, callID, content string) {
	c.append(protocol.ToolMessage(toolName, callID, content))
}

func (c *ContextManager) append(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// SetPlan attaches a plan for recitation. minimal switches to the
// one-line form for token-tight sessions.
func (c *ContextManager) SetPlan(p *plan.Plan, minimal bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan = p
	c.minimalPlan = minimal
}

// ClearPlan detaches the plan.
func (c *ContextManager) ClearPlan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan = nil
}

// Messages returns the conversation to send: the stored transcript, plus
// a trailing recitation of the attached plan. The recitation is rebuilt
// on every call so it always reflects current task status, and it is
// never stored, so the transcript itself stays append-only.
func (c *ContextManager) Messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]protocol.Message, len(c.messages), len(c.messages)+1)
	copy(out, c.messages)

	if c.plan != nil {
		recitation := plan.Recite(c.plan)
		if c.minimalPlan {
			recitation = plan.ReciteMinimal(c.plan)
		}
		out = append(out, protocol.UserMessage(recitation))
	}
	return out
}

// Len returns the stored transcript length, recitation excluded.
func (c *ContextManager) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Replace swaps the transcript, used after compression. The caller is
// responsible for keeping the system message at the head.
func (c *ContextManager) Replace(messages []protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make([]protocol.Message, len(messages))
	copy(c.messages, messages)
}

// Snapshot returns a copy of the raw transcript for checkpointing.
func (c *ContextManager) Snapshot() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, len(c.messages))
	copy(out, c.messages)
	return out
}
