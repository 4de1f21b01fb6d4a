package failure

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/striderlabs/strider/pkg/scratchpad"
)

// KnowledgeBasePath is the fixed relative path of the cross-session
// failure-pattern file on the filesystem collaborator.
const KnowledgeBasePath = "knowledge/failure_patterns.json"

// Pattern is one learned failure pattern shared across sessions.
type Pattern struct {
	Type      Type      `json:"type"`
	Tool      string    `json:"tool,omitempty"`
	Message   string    `json:"message"`
	Learning  string    `json:"learning"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KnowledgeBase persists failure patterns across sessions as a single JSON
// file. Writes are serialised through a single writer; readers get a
// snapshot copy and never observe a partial write.
type KnowledgeBase struct {
	mu       sync.Mutex
	fs       scratchpad.Filesystem
	patterns map[string]*Pattern
	loaded   bool
}

// NewKnowledgeBase creates a knowledge base on the given storage. The file
// is loaded lazily on first access.
func NewKnowledgeBase(fs scratchpad.Filesystem) *KnowledgeBase {
	return &KnowledgeBase{
		fs:       fs,
		patterns: make(map[string]*Pattern),
	}
}

func patternKey(typ Type, tool string) string {
	return string(typ) + "|" + tool
}

func (kb *KnowledgeBase) loadLocked() {
	if kb.loaded {
		return
	}
	kb.loaded = true
	if !kb.fs.Exists(KnowledgeBasePath) {
		return
	}
	data, err := kb.fs.Read(KnowledgeBasePath)
	if err != nil {
		return
	}
	var patterns []*Pattern
	if err := json.Unmarshal(data, &patterns); err != nil {
		return
	}
	for _, p := range patterns {
		kb.patterns[patternKey(p.Type, p.Tool)] = p
	}
}

// Record folds a signal into the knowledge base and persists it.
func (kb *KnowledgeBase) Record(sig *Signal) error {
	if sig == nil || sig.IsSuccess() {
		return nil
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.loadLocked()

	key := patternKey(sig.Type, sig.Tool)
	p, ok := kb.patterns[key]
	if !ok {
		p = &Pattern{
			Type:     sig.Type,
			Tool:     sig.Tool,
			Learning: sig.Learning(),
		}
		kb.patterns[key] = p
	}
	p.Count++
	p.Message = sig.Message
	p.UpdatedAt = time.Now().UTC()

	return kb.flushLocked()
}

func (kb *KnowledgeBase) flushLocked() error {
	patterns := make([]*Pattern, 0, len(kb.patterns))
	for _, p := range kb.patterns {
		patterns = append(patterns, p)
	}
	data, err := json.MarshalIndent(patterns, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal failure patterns: %w", err)
	}
	return kb.fs.Write(KnowledgeBasePath, data)
}

// Snapshot returns a copy of all known patterns.
func (kb *KnowledgeBase) Snapshot() []Pattern {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.loadLocked()

	out := make([]Pattern, 0, len(kb.patterns))
	for _, p := range kb.patterns {
		out = append(out, *p)
	}
	return out
}

// LearningFor returns the stored learning for a (type, tool) pair, falling
// back to the signal's own canned learning when the pair is unknown.
func (kb *KnowledgeBase) LearningFor(sig *Signal) string {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.loadLocked()

	if p, ok := kb.patterns[patternKey(sig.Type, sig.Tool)]; ok && p.Learning != "" {
		return p.Learning
	}
	return sig.Learning()
}
