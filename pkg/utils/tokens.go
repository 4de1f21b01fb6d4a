// Package utils provides small shared helpers, currently token counting.
package utils

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/striderlabs/strider/pkg/protocol"
)

// TokenCounter counts tokens for a specific model using tiktoken.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	// Encodings are expensive to build; cache them per model.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for the given model, falling back to
// the cl100k_base encoding for unknown models.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count of a text fragment.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages counts the tokens of a message list including the per-
// message overhead of the chat format (~4 tokens per message).
func (tc *TokenCounter) CountMessages(messages []protocol.Message) int {
	total := 0
	for _, msg := range messages {
		total += 4
		total += tc.Count(msg.Role)
		total += tc.Count(msg.Content)
	}
	if total > 0 {
		total += 2 // reply priming
	}
	return total
}

// EstimateTokens is a cheap fallback estimate (≈4 chars per token) for
// callers that cannot afford an encoder.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
