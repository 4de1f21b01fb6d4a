package observability

import (
	"context"
	"time"

	"github.com/striderlabs/strider/pkg/llms"
)

// instrumentedProvider wraps an LLM provider with latency and token
// accounting.
type instrumentedProvider struct {
	inner   llms.Provider
	metrics *Metrics
}

// InstrumentProvider returns a provider that records call latency and
// token usage on m. A nil m returns p unchanged.
func InstrumentProvider(p llms.Provider, m *Metrics) llms.Provider {
	if m == nil {
		return p
	}
	return &instrumentedProvider{inner: p, metrics: m}
}

func (p *instrumentedProvider) Name() string { return p.inner.Name() }

func (p *instrumentedProvider) Complete(ctx context.Context, req llms.CompletionRequest) (*llms.Completion, error) {
	start := time.Now()
	completion, err := p.inner.Complete(ctx, req)
	p.metrics.LLMDuration(time.Since(start))
	if completion != nil {
		p.metrics.Tokens(completion.Usage.InputTokens, completion.Usage.OutputTokens)
	}
	return completion, err
}
