package policy

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/striderlabs/strider/pkg/protocol"
)

func TestIterationPolicy_AdaptedBudget(t *testing.T) {
	cfg := IterationConfig{BaseBudget: 10, MaxIterations: 30}

	short := NewIterationPolicy(cfg, "what is 2+2?")
	assert.Equal(t, 10, short.Budget(), "short tasks keep the base budget")

	long := NewIterationPolicy(cfg, strings.Repeat("analyse this in depth. ", 60))
	assert.Greater(t, long.Budget(), 10)
	assert.LessOrEqual(t, long.Budget(), 30, "budget clamps at max iterations")
}

func TestIterationPolicy_StopReasons(t *testing.T) {
	p := NewIterationPolicy(IterationConfig{
		BaseBudget:    5,
		MaxIterations: 8,
		AvailableTime: time.Minute,
	}, "")

	ok, _ := p.ShouldContinue(1, 0, false, time.Second)
	assert.True(t, ok)

	ok, reason := p.ShouldContinue(1, 0, true, time.Second)
	assert.False(t, ok)
	assert.Equal(t, ReasonFatalError, reason)

	ok, reason = p.ShouldContinue(1, 0, false, 2*time.Minute)
	assert.False(t, ok)
	assert.Equal(t, ReasonTimeBudget, reason)

	ok, reason = p.ShouldContinue(8, 0, false, time.Second)
	assert.False(t, ok)
	assert.Equal(t, ReasonMaxIterations, reason)

	ok, reason = p.ShouldContinue(5, 0, false, time.Second)
	assert.False(t, ok)
	assert.Contains(t, reason, ReasonBudget)
}

func TestCompressor_Thresholds(t *testing.T) {
	c, err := NewCompressor("gpt-4o", 1000)
	require.NoError(t, err)

	ok, _ := c.ShouldCompress(500, false)
	assert.False(t, ok)

	ok, strategy := c.ShouldCompress(700, false)
	assert.True(t, ok)
	assert.Equal(t, CompressSoft, strategy)

	ok, strategy = c.ShouldCompress(950, false)
	assert.True(t, ok)
	assert.Equal(t, CompressAggressive, strategy)

	ok, strategy = c.ShouldCompress(0, true)
	assert.True(t, ok)
	assert.Equal(t, CompressAggressive, strategy)
}

func buildConversation(n int) []protocol.Message {
	msgs := []protocol.Message{protocol.SystemMessage("you are a helpful agent")}
	for i := 0; i < n; i++ {
		msgs = append(msgs,
			protocol.AssistantMessage("thinking about step"),
			protocol.ToolMessage("read_url", "c1", strings.Repeat("data ", 600)),
		)
	}
	msgs = append(msgs, protocol.UserMessage("latest question"))
	return msgs
}

func TestCompressor_KeepsSystemAndRecent(t *testing.T) {
	c, err := NewCompressor("gpt-4o", 1000)
	require.NoError(t, err)

	msgs := buildConversation(8)
	out, result := c.Compress(msgs, 900, CompressSoft)

	require.NotEmpty(t, out)
	assert.Equal(t, protocol.RoleSystem, out[0].Role, "system message survives")
	assert.Less(t, len(out), len(msgs))

	// Last 6 messages retained verbatim in order.
	tail := msgs[len(msgs)-6:]
	gotTail := out[len(out)-6:]
	for i := range tail {
		assert.Equal(t, tail[i].Role, gotTail[i].Role)
		assert.Equal(t, tail[i].Content, gotTail[i].Content)
	}
	assert.Equal(t, CompressSoft, result.Strategy)
}

func TestCompressor_AggressiveElidesLargeToolOutputs(t *testing.T) {
	c, err := NewCompressor("gpt-4o", 1000)
	require.NoError(t, err)

	msgs := buildConversation(8)
	out, _ := c.Compress(msgs, 950, CompressAggressive)

	elided := false
	for _, msg := range out {
		if msg.Role == protocol.RoleTool && strings.HasPrefix(msg.Content, "<tool read_url returned") {
			elided = true
			assert.Contains(t, msg.Content, "bytes>")
		}
	}
	assert.True(t, elided, "large tool output in tail should be elided")
}

func TestCompressor_Idempotent(t *testing.T) {
	c, err := NewCompressor("gpt-4o", 1000)
	require.NoError(t, err)

	msgs := buildConversation(8)
	once, _ := c.Compress(msgs, 900, CompressSoft)
	twice, _ := c.Compress(once, 100, CompressSoft)

	require.Equal(t, len(once), len(twice))
	for i := range once {
		assert.Equal(t, once[i].Role, twice[i].Role)
	}
}

func TestTokenBudget_SummaryMode(t *testing.T) {
	b := NewTokenBudget(1000, 0.25)
	b.Add(400, 200)
	assert.False(t, b.ShouldSwitchToSummaryMode())

	b.Add(150, 10)
	assert.True(t, b.ShouldSwitchToSummaryMode(), "760 >= 750 usable")

	in, out := b.Usage()
	assert.Equal(t, 550, in)
	assert.Equal(t, 210, out)

	b.Reset()
	assert.Zero(t, b.Total())
}
