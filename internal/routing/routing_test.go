package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmtri/llm-router/internal/upstream"
)

func testConfig() Config {
	return Config{
		ModelSmall:            "mistral-small-latest",
		ModelLarge:            "mistral-medium-latest",
		ConversationThreshold: 6,
		TokenThreshold:        150,
		LengthThreshold:       120,
		Keywords:              []string{"analyze", "compare and contrast", "evaluate", "derive", "synthesize"},
	}
}

func userMessage(content string) upstream.Message {
	return upstream.Message{Role: "user", Content: content}
}

func TestDecide_ManualOverride_ExactModel(t *testing.T) {
	p := NewPolicy(testConfig())

	d := p.Decide(&upstream.ChatRequest{
		Model:    "mistral-medium-latest",
		Messages: []upstream.Message{userMessage("hi")},
	})

	assert.Equal(t, ReasonManualOverride, d.Reason)
	assert.Equal(t, TierLarge, d.Tier)
	assert.Equal(t, "mistral-medium-latest", d.ModelID)
}

func TestDecide_ManualOverride_LogicalLabels(t *testing.T) {
	p := NewPolicy(testConfig())

	d := p.Decide(&upstream.ChatRequest{Model: "small", Messages: []upstream.Message{userMessage("hi")}})
	assert.Equal(t, ReasonManualOverride, d.Reason)
	assert.Equal(t, TierSmall, d.Tier)
	assert.Equal(t, "mistral-small-latest", d.ModelID)

	d = p.Decide(&upstream.ChatRequest{Model: "large", Messages: []upstream.Message{userMessage("hi")}})
	assert.Equal(t, TierLarge, d.Tier)
	assert.Equal(t, "mistral-medium-latest", d.ModelID)
}

func TestDecide_OverrideBeatsCapabilityAndHeuristics(t *testing.T) {
	p := NewPolicy(testConfig())

	// tools would normally force large; the explicit small model wins.
	d := p.Decide(&upstream.ChatRequest{
		Model:    "mistral-small-latest",
		Messages: []upstream.Message{userMessage("analyze " + strings.Repeat("x", 500))},
		Tools:    []upstream.Tool{{Type: "function"}},
	})
	assert.Equal(t, ReasonManualOverride, d.Reason)
	assert.Equal(t, TierSmall, d.Tier)
}

func TestDecide_RequiresTools(t *testing.T) {
	p := NewPolicy(testConfig())

	d := p.Decide(&upstream.ChatRequest{
		Model:    "auto",
		Messages: []upstream.Message{userMessage("hi")},
		Tools:    []upstream.Tool{{Type: "function"}},
	})
	assert.Equal(t, ReasonRequiresTools, d.Reason)
	assert.Equal(t, TierLarge, d.Tier)
}

func TestDecide_RequiresJSON(t *testing.T) {
	p := NewPolicy(testConfig())

	d := p.Decide(&upstream.ChatRequest{
		Model:          "auto",
		Messages:       []upstream.Message{userMessage("hi")},
		ResponseFormat: &upstream.ResponseFormat{Type: "json_object"},
	})
	assert.Equal(t, ReasonRequiresJSON, d.Reason)
	assert.Equal(t, TierLarge, d.Tier)
}

func TestDecide_TextResponseFormatIsNotACapability(t *testing.T) {
	p := NewPolicy(testConfig())

	d := p.Decide(&upstream.ChatRequest{
		Model:          "auto",
		Messages:       []upstream.Message{userMessage("hi")},
		ResponseFormat: &upstream.ResponseFormat{Type: "text"},
	})
	assert.Equal(t, ReasonDefaultSmall, d.Reason)
}

func TestDecide_CapabilityBeatsHeuristics(t *testing.T) {
	p := NewPolicy(testConfig())

	// Long conversation AND tools: capability rule is checked first.
	msgs := make([]upstream.Message, 10)
	for i := range msgs {
		msgs[i] = userMessage("message number " + strings.Repeat("x", 16))
	}
	d := p.Decide(&upstream.ChatRequest{
		Model:    "auto",
		Messages: msgs,
		Tools:    []upstream.Tool{{Type: "function"}},
	})
	assert.Equal(t, ReasonRequiresTools, d.Reason)
}

func TestDecide_HeuristicConversationLength(t *testing.T) {
	p := NewPolicy(testConfig())

	msgs := make([]upstream.Message, 7) // threshold is 6
	for i := range msgs {
		msgs[i] = userMessage("ok")
	}
	d := p.Decide(&upstream.ChatRequest{Model: "auto", Messages: msgs})
	assert.Equal(t, ReasonHeuristicLength, d.Reason)
	assert.Equal(t, TierLarge, d.Tier)
}

func TestDecide_HeuristicCheckOrderIsDeterministic(t *testing.T) {
	p := NewPolicy(testConfig())

	// Trips conversation length, token estimate, keyword and char length
	// all at once; the first checked signal must be reported.
	msgs := make([]upstream.Message, 8)
	for i := range msgs {
		msgs[i] = userMessage("analyze this " + strings.Repeat("y", 100))
	}
	d := p.Decide(&upstream.ChatRequest{Model: "auto", Messages: msgs})
	assert.Equal(t, ReasonHeuristicLength, d.Reason)
	assert.InDelta(t, 1.0, d.Score, 1e-9)
}

func TestDecide_HeuristicTokens(t *testing.T) {
	p := NewPolicy(testConfig())

	// One message, no keywords, > 150 estimated tokens (~600 chars).
	d := p.Decide(&upstream.ChatRequest{
		Model:    "auto",
		Messages: []upstream.Message{userMessage(strings.Repeat("w ", 400))},
	})
	assert.Equal(t, ReasonHeuristicTokens, d.Reason)
	assert.Equal(t, TierLarge, d.Tier)
}

func TestDecide_HeuristicKeyword(t *testing.T) {
	p := NewPolicy(testConfig())

	d := p.Decide(&upstream.ChatRequest{
		Model:    "auto",
		Messages: []upstream.Message{userMessage("Analyze the pros and cons of renewable energy.")},
	})
	assert.Equal(t, ReasonHeuristicKeyword, d.Reason)
	assert.Equal(t, TierLarge, d.Tier)
}

func TestDecide_KeywordIgnoredInAssistantMessages(t *testing.T) {
	p := NewPolicy(testConfig())

	d := p.Decide(&upstream.ChatRequest{
		Model: "auto",
		Messages: []upstream.Message{
			{Role: "assistant", Content: "I can analyze that for you."},
			userMessage("ok go"),
		},
	})
	assert.Equal(t, ReasonDefaultSmall, d.Reason)
}

func TestDecide_HeuristicChars(t *testing.T) {
	p := NewPolicy(testConfig())

	// 130 chars: over the 120 char threshold but only ~36 estimated
	// tokens, no keywords, single message.
	d := p.Decide(&upstream.ChatRequest{
		Model:    "auto",
		Messages: []upstream.Message{userMessage(strings.Repeat("abcd ", 26))},
	})
	assert.Equal(t, ReasonHeuristicChars, d.Reason)
}

func TestDecide_DefaultSmall(t *testing.T) {
	p := NewPolicy(testConfig())

	d := p.Decide(&upstream.ChatRequest{
		Model:    "auto",
		Messages: []upstream.Message{userMessage("What is the capital of France?")},
	})
	assert.Equal(t, ReasonDefaultSmall, d.Reason)
	assert.Equal(t, TierSmall, d.Tier)
	assert.Equal(t, "mistral-small-latest", d.ModelID)
	assert.Zero(t, d.Score)
}

func TestDecide_NeverFails(t *testing.T) {
	p := NewPolicy(testConfig())

	d := p.Decide(&upstream.ChatRequest{Model: "auto"})
	require.NotEmpty(t, d.Reason)
	assert.Equal(t, TierSmall, d.Tier)
}

func TestEstimateTokens(t *testing.T) {
	// 40 chars / 4 + 4 overhead = 14 per message
	msgs := []upstream.Message{
		userMessage(strings.Repeat("a", 40)),
		userMessage(strings.Repeat("b", 40)),
	}
	assert.Equal(t, int64(28), EstimateTokens(msgs))
	assert.Equal(t, int64(0), EstimateTokens(nil))
}
