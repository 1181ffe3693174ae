// Package routing decides which model tier serves a chat completion
// request. Rules are evaluated in a fixed order, first match wins:
// manual override, required capabilities, complexity heuristics, default.
package routing

import (
	"strings"

	"github.com/vmtri/llm-router/internal/upstream"
)

// Tier is a logical routing target.
type Tier string

const (
	TierSmall Tier = "small" // cheap, fast
	TierLarge Tier = "large" // capable, costly
)

// Reason codes form a closed enumeration; they label API metadata and
// metrics. Fallback attempts carry "fallback:<original-reason>".
const (
	ReasonManualOverride   = "manual_override"
	ReasonRequiresTools    = "requires:tools"
	ReasonRequiresJSON     = "requires:json"
	ReasonHeuristicLength  = "heuristic_length"  // conversation length
	ReasonHeuristicTokens  = "heuristic_tokens"  // estimated token count
	ReasonHeuristicKeyword = "heuristic_keyword" // complexity keyword
	ReasonHeuristicChars   = "heuristic_chars"   // prompt character length
	ReasonDefaultSmall     = "default_small"
)

// FallbackReason derives the reason code carried by an escalated attempt.
func FallbackReason(original string) string {
	return "fallback:" + original
}

// Decision is the immutable outcome of policy evaluation.
type Decision struct {
	Tier            Tier
	ModelID         string // concrete model id to call
	Reason          string
	Score           float64 // fraction of heuristic signals tripped; set for heuristic decisions
	EstimatedTokens int64
}

// Config holds the tunable routing constants.
type Config struct {
	ModelSmall            string
	ModelLarge            string
	ConversationThreshold int      // messages
	TokenThreshold        int64    // estimated tokens
	LengthThreshold       int      // total prompt chars
	Keywords              []string // lowercase complexity keywords
}

// Policy evaluates requests against the ordered rule set.
type Policy struct {
	cfg   Config
	rules []rule
}

type rule func(req *upstream.ChatRequest, est int64) (Decision, bool)

func NewPolicy(cfg Config) *Policy {
	p := &Policy{cfg: cfg}
	p.rules = []rule{
		p.manualOverride,
		p.requiredCapability,
		p.heuristics,
	}
	return p
}

// Decide never fails; requests matched by no rule fall through to small.
func (p *Policy) Decide(req *upstream.ChatRequest) Decision {
	est := EstimateTokens(req.Messages)
	for _, r := range p.rules {
		if d, ok := r(req, est); ok {
			return d
		}
	}
	return Decision{
		Tier:            TierSmall,
		ModelID:         p.cfg.ModelSmall,
		Reason:          ReasonDefaultSmall,
		EstimatedTokens: est,
	}
}

// manualOverride honors an explicit model choice verbatim. The virtual
// "auto" model means no override.
func (p *Policy) manualOverride(req *upstream.ChatRequest, est int64) (Decision, bool) {
	model := strings.ToLower(strings.TrimSpace(req.Model))
	if model == "" || model == upstream.ModelAuto {
		return Decision{}, false
	}

	tier, modelID := p.resolveModel(model)
	return Decision{
		Tier:            tier,
		ModelID:         modelID,
		Reason:          ReasonManualOverride,
		EstimatedTokens: est,
	}, true
}

// requiredCapability routes tool calling and JSON mode to the large tier
// regardless of any heuristic signal.
func (p *Policy) requiredCapability(req *upstream.ChatRequest, est int64) (Decision, bool) {
	if len(req.Tools) > 0 {
		return Decision{
			Tier:            TierLarge,
			ModelID:         p.cfg.ModelLarge,
			Reason:          ReasonRequiresTools,
			EstimatedTokens: est,
		}, true
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		return Decision{
			Tier:            TierLarge,
			ModelID:         p.cfg.ModelLarge,
			Reason:          ReasonRequiresJSON,
			EstimatedTokens: est,
		}, true
	}
	return Decision{}, false
}

// heuristics checks the four complexity signals in a fixed order and
// reports the first one that trips. The score is the fraction of all
// signals that tripped, independent of which fired first.
func (p *Policy) heuristics(req *upstream.ChatRequest, est int64) (Decision, bool) {
	signals := []struct {
		reason  string
		tripped bool
	}{
		{ReasonHeuristicLength, len(req.Messages) > p.cfg.ConversationThreshold},
		{ReasonHeuristicTokens, est > p.cfg.TokenThreshold},
		{ReasonHeuristicKeyword, p.containsKeyword(req.Messages)},
		{ReasonHeuristicChars, totalContentLength(req.Messages) > p.cfg.LengthThreshold},
	}

	first := ""
	tripped := 0
	for _, s := range signals {
		if s.tripped {
			tripped++
			if first == "" {
				first = s.reason
			}
		}
	}
	if first == "" {
		return Decision{}, false
	}

	return Decision{
		Tier:            TierLarge,
		ModelID:         p.cfg.ModelLarge,
		Reason:          first,
		Score:           float64(tripped) / float64(len(signals)),
		EstimatedTokens: est,
	}, true
}

// resolveModel maps a requested model string to its logical tier and
// concrete id. Logical labels resolve to the configured ids; concrete ids
// are passed through verbatim.
func (p *Policy) resolveModel(model string) (Tier, string) {
	switch model {
	case string(TierSmall):
		return TierSmall, p.cfg.ModelSmall
	case string(TierLarge):
		return TierLarge, p.cfg.ModelLarge
	case strings.ToLower(p.cfg.ModelSmall):
		return TierSmall, p.cfg.ModelSmall
	case strings.ToLower(p.cfg.ModelLarge):
		return TierLarge, p.cfg.ModelLarge
	}
	if strings.Contains(model, "small") {
		return TierSmall, model
	}
	if strings.Contains(model, "large") || strings.Contains(model, "medium") {
		return TierLarge, model
	}
	return TierSmall, model
}

// containsKeyword scans user and system message content for complexity
// keywords. Assistant and tool messages are ignored.
func (p *Policy) containsKeyword(messages []upstream.Message) bool {
	for _, m := range messages {
		if m.Role != "user" && m.Role != "system" {
			continue
		}
		if m.Content == "" {
			continue
		}
		content := strings.ToLower(m.Content)
		for _, kw := range p.cfg.Keywords {
			if strings.Contains(content, kw) {
				return true
			}
		}
	}
	return false
}

func totalContentLength(messages []upstream.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total
}
