package routing

import "github.com/vmtri/llm-router/internal/upstream"

// EstimateTokens approximates the prompt token count without a tokenizer:
// ~4 chars per token plus a small per-message overhead for role and
// formatting tokens.
func EstimateTokens(messages []upstream.Message) int64 {
	var total int64
	for _, m := range messages {
		total += int64(len(m.Content)) / 4
		total += 4
	}
	return total
}
