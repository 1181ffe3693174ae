package upstream

import (
	"context"
	"encoding/json"
	"fmt"
)

// ModelAuto is the virtual model id that requests automatic routing.
const ModelAuto = "auto"

// ChatRequest is the inbound chat completion request. It is compatible with
// the Mistral /v1/chat/completions schema, with "auto" accepted as model.
// Treated as immutable once decoded.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	RandomSeed  *int      `json:"random_seed,omitempty"`
	SafePrompt  bool      `json:"safe_prompt,omitempty"`

	Tools      []Tool          `json:"tools,omitempty"`
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`

	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Message is a single chat message.
type Message struct {
	Role       string          `json:"role"` // "system", "user", "assistant", "tool"
	Content    string          `json:"content"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// Tool is a function definition passed through to the upstream API.
type Tool struct {
	Type     string          `json:"type"`
	Function json.RawMessage `json:"function"`
}

// ResponseFormat requests a structured output mode.
type ResponseFormat struct {
	Type string `json:"type"` // "json_object" or "text"
}

// Completion is the normalized result of one upstream call.
type Completion struct {
	ID           string
	Created      int64
	Model        string // concrete model id reported by the upstream
	Content      string
	ToolCalls    json.RawMessage
	FinishReason string
	InputTokens  int64
	OutputTokens int64
}

// ModelClient performs one chat completion against a concrete model id.
// Implementations must honor ctx cancellation and deadlines.
type ModelClient interface {
	Complete(ctx context.Context, req *ChatRequest, modelID string) (*Completion, error)
}

// Validate rejects malformed requests before any routing happens.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return &ValidationError{Msg: "model is required"}
	}
	if len(r.Messages) == 0 {
		return &ValidationError{Msg: "messages must not be empty"}
	}
	if r.Stream {
		return &ValidationError{Msg: "streaming is not supported"}
	}
	for i, m := range r.Messages {
		switch m.Role {
		case "system", "user":
			if m.Content == "" {
				return &ValidationError{Msg: fmt.Sprintf("message %d: %s message requires content", i, m.Role)}
			}
		case "assistant":
			if m.Content == "" && len(m.ToolCalls) == 0 {
				return &ValidationError{Msg: fmt.Sprintf("message %d: assistant message must have content or tool_calls", i)}
			}
		case "tool":
			if m.Content == "" || m.ToolCallID == "" {
				return &ValidationError{Msg: fmt.Sprintf("message %d: tool message requires content and tool_call_id", i)}
			}
		default:
			return &ValidationError{Msg: fmt.Sprintf("message %d: unknown role %q", i, m.Role)}
		}
	}
	return nil
}
