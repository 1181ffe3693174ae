package mistral

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vmtri/llm-router/internal/upstream"
)

// Client is an HTTP client for the Mistral /v1/chat/completions API.
type Client struct {
	apiKey    string
	baseURL   string
	userAgent string
	http      *http.Client
}

type wireRequest struct {
	Model       string             `json:"model"`
	Messages    []upstream.Message `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	MaxTokens   *int               `json:"max_tokens,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
	RandomSeed  *int               `json:"random_seed,omitempty"`
	SafePrompt  bool               `json:"safe_prompt,omitempty"`

	Tools      []upstream.Tool `json:"tools,omitempty"`
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`

	ResponseFormat *upstream.ResponseFormat `json:"response_format,omitempty"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

type wireChoice struct {
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

type wireUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

func New(apiKey, baseURL string) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxIdleConnsPerHost = 20

	return &Client{
		apiKey:    apiKey,
		baseURL:   baseURL,
		userAgent: "llm-router/1.0",
		http:      &http.Client{Transport: transport},
	}
}

// Complete sends a chat completion request forcing the given model id.
// Timeouts are classified as upstream.ErrTimeout; non-2xx responses become
// *upstream.Error.
func (c *Client) Complete(ctx context.Context, req *upstream.ChatRequest, modelID string) (*upstream.Completion, error) {
	body, err := json.Marshal(c.mapRequest(req, modelID))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", upstream.ErrTimeout, err)
		}
		return nil, &upstream.Error{StatusCode: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &upstream.Error{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &upstream.Error{StatusCode: resp.StatusCode, Message: fmt.Sprintf("malformed response body: %v", err)}
	}

	if len(wire.Choices) == 0 {
		return nil, &upstream.Error{StatusCode: http.StatusBadGateway, Message: "upstream returned no choices"}
	}

	choice := wire.Choices[0]
	return &upstream.Completion{
		ID:           wire.ID,
		Created:      wire.Created,
		Model:        wire.Model,
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		InputTokens:  wire.Usage.PromptTokens,
		OutputTokens: wire.Usage.CompletionTokens,
	}, nil
}

// Ping checks upstream reachability by listing models.
func (c *Client) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/models", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &upstream.Error{StatusCode: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}

func (c *Client) mapRequest(req *upstream.ChatRequest, modelID string) wireRequest {
	// The stream flag is intentionally dropped; streaming is rejected at
	// validation and never forwarded upstream.
	return wireRequest{
		Model:          modelID,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		TopP:           req.TopP,
		MaxTokens:      req.MaxTokens,
		Stop:           req.Stop,
		RandomSeed:     req.RandomSeed,
		SafePrompt:     req.SafePrompt,
		Tools:          req.Tools,
		ToolChoice:     req.ToolChoice,
		ResponseFormat: req.ResponseFormat,
	}
}
