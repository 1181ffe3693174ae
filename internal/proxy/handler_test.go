package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vmtri/llm-router/internal/metrics"
	"github.com/vmtri/llm-router/internal/orchestrator"
	"github.com/vmtri/llm-router/internal/pricing"
	"github.com/vmtri/llm-router/internal/routing"
	"github.com/vmtri/llm-router/internal/upstream"
)

const (
	smallModel = "mistral-small-latest"
	largeModel = "mistral-medium-latest"
)

// stubClient returns scripted responses keyed by model id, in order.
type stubClient struct {
	responses map[string][]stubResponse
	calls     []string
}

type stubResponse struct {
	completion *upstream.Completion
	err        error
}

func (c *stubClient) Complete(_ context.Context, _ *upstream.ChatRequest, modelID string) (*upstream.Completion, error) {
	c.calls = append(c.calls, modelID)
	queue := c.responses[modelID]
	if len(queue) == 0 {
		return nil, &upstream.Error{StatusCode: 500, Message: "unexpected call to " + modelID}
	}
	next := queue[0]
	c.responses[modelID] = queue[1:]
	return next.completion, next.err
}

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(context.Context) error { return p.err }

func newTestHandler(t *testing.T, client *stubClient, pinger Pinger) (*Handler, *metrics.Collector) {
	t.Helper()

	table := pricing.NewTable(map[string]pricing.Rates{
		smallModel: pricing.PerMillion(0.1, 0.3),
		largeModel: pricing.PerMillion(0.4, 2.0),
	})
	largeRates, _ := table.Rates(largeModel)
	collector := metrics.NewCollector(largeRates)

	policy := routing.NewPolicy(routing.Config{
		ModelSmall:            smallModel,
		ModelLarge:            largeModel,
		ConversationThreshold: 6,
		TokenThreshold:        150,
		LengthThreshold:       120,
		Keywords:              []string{"analyze"},
	})

	logger := slog.New(slog.DiscardHandler)
	orch := orchestrator.New(orchestrator.Config{
		ModelSmall: smallModel,
		ModelLarge: largeModel,
		Timeout:    time.Second,
	}, client, policy, table, collector, orchestrator.MinLengthQuality(5), logger)

	tracer := noop.NewTracerProvider().Tracer("test")
	return NewHandler(orch, collector, nil, tracer, pinger, time.Second, logger), collector
}

func postCompletion(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleCompletions(rec, req)
	return rec
}

func TestHandleCompletions_Success(t *testing.T) {
	client := &stubClient{responses: map[string][]stubResponse{
		smallModel: {{completion: &upstream.Completion{
			ID:           "cmpl-1",
			Model:        smallModel,
			Content:      "Paris is the capital of France.",
			FinishReason: "stop",
			InputTokens:  10,
			OutputTokens: 8,
		}}},
	}}
	h, _ := newTestHandler(t, client, &stubPinger{})

	rec := postCompletion(h, `{"model":"auto","messages":[{"role":"user","content":"What is the capital of France?"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, smallModel, rec.Header().Get("x-router-model"))
	assert.Equal(t, "small", rec.Header().Get("x-router-model-logical"))
	assert.Equal(t, "default_small", rec.Header().Get("x-router-reason"))
	assert.Equal(t, "false", rec.Header().Get("x-router-fallback"))
	assert.NotEmpty(t, rec.Header().Get("x-router-cost-usd"))
	assert.NotEmpty(t, rec.Header().Get("x-router-request-id"))

	var body struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int64 `json:"total_tokens"`
		} `json:"usage"`
		Router struct {
			Model    string `json:"model"`
			Reason   string `json:"reason"`
			Fallback bool   `json:"fallback"`
		} `json:"router"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, smallModel, body.Model)
	require.Len(t, body.Choices, 1)
	assert.Equal(t, "Paris is the capital of France.", body.Choices[0].Message.Content)
	assert.Equal(t, "stop", body.Choices[0].FinishReason)
	assert.Equal(t, int64(18), body.Usage.TotalTokens)
	assert.Equal(t, smallModel, body.Router.Model)
	assert.Equal(t, "default_small", body.Router.Reason)
	assert.False(t, body.Router.Fallback)
}

func TestHandleCompletions_FallbackMetadata(t *testing.T) {
	client := &stubClient{responses: map[string][]stubResponse{
		smallModel: {{completion: &upstream.Completion{Model: smallModel, Content: ""}}},
		largeModel: {{completion: &upstream.Completion{
			Model:        largeModel,
			Content:      "A longer, better answer.",
			FinishReason: "stop",
			InputTokens:  10,
			OutputTokens: 20,
		}}},
	}}
	h, collector := newTestHandler(t, client, &stubPinger{})

	rec := postCompletion(h, `{"model":"auto","messages":[{"role":"user","content":"hi there"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{smallModel, largeModel}, client.calls)
	assert.Equal(t, largeModel, rec.Header().Get("x-router-model"))
	assert.Equal(t, "large", rec.Header().Get("x-router-model-logical"))
	assert.Equal(t, "fallback:default_small", rec.Header().Get("x-router-reason"))
	assert.Equal(t, "true", rec.Header().Get("x-router-fallback"))

	snap := collector.Snapshot()
	require.Len(t, snap.Fallbacks, 1)
	assert.Equal(t, "small", snap.Fallbacks[0].From)
	assert.Equal(t, "large", snap.Fallbacks[0].To)
}

func TestHandleCompletions_MalformedBody(t *testing.T) {
	h, collector := newTestHandler(t, &stubClient{responses: map[string][]stubResponse{}}, &stubPinger{})

	rec := postCompletion(h, `{"model": "auto", "messages": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_error")

	snap := collector.Snapshot()
	assert.Zero(t, snap.TotalRequests, "malformed requests must not be counted")
}

func TestHandleCompletions_ValidationError(t *testing.T) {
	h, collector := newTestHandler(t, &stubClient{responses: map[string][]stubResponse{}}, &stubPinger{})

	rec := postCompletion(h, `{"model":"auto","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_error")
	assert.Contains(t, rec.Body.String(), "streaming")

	snap := collector.Snapshot()
	assert.Zero(t, snap.TotalRequests)
}

func TestHandleCompletions_TerminalFailure(t *testing.T) {
	client := &stubClient{responses: map[string][]stubResponse{
		smallModel: {{err: &upstream.Error{StatusCode: 500, Message: "boom"}}},
		largeModel: {{err: &upstream.Error{StatusCode: 500, Message: "boom again"}}},
	}}
	h, collector := newTestHandler(t, client, &stubPinger{})

	rec := postCompletion(h, `{"model":"auto","messages":[{"role":"user","content":"hi there"}]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream_error")

	snap := collector.Snapshot()
	assert.Equal(t, uint64(2), snap.TotalRequests, "both attempts recorded")
	assert.Zero(t, snap.ActiveRequests)
}

func TestHandleMetrics(t *testing.T) {
	client := &stubClient{responses: map[string][]stubResponse{
		smallModel: {{completion: &upstream.Completion{
			Model: smallModel, Content: "good answer", FinishReason: "stop",
			InputTokens: 10, OutputTokens: 5,
		}}},
	}}
	h, _ := newTestHandler(t, client, &stubPinger{})

	postCompletion(h, `{"model":"auto","messages":[{"role":"user","content":"hi there"}]}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.HandleMetrics(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, metrics.ContentType, rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `router_requests_total{model="small",status_code="200",fallback="false"} 1`)
	assert.Contains(t, body, `router_tokens_total{model="small",type="input"} 10`)
	assert.Contains(t, body, "router_active_requests 0")
}

func TestHandleHealth(t *testing.T) {
	h, _ := newTestHandler(t, &stubClient{responses: map[string][]stubResponse{}}, &stubPinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"llm-router"}`, rec.Body.String())
}

func TestHandleHealth_UpstreamDown(t *testing.T) {
	pinger := &stubPinger{err: &upstream.Error{StatusCode: 503, Message: "down"}}
	h, _ := newTestHandler(t, &stubClient{responses: map[string][]stubResponse{}}, pinger)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream_error")
}
