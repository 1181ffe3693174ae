package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vmtri/llm-router/internal/auth"
	"github.com/vmtri/llm-router/internal/metrics"
	"github.com/vmtri/llm-router/internal/orchestrator"
	"github.com/vmtri/llm-router/internal/routing"
	"github.com/vmtri/llm-router/internal/upstream"
	"github.com/vmtri/llm-router/pkg/ratelimit"
)

// Pinger checks upstream reachability for the deep health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	orch          *orchestrator.Orchestrator
	collector     *metrics.Collector
	limiter       *ratelimit.Limiter // nil disables rate limiting
	tracer        trace.Tracer
	pinger        Pinger
	healthTimeout time.Duration
	logger        *slog.Logger
}

func NewHandler(orch *orchestrator.Orchestrator, collector *metrics.Collector, limiter *ratelimit.Limiter, tracer trace.Tracer, pinger Pinger, healthTimeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orch:          orch,
		collector:     collector,
		limiter:       limiter,
		tracer:        tracer,
		pinger:        pinger,
		healthTimeout: healthTimeout,
		logger:        logger,
	}
}

// HandleCompletions serves POST /v1/chat/completions (and /query).
// Routing metadata is returned both in the body and as x-router-* headers.
func (h *Handler) HandleCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := auth.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var req upstream.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	// Malformed requests are rejected before routing; no metrics recorded.
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if h.limiter != nil {
		estimated := routing.EstimateTokens(req.Messages)
		allowed, err := h.limiter.Allow(ctx, auth.GetKeyID(ctx), estimated)
		if err != nil || !allowed {
			h.collector.RecordRejection(http.StatusTooManyRequests)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
	}

	ctx, span := h.tracer.Start(ctx, "router.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("requested_model", req.Model),
	)

	h.collector.IncActive()
	defer h.collector.DecActive()

	start := time.Now()
	result, err := h.orch.Execute(ctx, &req)
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		status := upstream.StatusCode(err)
		h.logger.Error("request failed", "request_id", requestID, "status", status, "error", err)
		writeError(w, status, errorType(err), err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("router.model", result.ModelID),
		attribute.String("router.tier", string(result.Tier)),
		attribute.String("router.reason", result.Reason),
		attribute.Bool("router.fallback", result.Fallback),
	)

	h.logger.Info("request completed",
		"request_id", requestID,
		"model", result.ModelID,
		"tier", string(result.Tier),
		"reason", result.Reason,
		"fallback", result.Fallback,
		"cost_usd", result.Usage.CostUSD,
		"latency_ms", latencyMs,
	)

	setRouterHeaders(w, result, latencyMs, requestID)
	writeCompletion(w, result, latencyMs, requestID)
}

func setRouterHeaders(w http.ResponseWriter, result *orchestrator.Result, latencyMs float64, requestID string) {
	hdr := w.Header()
	hdr.Set("x-router-model", result.ModelID)
	hdr.Set("x-router-model-logical", string(result.Tier))
	hdr.Set("x-router-reason", result.Reason)
	hdr.Set("x-router-fallback", fmt.Sprintf("%t", result.Fallback))
	hdr.Set("x-router-cost-usd", fmt.Sprintf("%.8f", result.Usage.CostUSD))
	hdr.Set("x-router-latency-ms", fmt.Sprintf("%.2f", latencyMs))
	hdr.Set("x-router-request-id", requestID)
}

func writeCompletion(w http.ResponseWriter, result *orchestrator.Result, latencyMs float64, requestID string) {
	c := result.Completion

	respID := c.ID
	if respID == "" {
		respID = uuid.New().String()
	}
	model := c.Model
	if model == "" {
		model = result.ModelID
	}

	message := map[string]any{
		"role":    "assistant",
		"content": c.Content,
	}
	if len(c.ToolCalls) > 0 {
		message["tool_calls"] = c.ToolCalls
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      respID,
		"object":  "chat.completion",
		"created": c.Created,
		"model":   model,
		"choices": []any{
			map[string]any{
				"index":         0,
				"message":       message,
				"finish_reason": c.FinishReason,
			},
		},
		"usage": map[string]int64{
			"prompt_tokens":     c.InputTokens,
			"completion_tokens": c.OutputTokens,
			"total_tokens":      c.InputTokens + c.OutputTokens,
		},
		"router": map[string]any{
			"model":         result.ModelID,
			"model_logical": string(result.Tier),
			"reason":        result.Reason,
			"fallback":      result.Fallback,
			"cost_usd":      result.Usage.CostUSD,
			"latency_ms":    latencyMs,
			"request_id":    requestID,
		},
	})
}

// HandleMetrics serves GET /metrics in Prometheus exposition format.
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := h.collector.Snapshot()
	w.Header().Set("Content-Type", metrics.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.Render(snap)))
}

// HandleHealth serves GET /health with a deep check against the upstream.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		h.logger.Error("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "upstream_error", "upstream health check failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"llm-router"}`))
}

func errorType(err error) string {
	switch {
	case upstream.IsValidation(err):
		return "validation_error"
	case upstream.IsTimeout(err):
		return "upstream_timeout"
	case upstream.IsLowQuality(err):
		return "low_quality_output"
	default:
		return "upstream_error"
	}
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": msg,
			"type":    typ,
		},
	})
}
