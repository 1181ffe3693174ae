// Package orchestrator drives the attempt sequence for one request: call
// the tier the routing policy chose, and on failure or low-quality output
// escalate exactly once to the large tier.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vmtri/llm-router/internal/metrics"
	"github.com/vmtri/llm-router/internal/pricing"
	"github.com/vmtri/llm-router/internal/routing"
	"github.com/vmtri/llm-router/internal/upstream"
)

// state of the attempt machine. tryingLarge is terminal: success returns,
// failure propagates. "small then large" can never loop.
type state int

const (
	tryingSmall state = iota
	tryingLarge
)

// QualityFunc classifies a successful upstream completion. Return an error
// wrapping upstream.ErrLowQuality to trigger escalation. Kept pluggable
// because emptiness is a weak proxy for answer quality.
type QualityFunc func(*upstream.Completion) error

// MinLengthQuality accepts completions carrying tool calls or at least
// minChars of trimmed content.
func MinLengthQuality(minChars int) QualityFunc {
	return func(c *upstream.Completion) error {
		if len(c.ToolCalls) > 0 {
			return nil
		}
		if got := len(strings.TrimSpace(c.Content)); got < minChars {
			return fmt.Errorf("%w: content length %d below %d", upstream.ErrLowQuality, got, minChars)
		}
		return nil
	}
}

// Result is the combined outcome returned to the caller.
type Result struct {
	Completion *upstream.Completion
	Decision   routing.Decision
	Tier       routing.Tier
	ModelID    string
	Reason     string // fallback:<original> when escalation occurred
	Fallback   bool
	Usage      pricing.Usage
}

type Config struct {
	ModelSmall string
	ModelLarge string
	Timeout    time.Duration // per upstream attempt
}

// Orchestrator executes routing decisions with single-step fallback.
type Orchestrator struct {
	cfg      Config
	client   upstream.ModelClient
	policy   *routing.Policy
	pricing  *pricing.Table
	metrics  *metrics.Collector
	quality  QualityFunc
	breakers map[routing.Tier]*gobreaker.CircuitBreaker
	logger   *slog.Logger
}

func New(cfg Config, client upstream.ModelClient, policy *routing.Policy, table *pricing.Table, collector *metrics.Collector, quality QualityFunc, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	breakers := make(map[routing.Tier]*gobreaker.CircuitBreaker, 2)
	for _, tier := range []routing.Tier{routing.TierSmall, routing.TierLarge} {
		settings := gobreaker.Settings{
			Name:        string(tier),
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		breakers[tier] = gobreaker.NewCircuitBreaker(settings)
	}
	return &Orchestrator{
		cfg:      cfg,
		client:   client,
		policy:   policy,
		pricing:  table,
		metrics:  collector,
		quality:  quality,
		breakers: breakers,
		logger:   logger,
	}
}

// Execute routes and runs one request. At most two upstream calls happen;
// every attempt is recorded into metrics exactly once, before the decision
// to escalate or fail is finalized. The error return is non-nil only when
// the terminal attempt failed.
func (o *Orchestrator) Execute(ctx context.Context, req *upstream.ChatRequest) (*Result, error) {
	decision := o.policy.Decide(req)

	o.logger.Info("routing decision",
		"model", decision.ModelID,
		"tier", string(decision.Tier),
		"reason", decision.Reason,
		"estimated_tokens", decision.EstimatedTokens,
	)

	st := tryingSmall
	if decision.Tier == routing.TierLarge {
		// Large decisions and overrides skip fallback eligibility entirely.
		st = tryingLarge
	}
	reason := decision.Reason
	fellBack := false

	for {
		switch st {
		case tryingSmall:
			completion, usage, err := o.attempt(ctx, req, routing.TierSmall, decision.ModelID, "")
			if err == nil {
				return &Result{
					Completion: completion,
					Decision:   decision,
					Tier:       routing.TierSmall,
					ModelID:    decision.ModelID,
					Reason:     reason,
					Usage:      usage,
				}, nil
			}
			if ctx.Err() != nil && !upstream.IsTimeout(err) {
				// Client went away; nothing to escalate for.
				return nil, err
			}
			o.logger.Warn("small tier attempt failed, escalating",
				"model", decision.ModelID, "error", err)
			reason = routing.FallbackReason(reason)
			fellBack = true
			st = tryingLarge

		case tryingLarge:
			modelID := o.cfg.ModelLarge
			if !fellBack && decision.Tier == routing.TierLarge {
				modelID = decision.ModelID
			}
			from := ""
			if fellBack {
				from = string(routing.TierSmall)
			}
			completion, usage, err := o.attempt(ctx, req, routing.TierLarge, modelID, from)
			if err != nil {
				// Terminal: no second escalation.
				o.logger.Error("large tier attempt failed", "model", modelID, "error", err)
				return nil, err
			}
			return &Result{
				Completion: completion,
				Decision:   decision,
				Tier:       routing.TierLarge,
				ModelID:    modelID,
				Reason:     reason,
				Fallback:   fellBack,
				Usage:      usage,
			}, nil
		}
	}
}

// attempt performs one upstream call with the per-attempt timeout, applies
// the quality check, and records the attempt. No lock is held across the
// I/O; recording happens strictly after the call returns.
func (o *Orchestrator) attempt(ctx context.Context, req *upstream.ChatRequest, tier routing.Tier, modelID, fallbackFrom string) (*upstream.Completion, pricing.Usage, error) {
	cctx := ctx
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := o.breakers[tier].Execute(func() (interface{}, error) {
		return o.client.Complete(cctx, req, modelID)
	})
	end := time.Now()

	var completion *upstream.Completion
	if err == nil {
		completion = raw.(*upstream.Completion)
		err = o.quality(completion)
	}
	err = classify(err)

	var usage pricing.Usage
	if err == nil {
		usage = pricing.Measure(o.pricing, modelID, completion.InputTokens, completion.OutputTokens, start, end)
	} else {
		usage.LatencyMs = float64(end.Sub(start)) / float64(time.Millisecond)
	}

	o.metrics.Record(metrics.Attempt{
		Model:        string(tier),
		StatusCode:   upstream.StatusCode(err),
		Success:      err == nil,
		FallbackFrom: fallbackFrom,
		TokensIn:     usage.TokensIn,
		TokensOut:    usage.TokensOut,
		CostUSD:      usage.CostUSD,
		LatencyMs:    usage.LatencyMs,
	})

	if err != nil {
		return nil, usage, err
	}
	return completion, usage, nil
}

// classify normalizes breaker and context failures into the error
// taxonomy so the fallback rules in Execute see uniform classes.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests:
		return &upstream.Error{StatusCode: 503, Message: "circuit breaker open: " + err.Error()}
	case err == context.DeadlineExceeded:
		return fmt.Errorf("%w: %v", upstream.ErrTimeout, err)
	default:
		return err
	}
}
