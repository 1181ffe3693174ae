// Package metrics aggregates per-attempt counters and histograms for the
// router and exposes consistent point-in-time snapshots.
package metrics

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/vmtri/llm-router/internal/pricing"
)

// Histogram bucket boundaries, fixed at construction. Counts are kept
// per-bucket and rendered cumulative (Prometheus-style) in snapshots.
var (
	LatencyBucketsMs = []float64{100, 250, 500, 1000, 2500, 5000, 10000}
	CostBucketsUSD   = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}
)

// Attempt is one recorded call outcome. Every attempt, success or failure,
// is recorded exactly once.
type Attempt struct {
	Model        string // logical tier label: "small" or "large"
	StatusCode   int
	Success      bool
	FallbackFrom string // tier this attempt escalated from; empty if none
	TokensIn     int64
	TokensOut    int64
	CostUSD      float64
	LatencyMs    float64
}

type requestKey struct {
	model    string
	status   string
	fallback bool
}

type fallbackKey struct {
	from string
	to   string
}

type tokenKey struct {
	model string
	typ   string // "input" or "output"
}

// Collector is the process-wide aggregator. A single coarse mutex guards
// all counters so a snapshot never observes a partially-recorded attempt.
// The active-request gauge is independent and uses an atomic.
type Collector struct {
	largeRates pricing.Rates

	mu          sync.Mutex
	requests    map[requestKey]uint64
	fallbacks   map[fallbackKey]uint64
	tokens      map[tokenKey]uint64
	latency     map[string]*histogram
	cost        map[string]*histogram
	total       uint64
	actualCost  float64 // full precision; rounded only at snapshot
	alwaysLarge float64 // hypothetical cost at large-tier rates

	active atomic.Int64
}

// NewCollector creates a collector. largeRates are the per-token rates of
// the large tier, used for the cost-savings comparison.
func NewCollector(largeRates pricing.Rates) *Collector {
	return &Collector{
		largeRates: largeRates,
		requests:   make(map[requestKey]uint64),
		fallbacks:  make(map[fallbackKey]uint64),
		tokens:     make(map[tokenKey]uint64),
		latency:    make(map[string]*histogram),
		cost:       make(map[string]*histogram),
	}
}

// Record aggregates one attempt. Safe for concurrent use.
func (c *Collector) Record(att Attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	c.requests[requestKey{att.Model, statusLabel(att.StatusCode), att.FallbackFrom != ""}]++

	if att.FallbackFrom != "" {
		c.fallbacks[fallbackKey{from: att.FallbackFrom, to: att.Model}]++
	}

	c.hist(c.latency, att.Model, LatencyBucketsMs).observe(att.LatencyMs)

	if att.Success {
		c.hist(c.cost, att.Model, CostBucketsUSD).observe(att.CostUSD)
		c.tokens[tokenKey{att.Model, "input"}] += uint64(att.TokensIn)
		c.tokens[tokenKey{att.Model, "output"}] += uint64(att.TokensOut)
		c.actualCost += att.CostUSD
		c.alwaysLarge += c.largeRates.Cost(att.TokensIn, att.TokensOut)
	}
}

// RecordRejection counts a request rejected before routing (for example an
// auth failure) under model "unknown". Validation errors are not recorded.
func (c *Collector) RecordRejection(statusCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	c.requests[requestKey{"unknown", statusLabel(statusCode), false}]++
}

// IncActive and DecActive maintain the in-flight request gauge.
func (c *Collector) IncActive() { c.active.Add(1) }
func (c *Collector) DecActive() { c.active.Add(-1) }

// Snapshot returns a consistent copy of the aggregate state. Repeated
// calls without intervening Record return identical values. Cost totals
// are rounded to currency precision here; accumulation is full precision.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		TotalRequests:      c.total,
		ActiveRequests:     c.active.Load(),
		TotalCostUSD:       roundUSD(c.actualCost),
		AlwaysLargeCostUSD: roundUSD(c.alwaysLarge),
		SavingsUSD:         roundUSD(c.alwaysLarge - c.actualCost),
		Latency:            make(map[string]Histogram, len(c.latency)),
		Cost:               make(map[string]Histogram, len(c.cost)),
	}

	for k, v := range c.requests {
		snap.Requests = append(snap.Requests, RequestCount{
			Model: k.model, StatusCode: k.status, Fallback: k.fallback, Count: v,
		})
	}
	sort.Slice(snap.Requests, func(i, j int) bool { return snap.Requests[i].less(snap.Requests[j]) })

	for k, v := range c.fallbacks {
		snap.Fallbacks = append(snap.Fallbacks, FallbackCount{From: k.from, To: k.to, Count: v})
	}
	sort.Slice(snap.Fallbacks, func(i, j int) bool {
		a, b := snap.Fallbacks[i], snap.Fallbacks[j]
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})

	for k, v := range c.tokens {
		snap.Tokens = append(snap.Tokens, TokenCount{Model: k.model, Type: k.typ, Count: v})
	}
	sort.Slice(snap.Tokens, func(i, j int) bool {
		a, b := snap.Tokens[i], snap.Tokens[j]
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		return a.Type < b.Type
	})

	for model, h := range c.latency {
		snap.Latency[model] = h.export()
	}
	for model, h := range c.cost {
		snap.Cost[model] = h.export()
	}

	return snap
}

func (c *Collector) hist(m map[string]*histogram, model string, bounds []float64) *histogram {
	h, ok := m[model]
	if !ok {
		h = newHistogram(bounds)
		m[model] = h
	}
	return h
}

func statusLabel(code int) string {
	if code <= 0 {
		return "0"
	}
	return strconv.Itoa(code)
}

func roundUSD(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// histogram is a fixed-bucket histogram, non-cumulative internally.
type histogram struct {
	bounds []float64
	counts []uint64 // len(bounds)+1; last bucket is +Inf
	sum    float64
	count  uint64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, counts: make([]uint64, len(bounds)+1)}
}

func (h *histogram) observe(v float64) {
	idx := len(h.bounds)
	for i, b := range h.bounds {
		if v <= b {
			idx = i
			break
		}
	}
	h.counts[idx]++
	h.sum += v
	h.count++
}

func (h *histogram) export() Histogram {
	out := Histogram{
		Bounds:     append([]float64(nil), h.bounds...),
		Cumulative: make([]uint64, len(h.counts)),
		Sum:        h.sum,
		Count:      h.count,
	}
	var running uint64
	for i, c := range h.counts {
		running += c
		out.Cumulative[i] = running
	}
	return out
}
