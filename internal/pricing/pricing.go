// Package pricing computes per-attempt cost from token counts. Rates are
// stored per-token, derived from published per-million-token prices.
package pricing

import "time"

// Rates holds per-token USD rates for one model.
type Rates struct {
	InputPerToken  float64
	OutputPerToken float64
}

// PerMillion converts per-million-token prices to per-token rates.
func PerMillion(input, output float64) Rates {
	return Rates{
		InputPerToken:  input / 1_000_000,
		OutputPerToken: output / 1_000_000,
	}
}

// Cost computes the cost of a call at these rates. No rounding; callers
// round at the reporting boundary only.
func (r Rates) Cost(tokensIn, tokensOut int64) float64 {
	return float64(tokensIn)*r.InputPerToken + float64(tokensOut)*r.OutputPerToken
}

// Table maps model ids to rates. Lookup only, no other logic.
type Table struct {
	rates map[string]Rates
}

func NewTable(rates map[string]Rates) *Table {
	copied := make(map[string]Rates, len(rates))
	for id, r := range rates {
		copied[id] = r
	}
	return &Table{rates: copied}
}

// Rates returns the rates for a model id. Unknown models cost zero.
func (t *Table) Rates(modelID string) (Rates, bool) {
	r, ok := t.rates[modelID]
	return r, ok
}

// Cost computes the cost of a call against a model in the table.
func (t *Table) Cost(modelID string, tokensIn, tokensOut int64) float64 {
	r, ok := t.rates[modelID]
	if !ok {
		return 0
	}
	return r.Cost(tokensIn, tokensOut)
}

// Usage is the measured cost and latency of one attempt.
type Usage struct {
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
	LatencyMs float64
}

// Measure computes an attempt's usage from token counts and timestamps.
// Pure function; no shared state.
func Measure(t *Table, modelID string, tokensIn, tokensOut int64, start, end time.Time) Usage {
	return Usage{
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUSD:   t.Cost(modelID, tokensIn, tokensOut),
		LatencyMs: float64(end.Sub(start)) / float64(time.Millisecond),
	}
}
