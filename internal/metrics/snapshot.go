package metrics

// Snapshot is a read-only, point-in-time copy of the aggregate state.
type Snapshot struct {
	TotalRequests  uint64
	ActiveRequests int64

	Requests  []RequestCount
	Fallbacks []FallbackCount
	Tokens    []TokenCount

	Latency map[string]Histogram // per logical model, ms
	Cost    map[string]Histogram // per logical model, USD

	TotalCostUSD       float64
	AlwaysLargeCostUSD float64 // hypothetical: every request at large-tier rates
	SavingsUSD         float64
}

type RequestCount struct {
	Model      string
	StatusCode string
	Fallback   bool
	Count      uint64
}

func (r RequestCount) less(o RequestCount) bool {
	if r.Model != o.Model {
		return r.Model < o.Model
	}
	if r.StatusCode != o.StatusCode {
		return r.StatusCode < o.StatusCode
	}
	return !r.Fallback && o.Fallback
}

type FallbackCount struct {
	From  string
	To    string
	Count uint64
}

type TokenCount struct {
	Model string
	Type  string // "input" or "output"
	Count uint64
}

// Histogram is an exported fixed-bucket histogram with cumulative counts.
// Cumulative[len(Bounds)] is the +Inf bucket and equals Count.
type Histogram struct {
	Bounds     []float64
	Cumulative []uint64
	Sum        float64
	Count      uint64
}

// Mean returns the average observed value, or 0 for an empty histogram.
func (h Histogram) Mean() float64 {
	if h.Count == 0 {
		return 0
	}
	return h.Sum / float64(h.Count)
}

// Quantile estimates the q-th quantile (0 < q <= 1) by linear
// interpolation within the containing bucket. Values in the +Inf bucket
// report the highest finite bound.
func (h Histogram) Quantile(q float64) float64 {
	if h.Count == 0 || len(h.Bounds) == 0 {
		return 0
	}
	rank := q * float64(h.Count)
	var prevCum uint64
	lower := 0.0
	for i, bound := range h.Bounds {
		cum := h.Cumulative[i]
		if float64(cum) >= rank {
			inBucket := float64(cum - prevCum)
			if inBucket == 0 {
				return bound
			}
			frac := (rank - float64(prevCum)) / inBucket
			return lower + frac*(bound-lower)
		}
		prevCum = cum
		lower = bound
	}
	return h.Bounds[len(h.Bounds)-1]
}

// FallbackCountFor returns the counter for a (from, to) pair.
func (s Snapshot) FallbackCountFor(from, to string) uint64 {
	for _, f := range s.Fallbacks {
		if f.From == from && f.To == to {
			return f.Count
		}
	}
	return 0
}

// RequestCountFor sums counters matching model and status.
func (s Snapshot) RequestCountFor(model, status string) uint64 {
	var total uint64
	for _, r := range s.Requests {
		if r.Model == model && r.StatusCode == status {
			total += r.Count
		}
	}
	return total
}
