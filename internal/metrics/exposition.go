package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ContentType is the media type of the exposition output.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

// Render serializes a snapshot in the Prometheus text exposition format.
// Output ordering is deterministic.
func Render(s Snapshot) string {
	var b strings.Builder

	b.WriteString("# HELP router_requests_total Total attempts processed, by model, status and fallback.\n")
	b.WriteString("# TYPE router_requests_total counter\n")
	for _, r := range s.Requests {
		fmt.Fprintf(&b, "router_requests_total{model=%q,status_code=%q,fallback=%q} %d\n",
			r.Model, r.StatusCode, boolLabel(r.Fallback), r.Count)
	}

	b.WriteString("# HELP router_fallback_total Escalations between tiers.\n")
	b.WriteString("# TYPE router_fallback_total counter\n")
	for _, f := range s.Fallbacks {
		fmt.Fprintf(&b, "router_fallback_total{from=%q,to=%q} %d\n", f.From, f.To, f.Count)
	}

	b.WriteString("# HELP router_tokens_total Tokens processed, by model and direction.\n")
	b.WriteString("# TYPE router_tokens_total counter\n")
	for _, t := range s.Tokens {
		fmt.Fprintf(&b, "router_tokens_total{model=%q,type=%q} %d\n", t.Model, t.Type, t.Count)
	}

	writeHistograms(&b, "router_request_latency_ms", "Attempt latency in milliseconds.", s.Latency)
	writeHistograms(&b, "router_cost_usd", "Attempt cost in USD.", s.Cost)

	b.WriteString("# HELP router_active_requests Requests currently in flight.\n")
	b.WriteString("# TYPE router_active_requests gauge\n")
	fmt.Fprintf(&b, "router_active_requests %d\n", s.ActiveRequests)

	b.WriteString("# HELP router_total_cost_usd Accumulated cost of all successful attempts.\n")
	b.WriteString("# TYPE router_total_cost_usd gauge\n")
	fmt.Fprintf(&b, "router_total_cost_usd %s\n", formatFloat(s.TotalCostUSD))

	b.WriteString("# HELP router_hypothetical_large_cost_usd Cost if every request had used the large tier.\n")
	b.WriteString("# TYPE router_hypothetical_large_cost_usd gauge\n")
	fmt.Fprintf(&b, "router_hypothetical_large_cost_usd %s\n", formatFloat(s.AlwaysLargeCostUSD))

	b.WriteString("# HELP router_cost_savings_usd Savings versus always using the large tier.\n")
	b.WriteString("# TYPE router_cost_savings_usd gauge\n")
	fmt.Fprintf(&b, "router_cost_savings_usd %s\n", formatFloat(s.SavingsUSD))

	return b.String()
}

func writeHistograms(b *strings.Builder, name, help string, hists map[string]Histogram) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	models := make([]string, 0, len(hists))
	for m := range hists {
		models = append(models, m)
	}
	sort.Strings(models)

	for _, m := range models {
		h := hists[m]
		for i, bound := range h.Bounds {
			fmt.Fprintf(b, "%s_bucket{model=%q,le=%q} %d\n", name, m, formatFloat(bound), h.Cumulative[i])
		}
		fmt.Fprintf(b, "%s_bucket{model=%q,le=\"+Inf\"} %d\n", name, m, h.Count)
		fmt.Fprintf(b, "%s_sum{model=%q} %s\n", name, m, formatFloat(h.Sum))
		fmt.Fprintf(b, "%s_count{model=%q} %d\n", name, m, h.Count)
	}
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
