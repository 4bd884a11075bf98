package terminal

import (
	"fmt"
	"io"
	"sort"
	"time"

	"mdstreamv1/internal/model"
	"mdstreamv1/internal/stats"
)

// Renderer writes dashboard frames as plain text. Not goroutine-safe;
// the render loop owns it.
type Renderer struct {
	out      io.Writer
	enhanced bool
	tracker  *stats.LatencyTracker

	consensus    model.Signal
	hasConsensus bool
	status       string
}

// NewRenderer creates a text renderer. enhanced adds the volatility,
// momentum, velocity and spread columns plus feed-latency percentiles.
// tracker may be nil.
func NewRenderer(out io.Writer, enhanced bool, tracker *stats.LatencyTracker) *Renderer {
	return &Renderer{out: out, enhanced: enhanced, tracker: tracker}
}

// SetConsensus pins the latest consensus signal onto subsequent frames.
func (r *Renderer) SetConsensus(sig model.Signal) {
	r.consensus = sig
	r.hasConsensus = true
}

// SetStatus pins the market-session line shown under the header.
func (r *Renderer) SetStatus(status string) {
	r.status = status
}

// Render writes one frame for the snapshot.
func (r *Renderer) Render(snap Snapshot) {
	fmt.Fprintln(r.out, "╔══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(r.out, "║  MARKET DATA TERMINAL                                            ║")
	fmt.Fprintln(r.out, "╚══════════════════════════════════════════════════════════════════╝")

	if r.status != "" {
		fmt.Fprintf(r.out, "%s\n", r.status)
	}
	fmt.Fprintf(r.out, "Symbols: %s\n\n", joinSymbols(snap.Symbols))

	fmt.Fprintf(r.out, "Recent trades (newest first, max %d)\n", snap.MaxTrades)
	if len(snap.RecentTrades) == 0 {
		fmt.Fprintln(r.out, "  waiting for trades...")
	} else {
		fmt.Fprintf(r.out, "  %-14s %-8s %12s %10s %9s\n", "TIME", "SYMBOL", "PRICE", "VOLUME", "LATENCY")
		for _, tr := range snap.RecentTrades {
			fmt.Fprintf(r.out, "  %-14s %-8s %12.2f %10.0f %7dms\n",
				fmtTime(tr.SourceTS), tr.Symbol, tr.Price, tr.Volume, tr.LatencyMs)
		}
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Statistics")
	if len(snap.Statistics) == 0 {
		fmt.Fprintln(r.out, "  no data yet")
	} else {
		fmt.Fprintf(r.out, "  %-8s %8s %12s %12s %12s %12s\n", "SYMBOL", "TRADES", "MEAN", "MIN", "MAX", "VWAP")
		for _, sym := range sortedKeys(snap.Statistics) {
			st := snap.Statistics[sym]
			fmt.Fprintf(r.out, "  %-8s %8d %12.2f %12.2f %12.2f %12.2f\n",
				sym, st.Count, st.Mean(), st.Min(), st.Max(), st.VWAP())
		}

		if r.enhanced {
			fmt.Fprintln(r.out)
			fmt.Fprintln(r.out, "Enhanced metrics")
			fmt.Fprintf(r.out, "  %-8s %10s %10s %10s %10s\n", "SYMBOL", "VOL%", "MOM%", "TRADES/S", "SPREAD%")
			for _, sym := range sortedKeys(snap.Statistics) {
				st := snap.Statistics[sym]
				fmt.Fprintf(r.out, "  %-8s %10.2f %10.2f %10.2f %10.2f\n",
					sym, st.Volatility(), st.Momentum(), st.TradeVelocity(), st.SpreadApprox())
			}
		}
	}

	if r.enhanced && r.tracker != nil && r.tracker.Count() > 0 {
		p50, p95, p99 := r.tracker.Percentiles()
		fmt.Fprintf(r.out, "\nFeed latency: p50 %.1fms  p95 %.1fms  p99 %.1fms  (n=%d)\n",
			p50, p95, p99, r.tracker.Count())
	}

	if r.hasConsensus {
		fmt.Fprintf(r.out, "\nConsensus: %s", r.consensus.Kind)
		if r.consensus.Kind != model.SignalHold {
			fmt.Fprintf(r.out, " (%.2f)  %s", r.consensus.Strength, r.consensus.Reason)
		}
		fmt.Fprintln(r.out)
	}
}

func fmtTime(ms int64) string {
	return time.UnixMilli(ms).Format("15:04:05.000")
}

func joinSymbols(symbols []string) string {
	out := ""
	for i, s := range symbols {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	if out == "" {
		out = "(none)"
	}
	return out
}

func sortedKeys(m map[string]stats.StatsState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
