package stats

import (
	"fmt"
	"math"
)

// Trading year used for volatility annualization: 252 sessions.
const tradingYearMs = 252 * 24 * 60 * 60 * 1000

// PricePoint is one retained observation inside a stats window.
type PricePoint struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	TS     int64   `json:"ts"` // ms since epoch
}

// StatsState is the rolling state for one symbol. Update is pure: it returns
// a new state and never mutates the receiver, which lets the collector treat
// map writes as a plain read-compute-store under its lock.
//
// Count, Sum, SumSquares and the all-time Min/Max are maintained
// incrementally across the whole stream; the derived-metric accessors read
// only the retained ring.
type StatsState struct {
	Window     WindowConfig `json:"window"`
	Count      int64        `json:"count"`
	Sum        float64      `json:"sum"`
	SumSquares float64      `json:"sum_squares"`
	MinAll     float64      `json:"min_all"`
	MaxAll     float64      `json:"max_all"`
	Points     []PricePoint `json:"points"`
	LastUpdate int64        `json:"last_update"` // ms since epoch
}

// InsufficientDataError reports a derived metric requested with too few
// retained points. Only the -Safe accessors surface it; the plain accessors
// return a neutral 0 instead.
type InsufficientDataError struct {
	Metric string
	Need   int
	Have   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: need %d points, have %d", e.Metric, e.Need, e.Have)
}

// NewStatsState builds an empty state under the given window.
func NewStatsState(w WindowConfig) StatsState {
	return StatsState{Window: w}
}

// Update folds one observation into the state and applies the retention
// policy. The time filter uses the new observation's timestamp as "now".
func (s StatsState) Update(price, volume float64, ts int64) StatsState {
	next := s
	next.Count++
	next.Sum += price
	next.SumSquares += price * price
	if s.Count == 0 || price < s.MinAll {
		next.MinAll = price
	}
	if s.Count == 0 || price > s.MaxAll {
		next.MaxAll = price
	}
	next.LastUpdate = ts

	pts := append(s.Points[:len(s.Points):len(s.Points)], PricePoint{Price: price, Volume: volume, TS: ts})

	switch s.Window.Kind {
	case WindowEventBased:
		pts = truncateTail(pts, s.Window.Size)
	case WindowTimeBased:
		pts = dropOlderThan(pts, ts-s.Window.Duration.Milliseconds())
	case WindowHybrid:
		pts = dropOlderThan(pts, ts-s.Window.Duration.Milliseconds())
		pts = truncateTail(pts, s.Window.Size)
	}
	next.Points = pts
	return next
}

// truncateTail keeps the last n points.
func truncateTail(pts []PricePoint, n int) []PricePoint {
	if n > 0 && len(pts) > n {
		return pts[len(pts)-n:]
	}
	return pts
}

// dropOlderThan drops points with TS < cutoff. Points arrive in receipt
// order, so a single scan from the front suffices.
func dropOlderThan(pts []PricePoint, cutoff int64) []PricePoint {
	i := 0
	for i < len(pts) && pts[i].TS < cutoff {
		i++
	}
	return pts[i:]
}

// ────────────────────────────────────────────────────────────
// Derived metrics (computed on demand from the retained ring)
// ────────────────────────────────────────────────────────────

// Mean is the average retained price. 0 when the ring is empty.
func (s StatsState) Mean() float64 {
	n := len(s.Points)
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range s.Points {
		sum += p.Price
	}
	return sum / float64(n)
}

// StdDev is the population standard deviation of retained prices.
func (s StatsState) StdDev() float64 {
	n := len(s.Points)
	if n == 0 {
		return 0
	}
	mean := s.Mean()
	ss := 0.0
	for _, p := range s.Points {
		d := p.Price - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}

// Min is the lowest retained price (ring, not all-time).
func (s StatsState) Min() float64 {
	if len(s.Points) == 0 {
		return 0
	}
	min := s.Points[0].Price
	for _, p := range s.Points[1:] {
		if p.Price < min {
			min = p.Price
		}
	}
	return min
}

// Max is the highest retained price (ring, not all-time).
func (s StatsState) Max() float64 {
	if len(s.Points) == 0 {
		return 0
	}
	max := s.Points[0].Price
	for _, p := range s.Points[1:] {
		if p.Price > max {
			max = p.Price
		}
	}
	return max
}

// Volatility is the annualized log-return volatility in percent:
// stddev(log returns) × √(tradingYear/elapsed) × 100, trading year 252 days.
// 0 when fewer than two points are retained or no time elapsed.
func (s StatsState) Volatility() float64 {
	n := len(s.Points)
	if n < 2 {
		return 0
	}
	elapsed := s.Points[n-1].TS - s.Points[0].TS
	if elapsed <= 0 {
		return 0
	}

	returns := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		prev, cur := s.Points[i-1].Price, s.Points[i].Price
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	ss := 0.0
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	sigma := math.Sqrt(ss / float64(len(returns)))

	return sigma * math.Sqrt(float64(tradingYearMs)/float64(elapsed)) * 100
}

// Momentum is the percent rate of change across the window:
// (last − first)/first × 100.
func (s StatsState) Momentum() float64 {
	n := len(s.Points)
	if n == 0 {
		return 0
	}
	first := s.Points[0].Price
	if first == 0 {
		return 0
	}
	return (s.Points[n-1].Price - first) / first * 100
}

// TradeVelocity is retained points per second over the window's elapsed time.
func (s StatsState) TradeVelocity() float64 {
	n := len(s.Points)
	if n < 2 {
		return 0
	}
	elapsed := s.Points[n-1].TS - s.Points[0].TS
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / float64(elapsed) * 1000
}

// VWAP is the volume-weighted average price over the ring. 0 when total
// volume is 0.
func (s StatsState) VWAP() float64 {
	var pv, v float64
	for _, p := range s.Points {
		pv += p.Price * p.Volume
		v += p.Volume
	}
	if v == 0 {
		return 0
	}
	return pv / v
}

// SpreadApprox approximates the spread as the ring's price range over its
// midpoint, in percent: (max − min) / ((min+max)/2) × 100.
func (s StatsState) SpreadApprox() float64 {
	if len(s.Points) == 0 {
		return 0
	}
	min, max := s.Min(), s.Max()
	mid := (min + max) / 2
	if mid == 0 {
		return 0
	}
	return (max - min) / mid * 100
}

// RecentPrices returns the retained prices oldest-first.
func (s StatsState) RecentPrices() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Price
	}
	return out
}

// ────────────────────────────────────────────────────────────
// -Safe accessors: typed error instead of a neutral 0
// ────────────────────────────────────────────────────────────

// MeanSafe is Mean with an InsufficientDataError on an empty ring.
func (s StatsState) MeanSafe() (float64, error) {
	if len(s.Points) == 0 {
		return 0, &InsufficientDataError{Metric: "mean", Need: 1, Have: 0}
	}
	return s.Mean(), nil
}

// StdDevSafe is StdDev with an InsufficientDataError on an empty ring.
func (s StatsState) StdDevSafe() (float64, error) {
	if len(s.Points) == 0 {
		return 0, &InsufficientDataError{Metric: "stddev", Need: 1, Have: 0}
	}
	return s.StdDev(), nil
}

// VolatilitySafe is Volatility with an InsufficientDataError when fewer than
// two points are retained.
func (s StatsState) VolatilitySafe() (float64, error) {
	if len(s.Points) < 2 {
		return 0, &InsufficientDataError{Metric: "volatility", Need: 2, Have: len(s.Points)}
	}
	return s.Volatility(), nil
}

// MomentumSafe is Momentum with an InsufficientDataError when fewer than two
// points are retained.
func (s StatsState) MomentumSafe() (float64, error) {
	if len(s.Points) < 2 {
		return 0, &InsufficientDataError{Metric: "momentum", Need: 2, Have: len(s.Points)}
	}
	return s.Momentum(), nil
}

// VWAPSafe is VWAP with an InsufficientDataError on an empty ring or zero
// total volume.
func (s StatsState) VWAPSafe() (float64, error) {
	if len(s.Points) == 0 {
		return 0, &InsufficientDataError{Metric: "vwap", Need: 1, Have: 0}
	}
	var pv, vol float64
	for _, p := range s.Points {
		pv += p.Price * p.Volume
		vol += p.Volume
	}
	if vol == 0 {
		return 0, &InsufficientDataError{Metric: "vwap", Need: 1, Have: 0}
	}
	return pv / vol, nil
}
