package model

import (
	json "github.com/goccy/go-json"
)

// SignalKind classifies a trading signal.
type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
	SignalHold SignalKind = "HOLD"
)

// Signal is an indicator's (or the aggregator's) verdict on the stream.
// Strength is confidence in [0,1]; Hold carries strength 0 by definition.
type Signal struct {
	Kind     SignalKind `json:"kind"`
	Strength float64    `json:"strength"`
	TS       int64      `json:"ts"` // ms since epoch
	Reason   string     `json:"reason,omitempty"`
}

// Buy builds a Buy signal, clamping strength into [0,1].
func Buy(strength float64, ts int64, reason string) Signal {
	return Signal{Kind: SignalBuy, Strength: clamp01(strength), TS: ts, Reason: reason}
}

// Sell builds a Sell signal, clamping strength into [0,1].
func Sell(strength float64, ts int64, reason string) Signal {
	return Signal{Kind: SignalSell, Strength: clamp01(strength), TS: ts, Reason: reason}
}

// Hold builds a neutral signal. Strength is always 0.
func Hold(ts int64) Signal {
	return Signal{Kind: SignalHold, TS: ts}
}

// JSON returns the JSON-encoded signal (ignoring errors for hot-path usage).
func (s Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// IndicatorState is the public snapshot an indicator emits per processed
// trade. The indicator's private accumulator (rings, smoothed averages,
// cumulative sums) stays internal; everything a signal rule or trigger check
// needs must be present here.
type IndicatorState struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Symbol     string                 `json:"symbol"`
	LastUpdate int64                  `json:"last_update"` // ms since epoch
	Value      float64                `json:"value"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Meta returns a metadata entry as float64, with ok=false when the key is
// missing or holds a non-numeric value.
func (s IndicatorState) Meta(key string) (float64, bool) {
	v, ok := s.Metadata[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}
