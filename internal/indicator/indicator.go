// Package indicator provides streaming technical indicators over trade data.
//
// Each indicator consumes a trade stream, filters it to its configured
// symbol, and emits at most one IndicatorState per matching trade once its
// warm-up window is satisfied. Signal and CheckTrigger derive from the
// emitted state alone, so they are safe to call from any goroutine.
package indicator

import (
	"context"
	"fmt"

	"mdstreamv1/internal/model"
)

// Indicator is the interface for all streaming indicators.
type Indicator interface {
	// ID returns a unique instance id (e.g. "sma-20-AAPL").
	ID() string

	// Name returns the display name (e.g. "SMA(20)").
	Name() string

	// Symbol returns the symbol this instance is bound to.
	Symbol() string

	// Process consumes trades and emits states. It filters to the
	// configured symbol, emits nothing during warm-up, and closes the
	// output when the input closes or ctx is cancelled. Each instance
	// supports a single Process call; internal state is owned by the
	// scan goroutine.
	Process(ctx context.Context, in <-chan model.TradeRecord) <-chan model.IndicatorState

	// Signal maps a state to Buy/Sell/Hold with a strength in [0,1].
	Signal(state model.IndicatorState) model.Signal

	// CheckTrigger evaluates a condition against a state.
	CheckTrigger(state model.IndicatorState, cond model.TriggerCondition) bool
}

// stepFunc advances an indicator by one matching trade. It returns the
// next state and false while the indicator is still warming up.
type stepFunc func(model.TradeRecord) (model.IndicatorState, bool)

// scan runs the shared Process loop: symbol filter, warm-up gating,
// cancellation-aware emission.
func scan(ctx context.Context, in <-chan model.TradeRecord, symbol string, step stepFunc) <-chan model.IndicatorState {
	out := make(chan model.IndicatorState)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case tr, ok := <-in:
				if !ok {
					return
				}
				if tr.Symbol != symbol {
					continue
				}
				st, ready := step(tr)
				if !ready {
					continue
				}
				select {
				case out <- st:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// evaluateTrigger is the shared CheckTrigger implementation. Every rule
// reads only the public state, so one evaluator serves all indicators;
// conditions an indicator cannot answer are false.
func evaluateTrigger(st model.IndicatorState, cond model.TriggerCondition) bool {
	switch cond.Kind {
	case model.TriggerPriceAbove:
		p, ok := st.Meta("lastPrice")
		return ok && p > cond.Threshold
	case model.TriggerPriceBelow:
		p, ok := st.Meta("lastPrice")
		return ok && p < cond.Threshold
	case model.TriggerVolumeAbove:
		v, ok := st.Meta("lastVolume")
		return ok && v > cond.Threshold
	case model.TriggerVolatilityAbove:
		vol, ok := st.Meta("volatility")
		return ok && vol > cond.Threshold
	case model.TriggerCrossOver:
		crossed, ok := st.Meta("crossed")
		if !ok || crossed == 0 {
			return false
		}
		fast, _ := st.Meta("fastPeriod")
		slow, _ := st.Meta("slowPeriod")
		return int(fast) == cond.FastPeriod && int(slow) == cond.SlowPeriod
	default:
		return false
	}
}

// trendSignal is the shared moving-average signal rule: Buy above a 2%
// band over the average, Sell below, Hold inside. Directional strength
// is the family's fixed 0.6.
func trendSignal(st model.IndicatorState) model.Signal {
	price, ok := st.Meta("lastPrice")
	if !ok || st.Value == 0 {
		return model.Hold(st.LastUpdate)
	}
	switch {
	case price > st.Value*1.02:
		return model.Buy(0.6, st.LastUpdate,
			fmt.Sprintf("%s: price %.2f above average %.2f", st.Name, price, st.Value))
	case price < st.Value*0.98:
		return model.Sell(0.6, st.LastUpdate,
			fmt.Sprintf("%s: price %.2f below average %.2f", st.Name, price, st.Value))
	default:
		return model.Hold(st.LastUpdate)
	}
}
