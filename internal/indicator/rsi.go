package indicator

import (
	"context"
	"fmt"
	"math"

	"mdstreamv1/internal/model"
)

// RSI computes the Relative Strength Index using Wilder's smoothing.
// O(1) per trade, no history scans. The first `period` deltas seed the
// averages with simple means; Wilder smoothing applies afterwards.
type RSI struct {
	id         string
	symbol     string
	period     int
	oversold   float64
	overbought float64

	count     int
	prevPrice float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates an RSI indicator with the standard 30/70 thresholds.
func NewRSI(period int, symbol string) *RSI {
	return &RSI{
		id:         fmt.Sprintf("rsi-%d-%s", period, symbol),
		symbol:     symbol,
		period:     period,
		oversold:   30,
		overbought: 70,
	}
}

// NewRSIWithThresholds creates an RSI indicator with custom oversold and
// overbought levels.
func NewRSIWithThresholds(period int, symbol string, oversold, overbought float64) *RSI {
	r := NewRSI(period, symbol)
	r.oversold = oversold
	r.overbought = overbought
	return r
}

func (r *RSI) ID() string     { return r.id }
func (r *RSI) Name() string   { return fmt.Sprintf("RSI(%d)", r.period) }
func (r *RSI) Symbol() string { return r.symbol }

func (r *RSI) Process(ctx context.Context, in <-chan model.TradeRecord) <-chan model.IndicatorState {
	return scan(ctx, in, r.symbol, r.step)
}

func (r *RSI) step(tr model.TradeRecord) (model.IndicatorState, bool) {
	price := tr.Price
	r.count++

	if r.count == 1 {
		// First trade, no delta yet
		r.prevPrice = price
		return model.IndicatorState{}, false
	}

	delta := price - r.prevPrice
	r.prevPrice = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build the initial averages
		r.avgGain += gain
		r.avgLoss += loss
		if r.count < r.period+1 {
			return model.IndicatorState{}, false
		}
		r.avgGain /= float64(r.period)
		r.avgLoss /= float64(r.period)
	} else {
		// Wilder's smoothing: avg' = (avg*(period-1) + x) / period
		p := float64(r.period)
		r.avgGain = (r.avgGain*(p-1) + gain) / p
		r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	}

	if r.avgLoss == 0 {
		r.current = 100.0
	} else {
		rs := r.avgGain / r.avgLoss
		r.current = 100.0 - 100.0/(1.0+rs)
	}

	return model.IndicatorState{
		ID:         r.id,
		Name:       r.Name(),
		Symbol:     r.symbol,
		LastUpdate: tr.SourceTS,
		Value:      r.current,
		Metadata: map[string]interface{}{
			"lastPrice":  tr.Price,
			"lastVolume": tr.Volume,
			"period":     r.period,
			"oversold":   r.oversold,
			"overbought": r.overbought,
		},
	}, true
}

func (r *RSI) Signal(st model.IndicatorState) model.Signal {
	rsi := st.Value
	oversold, ok := st.Meta("oversold")
	if !ok {
		oversold = 30
	}
	overbought, ok := st.Meta("overbought")
	if !ok {
		overbought = 70
	}

	switch {
	case rsi < oversold:
		strength := math.Min(1, (oversold-rsi)/oversold)
		return model.Buy(strength, st.LastUpdate,
			fmt.Sprintf("%s: %.1f oversold (below %.0f)", st.Name, rsi, oversold))
	case rsi > overbought:
		strength := math.Min(1, (rsi-overbought)/(100-overbought))
		return model.Sell(strength, st.LastUpdate,
			fmt.Sprintf("%s: %.1f overbought (above %.0f)", st.Name, rsi, overbought))
	default:
		return model.Hold(st.LastUpdate)
	}
}

func (r *RSI) CheckTrigger(st model.IndicatorState, cond model.TriggerCondition) bool {
	return evaluateTrigger(st, cond)
}
