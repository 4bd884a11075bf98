package indicator

import (
	"context"
	"fmt"
	"math"

	"mdstreamv1/internal/model"
)

// VolatilityMethod selects the volatility estimator.
type VolatilityMethod string

const (
	MethodStdDev    VolatilityMethod = "stdDev"
	MethodATR       VolatilityMethod = "atr"
	MethodParkinson VolatilityMethod = "parkinson"
)

// Volatility computes annualized volatility from simple returns over a
// rolling price ring. The atr and parkinson methods would need high/low
// data that trade records do not carry, so they reduce to the stdDev
// estimator here.
type Volatility struct {
	id        string
	symbol    string
	period    int
	method    VolatilityMethod
	threshold float64

	buf   []float64
	idx   int
	count int
	prev  float64 // previous volatility value, for the rising/falling rule
}

// NewVolatility creates a volatility indicator. highThreshold is the
// annualized percentage above which the market counts as turbulent.
func NewVolatility(period int, symbol string, method VolatilityMethod, highThreshold float64) *Volatility {
	if method == "" {
		method = MethodStdDev
	}
	return &Volatility{
		id:        fmt.Sprintf("volatility-%d-%s", period, symbol),
		symbol:    symbol,
		period:    period,
		method:    method,
		threshold: highThreshold,
		buf:       make([]float64, period),
	}
}

func (v *Volatility) ID() string     { return v.id }
func (v *Volatility) Name() string   { return fmt.Sprintf("Volatility(%d)", v.period) }
func (v *Volatility) Symbol() string { return v.symbol }

func (v *Volatility) Process(ctx context.Context, in <-chan model.TradeRecord) <-chan model.IndicatorState {
	return scan(ctx, in, v.symbol, v.step)
}

func (v *Volatility) step(tr model.TradeRecord) (model.IndicatorState, bool) {
	v.buf[v.idx] = tr.Price
	v.idx = (v.idx + 1) % v.period
	v.count++

	if v.count < v.period {
		return model.IndicatorState{}, false
	}

	value := v.annualized()
	prev := v.prev
	v.prev = value

	return model.IndicatorState{
		ID:         v.id,
		Name:       v.Name(),
		Symbol:     v.symbol,
		LastUpdate: tr.SourceTS,
		Value:      value,
		Metadata: map[string]interface{}{
			"lastPrice":  tr.Price,
			"lastVolume": tr.Volume,
			"period":     v.period,
			"method":     string(v.method),
			"volatility": value,
			"previous":   prev,
			"threshold":  v.threshold,
		},
	}, true
}

// annualized computes the population stddev of simple returns over the
// ring in chronological order, scaled by √252 and expressed in percent.
func (v *Volatility) annualized() float64 {
	n := v.period
	returns := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		prev := v.buf[(v.idx+i-1)%n]
		cur := v.buf[(v.idx+i)%n]
		if prev == 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance) * math.Sqrt(252) * 100
}

func (v *Volatility) Signal(st model.IndicatorState) model.Signal {
	vol := st.Value
	prev, _ := st.Meta("previous")
	threshold, ok := st.Meta("threshold")
	if !ok || threshold <= 0 {
		return model.Hold(st.LastUpdate)
	}

	switch {
	case vol > threshold && vol > prev:
		return model.Sell(0.6, st.LastUpdate,
			fmt.Sprintf("%s: %.1f%% above %.1f%% and rising", st.Name, vol, threshold))
	case vol < threshold/2 && vol < prev:
		return model.Buy(0.6, st.LastUpdate,
			fmt.Sprintf("%s: %.1f%% calm and falling", st.Name, vol))
	default:
		return model.Hold(st.LastUpdate)
	}
}

func (v *Volatility) CheckTrigger(st model.IndicatorState, cond model.TriggerCondition) bool {
	return evaluateTrigger(st, cond)
}
