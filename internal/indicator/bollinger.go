package indicator

import (
	"context"
	"fmt"
	"math"

	"mdstreamv1/internal/model"
)

// Bollinger computes Bollinger Bands: an SMA centerline with bands at
// k standard deviations over the same ring.
type Bollinger struct {
	id     string
	symbol string
	period int
	k      float64

	buf   []float64
	idx   int
	count int
}

// NewBollinger creates Bollinger Bands with the conventional k=2.
func NewBollinger(period int, symbol string) *Bollinger {
	return NewBollingerK(period, symbol, 2)
}

// NewBollingerK creates Bollinger Bands with a custom band width k.
func NewBollingerK(period int, symbol string, k float64) *Bollinger {
	return &Bollinger{
		id:     fmt.Sprintf("bollinger-%d-%s", period, symbol),
		symbol: symbol,
		period: period,
		k:      k,
		buf:    make([]float64, period),
	}
}

func (b *Bollinger) ID() string     { return b.id }
func (b *Bollinger) Name() string   { return fmt.Sprintf("Bollinger(%d)", b.period) }
func (b *Bollinger) Symbol() string { return b.symbol }

func (b *Bollinger) Process(ctx context.Context, in <-chan model.TradeRecord) <-chan model.IndicatorState {
	return scan(ctx, in, b.symbol, b.step)
}

func (b *Bollinger) step(tr model.TradeRecord) (model.IndicatorState, bool) {
	b.buf[b.idx] = tr.Price
	b.idx = (b.idx + 1) % b.period
	b.count++

	if b.count < b.period {
		return model.IndicatorState{}, false
	}

	mean := 0.0
	for _, p := range b.buf {
		mean += p
	}
	mean /= float64(b.period)

	variance := 0.0
	for _, p := range b.buf {
		d := p - mean
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(b.period))

	upper := mean + b.k*sigma
	lower := mean - b.k*sigma

	// %B = 0.5 at the centerline when the band has zero width
	percentB := 0.5
	if upper != lower {
		percentB = (tr.Price - lower) / (upper - lower)
	}
	bandwidth := 0.0
	if mean != 0 {
		bandwidth = (upper - lower) / mean * 100
	}

	return model.IndicatorState{
		ID:         b.id,
		Name:       b.Name(),
		Symbol:     b.symbol,
		LastUpdate: tr.SourceTS,
		Value:      mean,
		Metadata: map[string]interface{}{
			"lastPrice":  tr.Price,
			"lastVolume": tr.Volume,
			"period":     b.period,
			"upper":      upper,
			"lower":      lower,
			"percentB":   percentB,
			"bandwidth":  bandwidth,
		},
	}, true
}

func (b *Bollinger) Signal(st model.IndicatorState) model.Signal {
	price, okP := st.Meta("lastPrice")
	upper, okU := st.Meta("upper")
	lower, okL := st.Meta("lower")
	percentB, _ := st.Meta("percentB")
	if !okP || !okU || !okL || upper == lower {
		return model.Hold(st.LastUpdate)
	}

	switch {
	case price <= lower:
		strength := math.Min(1, math.Abs(percentB))
		return model.Buy(strength, st.LastUpdate,
			fmt.Sprintf("%s: price %.2f at lower band %.2f", st.Name, price, lower))
	case price >= upper:
		strength := math.Min(1, percentB)
		return model.Sell(strength, st.LastUpdate,
			fmt.Sprintf("%s: price %.2f at upper band %.2f", st.Name, price, upper))
	default:
		return model.Hold(st.LastUpdate)
	}
}

func (b *Bollinger) CheckTrigger(st model.IndicatorState, cond model.TriggerCondition) bool {
	return evaluateTrigger(st, cond)
}
