package indicator

import (
	"context"
	"fmt"

	"mdstreamv1/internal/model"
)

// EMA computes an Exponential Moving Average. O(1) per trade after the
// initial SMA seed.
type EMA struct {
	id         string
	symbol     string
	period     int
	multiplier float64

	current float64
	count   int
	sum     float64
}

// NewEMA creates an EMA indicator for one symbol with the given period.
func NewEMA(period int, symbol string) *EMA {
	return &EMA{
		id:         fmt.Sprintf("ema-%d-%s", period, symbol),
		symbol:     symbol,
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) ID() string     { return e.id }
func (e *EMA) Name() string   { return fmt.Sprintf("EMA(%d)", e.period) }
func (e *EMA) Symbol() string { return e.symbol }

func (e *EMA) Process(ctx context.Context, in <-chan model.TradeRecord) <-chan model.IndicatorState {
	return scan(ctx, in, e.symbol, e.step)
}

func (e *EMA) step(tr model.TradeRecord) (model.IndicatorState, bool) {
	e.count++
	if e.count <= e.period {
		// Accumulate for the initial SMA seed
		e.sum += tr.Price
		if e.count < e.period {
			return model.IndicatorState{}, false
		}
		e.current = e.sum / float64(e.period)
	} else {
		// EMA = price*α + prev*(1-α)
		e.current = tr.Price*e.multiplier + e.current*(1-e.multiplier)
	}

	return model.IndicatorState{
		ID:         e.id,
		Name:       e.Name(),
		Symbol:     e.symbol,
		LastUpdate: tr.SourceTS,
		Value:      e.current,
		Metadata: map[string]interface{}{
			"lastPrice":  tr.Price,
			"lastVolume": tr.Volume,
			"period":     e.period,
		},
	}, true
}

func (e *EMA) Signal(st model.IndicatorState) model.Signal {
	return trendSignal(st)
}

func (e *EMA) CheckTrigger(st model.IndicatorState, cond model.TriggerCondition) bool {
	return evaluateTrigger(st, cond)
}
