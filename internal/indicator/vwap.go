package indicator

import (
	"context"
	"fmt"
	"time"

	"mdstreamv1/internal/model"
)

// VWAP accumulates volume-weighted average price. With resetDaily the
// accumulators clear when the trade date (UTC, from sourceTimestamp)
// rolls over, matching the session-anchored VWAP convention.
type VWAP struct {
	id         string
	symbol     string
	resetDaily bool

	sumPV   float64
	sumV    float64
	curDate string
	count   int
}

// NewVWAP creates a VWAP indicator. resetDaily anchors it to the trading day.
func NewVWAP(symbol string, resetDaily bool) *VWAP {
	return &VWAP{
		id:         fmt.Sprintf("vwap-%s", symbol),
		symbol:     symbol,
		resetDaily: resetDaily,
	}
}

func (v *VWAP) ID() string     { return v.id }
func (v *VWAP) Name() string   { return "VWAP" }
func (v *VWAP) Symbol() string { return v.symbol }

func (v *VWAP) Process(ctx context.Context, in <-chan model.TradeRecord) <-chan model.IndicatorState {
	return scan(ctx, in, v.symbol, v.step)
}

func (v *VWAP) step(tr model.TradeRecord) (model.IndicatorState, bool) {
	if v.resetDaily {
		date := time.UnixMilli(tr.SourceTS).UTC().Format("2006-01-02")
		if v.curDate != "" && date != v.curDate {
			v.sumPV, v.sumV, v.count = 0, 0, 0
		}
		v.curDate = date
	}

	v.sumPV += tr.Price * tr.Volume
	v.sumV += tr.Volume
	v.count++

	// Zero cumulative volume: fall back to the current price
	value := tr.Price
	if v.sumV > 0 {
		value = v.sumPV / v.sumV
	}

	return model.IndicatorState{
		ID:         v.id,
		Name:       v.Name(),
		Symbol:     v.symbol,
		LastUpdate: tr.SourceTS,
		Value:      value,
		Metadata: map[string]interface{}{
			"lastPrice":  tr.Price,
			"lastVolume": tr.Volume,
			"cumVolume":  v.sumV,
			"trades":     v.count,
		},
	}, true
}

func (v *VWAP) Signal(st model.IndicatorState) model.Signal {
	price, ok := st.Meta("lastPrice")
	if !ok || st.Value == 0 {
		return model.Hold(st.LastUpdate)
	}
	switch {
	case price > st.Value*1.015:
		return model.Buy(0.6, st.LastUpdate,
			fmt.Sprintf("VWAP: price %.2f above vwap %.2f", price, st.Value))
	case price < st.Value*0.985:
		return model.Sell(0.6, st.LastUpdate,
			fmt.Sprintf("VWAP: price %.2f below vwap %.2f", price, st.Value))
	default:
		return model.Hold(st.LastUpdate)
	}
}

func (v *VWAP) CheckTrigger(st model.IndicatorState, cond model.TriggerCondition) bool {
	return evaluateTrigger(st, cond)
}
