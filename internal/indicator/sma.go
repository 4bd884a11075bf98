package indicator

import (
	"context"
	"fmt"

	"mdstreamv1/internal/model"
)

// SMA computes a Simple Moving Average over the last `period` trades.
// Uses a preallocated circular buffer for a zero-allocation hot path.
type SMA struct {
	id     string
	symbol string
	period int

	buf   []float64 // preallocated circular buffer
	idx   int       // current write position
	count int       // total trades received
	sum   float64
}

// NewSMA creates an SMA indicator for one symbol with the given period.
func NewSMA(period int, symbol string) *SMA {
	return &SMA{
		id:     fmt.Sprintf("sma-%d-%s", period, symbol),
		symbol: symbol,
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) ID() string     { return s.id }
func (s *SMA) Name() string   { return fmt.Sprintf("SMA(%d)", s.period) }
func (s *SMA) Symbol() string { return s.symbol }

func (s *SMA) Process(ctx context.Context, in <-chan model.TradeRecord) <-chan model.IndicatorState {
	return scan(ctx, in, s.symbol, s.step)
}

func (s *SMA) step(tr model.TradeRecord) (model.IndicatorState, bool) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = tr.Price
	s.sum += tr.Price
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count < s.period {
		return model.IndicatorState{}, false
	}
	return model.IndicatorState{
		ID:         s.id,
		Name:       s.Name(),
		Symbol:     s.symbol,
		LastUpdate: tr.SourceTS,
		Value:      s.sum / float64(s.period),
		Metadata: map[string]interface{}{
			"lastPrice":  tr.Price,
			"lastVolume": tr.Volume,
			"period":     s.period,
		},
	}, true
}

func (s *SMA) Signal(st model.IndicatorState) model.Signal {
	return trendSignal(st)
}

func (s *SMA) CheckTrigger(st model.IndicatorState, cond model.TriggerCondition) bool {
	return evaluateTrigger(st, cond)
}
