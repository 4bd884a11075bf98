package indicator

import (
	"context"
	"sync"

	"mdstreamv1/internal/model"
)

// Emission couples an indicator state with the signal derived from it.
type Emission struct {
	IndicatorID string
	State       model.IndicatorState
	Signal      model.Signal
}

// SubscribeFunc hands each indicator its own trade stream. The engine
// calls it once per indicator before Run returns, so one slow indicator
// only exerts backpressure on its own queue and no indicator misses
// trades published right after startup.
type SubscribeFunc func(ctx context.Context) <-chan model.TradeRecord

// Engine drives a set of indicators and merges their signals onto a
// single emission stream.
//
// Optional fields, set before Run:
//   - Triggers: conditions checked against every emitted state.
//   - OnTrigger: invoked when a condition fires for a state.
type Engine struct {
	indicators []Indicator

	Triggers  []model.TriggerCondition
	OnTrigger func(ind Indicator, st model.IndicatorState, cond model.TriggerCondition)
}

// NewEngine creates an engine over the given indicator instances.
func NewEngine(indicators ...Indicator) *Engine {
	return &Engine{indicators: indicators}
}

// Indicators returns the driven instances.
func (e *Engine) Indicators() []Indicator {
	return e.indicators
}

// Run starts one goroutine per indicator and returns the merged emission
// stream. The stream closes when every indicator's input has ended or
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context, subscribe SubscribeFunc) <-chan Emission {
	out := make(chan Emission)
	var wg sync.WaitGroup

	for _, ind := range e.indicators {
		in := subscribe(ctx)
		wg.Add(1)
		go func(ind Indicator, in <-chan model.TradeRecord) {
			defer wg.Done()
			for st := range ind.Process(ctx, in) {
				for _, cond := range e.Triggers {
					if e.OnTrigger != nil && ind.CheckTrigger(st, cond) {
						e.OnTrigger(ind, st, cond)
					}
				}
				select {
				case out <- Emission{IndicatorID: ind.ID(), State: st, Signal: ind.Signal(st)}:
				case <-ctx.Done():
					return
				}
			}
		}(ind, in)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
