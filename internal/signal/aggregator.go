// Package signal combines per-indicator signals into a consensus.
package signal

import (
	"context"
	"math"
	"strings"

	"mdstreamv1/internal/indicator"
	"mdstreamv1/internal/model"
)

// Aggregate reduces a batch of signals to one consensus signal.
//
// buyScore is the summed strength of Buy inputs (Hold carries zero by
// definition), sellScore likewise. A side wins when it beats the other
// AND clears 0.3 per input signal; consensus strength is the winning
// score averaged over all inputs, capped at 1. Anything else is Hold at
// the latest input timestamp. The reason concatenates the winning
// side's reasons.
func Aggregate(signals []model.Signal) model.Signal {
	if len(signals) == 0 {
		return model.Hold(0)
	}

	var buyScore, sellScore float64
	var latest int64
	var buyReasons, sellReasons []string
	for _, s := range signals {
		if s.TS > latest {
			latest = s.TS
		}
		switch s.Kind {
		case model.SignalBuy:
			buyScore += s.Strength
			if s.Reason != "" {
				buyReasons = append(buyReasons, s.Reason)
			}
		case model.SignalSell:
			sellScore += s.Strength
			if s.Reason != "" {
				sellReasons = append(sellReasons, s.Reason)
			}
		}
	}

	n := float64(len(signals))
	minScore := 0.3 * n
	switch {
	case buyScore > sellScore && buyScore > minScore:
		return model.Buy(math.Min(1, buyScore/n), latest, strings.Join(buyReasons, "; "))
	case sellScore > buyScore && sellScore > minScore:
		return model.Sell(math.Min(1, sellScore/n), latest, strings.Join(sellReasons, "; "))
	default:
		return model.Hold(latest)
	}
}

// Aggregator keeps the latest signal per indicator and re-derives the
// consensus after every update. Single-goroutine usage; Run owns the
// state.
type Aggregator struct {
	ids    []string // first-seen order, for deterministic aggregation
	latest map[string]model.Signal
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{latest: make(map[string]model.Signal, 8)}
}

// Update records the newest signal for an indicator and returns the
// consensus over the latest signal of every indicator seen so far.
func (a *Aggregator) Update(indicatorID string, sig model.Signal) model.Signal {
	if _, seen := a.latest[indicatorID]; !seen {
		a.ids = append(a.ids, indicatorID)
	}
	a.latest[indicatorID] = sig
	return Aggregate(a.Snapshot())
}

// Snapshot returns the latest signal per indicator in first-seen order.
func (a *Aggregator) Snapshot() []model.Signal {
	out := make([]model.Signal, 0, len(a.ids))
	for _, id := range a.ids {
		out = append(out, a.latest[id])
	}
	return out
}

// Run consumes indicator emissions and emits a consensus signal after
// each one. The output closes when the input closes or ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, in <-chan indicator.Emission) <-chan model.Signal {
	out := make(chan model.Signal)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case em, ok := <-in:
				if !ok {
					return
				}
				consensus := a.Update(em.IndicatorID, em.Signal)
				select {
				case out <- consensus:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
