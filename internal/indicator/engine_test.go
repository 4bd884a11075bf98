package indicator

import (
	"context"
	"testing"
	"time"

	"mdstreamv1/internal/model"
)

// replayFeed returns a SubscribeFunc that hands every caller its own
// copy of the trades, already closed.
func replayFeed(trades []model.TradeRecord) SubscribeFunc {
	return func(ctx context.Context) <-chan model.TradeRecord {
		ch := make(chan model.TradeRecord, len(trades))
		for _, tr := range trades {
			ch <- tr
		}
		close(ch)
		return ch
	}
}

func TestEngine_MergesIndicatorEmissions(t *testing.T) {
	trades := series(t, "AAPL", 100, 102, 104)
	eng := NewEngine(NewSMA(2, "AAPL"), NewEMA(2, "AAPL"))

	byID := map[string]int{}
	for em := range eng.Run(context.Background(), replayFeed(trades)) {
		byID[em.IndicatorID]++
		if em.State.Symbol != "AAPL" {
			t.Errorf("emission for symbol %s, want AAPL", em.State.Symbol)
		}
	}

	// Period 2 over 3 trades: two states per indicator.
	if byID["sma-2-AAPL"] != 2 || byID["ema-2-AAPL"] != 2 {
		t.Errorf("emission counts = %v, want 2 per indicator", byID)
	}
}

func TestEngine_EmissionCarriesDerivedSignal(t *testing.T) {
	// Last price 110 vs SMA 105: 110 > 105*1.02 → the emission's signal
	// is the Buy the indicator itself would derive.
	trades := series(t, "AAPL", 100, 100, 110)
	eng := NewEngine(NewSMA(2, "AAPL"))

	var last Emission
	for em := range eng.Run(context.Background(), replayFeed(trades)) {
		last = em
	}
	if last.Signal.Kind != model.SignalBuy {
		t.Errorf("last emission signal = %s, want BUY", last.Signal.Kind)
	}
}

func TestEngine_OnTriggerHook(t *testing.T) {
	trades := series(t, "AAPL", 100, 110)
	eng := NewEngine(NewSMA(1, "AAPL"))
	eng.Triggers = []model.TriggerCondition{model.PriceAbove(105)}

	fired := make(chan model.TriggerCondition, 4)
	eng.OnTrigger = func(ind Indicator, st model.IndicatorState, cond model.TriggerCondition) {
		fired <- cond
	}

	for range eng.Run(context.Background(), replayFeed(trades)) {
	}
	close(fired)

	var count int
	for cond := range fired {
		count++
		if cond.Kind != model.TriggerPriceAbove {
			t.Errorf("fired kind = %s, want PRICE_ABOVE", cond.Kind)
		}
	}
	if count != 1 {
		t.Errorf("trigger fired %d times, want 1 (only the 110 trade)", count)
	}
}

func TestEngine_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	open := func(ctx context.Context) <-chan model.TradeRecord {
		return make(chan model.TradeRecord) // never closes
	}

	out := NewEngine(NewSMA(3, "AAPL")).Run(ctx, open)
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected closed emission stream after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("emission stream did not close after ctx cancel")
	}
}
