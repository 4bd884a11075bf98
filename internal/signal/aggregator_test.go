package signal

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"mdstreamv1/internal/indicator"
	"mdstreamv1/internal/model"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f", label, got, want)
	}
}

// ────────────────────────────────────────────────────────────
// Aggregate (pure)
// ────────────────────────────────────────────────────────────

func TestAggregate_BuyConsensus(t *testing.T) {
	// [Buy 0.8, Buy 0.6, Sell 0.3]: buyScore 1.4, sellScore 0.3.
	// 1.4 > 0.3*3 = 0.9 → Buy with strength min(1, 1.4/3) ≈ 0.467.
	out := Aggregate([]model.Signal{
		model.Buy(0.8, 1, "rsi oversold"),
		model.Buy(0.6, 2, "price above vwap"),
		model.Sell(0.3, 3, "upper band"),
	})

	if out.Kind != model.SignalBuy {
		t.Fatalf("Kind = %s, want BUY", out.Kind)
	}
	assertClose(t, "consensus strength", out.Strength, 1.4/3, 0.0001)
	if out.TS != 3 {
		t.Errorf("TS = %d, want latest input 3", out.TS)
	}
	if !strings.Contains(out.Reason, "rsi oversold") || !strings.Contains(out.Reason, "price above vwap") {
		t.Errorf("reason %q should concatenate the buy-side reasons", out.Reason)
	}
	if strings.Contains(out.Reason, "upper band") {
		t.Errorf("reason %q should not carry the losing side", out.Reason)
	}
}

func TestAggregate_SellConsensus(t *testing.T) {
	// sellScore 1.8 vs buyScore 0.2; 1.8 > 0.9 → Sell 0.6.
	out := Aggregate([]model.Signal{
		model.Sell(1.0, 5, "overbought"),
		model.Sell(0.8, 6, "death cross"),
		model.Buy(0.2, 7, "dip"),
	})

	if out.Kind != model.SignalSell {
		t.Fatalf("Kind = %s, want SELL", out.Kind)
	}
	assertClose(t, "consensus strength", out.Strength, 0.6, 0.0001)
}

func TestAggregate_EmptyIsHold(t *testing.T) {
	out := Aggregate(nil)
	if out.Kind != model.SignalHold || out.Strength != 0 {
		t.Errorf("empty input → %s strength %.2f, want HOLD 0", out.Kind, out.Strength)
	}
}

func TestAggregate_AllHold(t *testing.T) {
	out := Aggregate([]model.Signal{model.Hold(1), model.Hold(9), model.Hold(4)})
	if out.Kind != model.SignalHold {
		t.Errorf("Kind = %s, want HOLD", out.Kind)
	}
	if out.TS != 9 {
		t.Errorf("TS = %d, want latest input 9", out.TS)
	}
}

func TestAggregate_BelowThresholdIsHold(t *testing.T) {
	// One weak Buy among three inputs: 0.2 < 0.3*3.
	out := Aggregate([]model.Signal{
		model.Buy(0.2, 1, "weak"),
		model.Hold(2),
		model.Hold(3),
	})
	if out.Kind != model.SignalHold {
		t.Errorf("Kind = %s, want HOLD below threshold", out.Kind)
	}
}

func TestAggregate_TieIsHold(t *testing.T) {
	out := Aggregate([]model.Signal{
		model.Buy(0.9, 1, "a"),
		model.Sell(0.9, 2, "b"),
	})
	if out.Kind != model.SignalHold {
		t.Errorf("Kind = %s, want HOLD on a tie", out.Kind)
	}
}

func TestAggregate_StrengthCapsAtOne(t *testing.T) {
	out := Aggregate([]model.Signal{
		model.Buy(1.0, 1, "a"),
		model.Buy(1.0, 2, "b"),
	})
	assertClose(t, "capped strength", out.Strength, 1.0, 0.0001)
}

// ────────────────────────────────────────────────────────────
// Aggregator (stateful)
// ────────────────────────────────────────────────────────────

func TestAggregator_ReplacesPerIndicator(t *testing.T) {
	a := NewAggregator()

	// First report from one indicator: consensus over a single Buy.
	out := a.Update("rsi-14-AAPL", model.Buy(0.8, 1, "oversold"))
	if out.Kind != model.SignalBuy {
		t.Fatalf("Kind = %s, want BUY", out.Kind)
	}
	assertClose(t, "single-input strength", out.Strength, 0.8, 0.0001)

	// Same indicator flips to Hold: it replaces, not appends.
	out = a.Update("rsi-14-AAPL", model.Hold(2))
	if out.Kind != model.SignalHold {
		t.Errorf("Kind = %s, want HOLD after replacement", out.Kind)
	}
	if n := len(a.Snapshot()); n != 1 {
		t.Errorf("snapshot size = %d, want 1", n)
	}
}

func TestAggregator_DisagreementFlipsConsensus(t *testing.T) {
	a := NewAggregator()
	a.Update("rsi-14-AAPL", model.Buy(0.8, 1, "oversold"))

	// Second indicator outweighs: sell 0.9 vs buy 0.8 over n=2.
	out := a.Update("sma-20-AAPL", model.Sell(0.9, 2, "below average"))
	if out.Kind != model.SignalSell {
		t.Fatalf("Kind = %s, want SELL", out.Kind)
	}
	assertClose(t, "flipped strength", out.Strength, 0.45, 0.0001)
}

func TestAggregator_RunEmitsPerEmission(t *testing.T) {
	in := make(chan indicator.Emission, 3)
	in <- indicator.Emission{IndicatorID: "a", Signal: model.Buy(0.9, 1, "x")}
	in <- indicator.Emission{IndicatorID: "b", Signal: model.Buy(0.7, 2, "y")}
	in <- indicator.Emission{IndicatorID: "a", Signal: model.Hold(3)}
	close(in)

	var got []model.Signal
	for sig := range NewAggregator().Run(context.Background(), in) {
		got = append(got, sig)
	}

	if len(got) != 3 {
		t.Fatalf("got %d consensus signals, want 3 (one per emission)", len(got))
	}
	// 1: [Buy .9] → Buy .9; 2: [Buy .9, Buy .7] → Buy .8; 3: [Hold, Buy .7] → Buy .35
	if got[0].Kind != model.SignalBuy || got[1].Kind != model.SignalBuy {
		t.Errorf("first two = %s, %s, want BUY, BUY", got[0].Kind, got[1].Kind)
	}
	assertClose(t, "second consensus", got[1].Strength, 0.8, 0.0001)
	if got[2].Kind != model.SignalBuy {
		t.Errorf("third = %s, want BUY (0.7 > 0.3*2 over two inputs)", got[2].Kind)
	}
	assertClose(t, "third consensus", got[2].Strength, 0.35, 0.0001)
}

func TestAggregator_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan indicator.Emission) // never closed

	out := NewAggregator().Run(ctx, in)
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected closed consensus stream after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("consensus stream did not close after ctx cancel")
	}
}
