package terminal

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"mdstreamv1/internal/model"
	"mdstreamv1/internal/stats"
)

func mkTrade(t *testing.T, symbol string, price float64, ts int64) model.TradeRecord {
	t.Helper()
	tr, err := model.NewTradeRecord(symbol, price, 100, ts, ts+40, nil)
	if err != nil {
		t.Fatalf("NewTradeRecord: %v", err)
	}
	return tr
}

func eventCollector(t *testing.T, size int) *stats.Collector {
	t.Helper()
	w, err := stats.EventWindow(size)
	if err != nil {
		t.Fatalf("EventWindow: %v", err)
	}
	return stats.NewCollector(w)
}

// ────────────────────────────────────────────────────────────
// prepend
// ────────────────────────────────────────────────────────────

func TestPrepend_NewestFirst(t *testing.T) {
	var list []model.TradeRecord
	for i := 1; i <= 3; i++ {
		list = prepend(list, mkTrade(t, "AAPL", float64(i), int64(i)), 5)
	}

	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i, wantTS := range []int64{3, 2, 1} {
		if list[i].SourceTS != wantTS {
			t.Errorf("position %d: ts %d, want %d", i, list[i].SourceTS, wantTS)
		}
	}
}

func TestPrepend_EvictionPreservesRelativeOrder(t *testing.T) {
	// Push 25 trades through a 20-cap list: the oldest five fall off,
	// and the survivors keep their relative (newest-first) order.
	var list []model.TradeRecord
	for i := 1; i <= 25; i++ {
		list = prepend(list, mkTrade(t, "AAPL", float64(i), int64(i)), 20)
	}

	if len(list) != 20 {
		t.Fatalf("len = %d, want 20", len(list))
	}
	for i := 0; i < 20; i++ {
		if want := int64(25 - i); list[i].SourceTS != want {
			t.Fatalf("position %d: ts %d, want %d", i, list[i].SourceTS, want)
		}
	}
}

// ────────────────────────────────────────────────────────────
// ViewModel scan
// ────────────────────────────────────────────────────────────

func TestViewModel_TradesAppearNewestFirst(t *testing.T) {
	col := eventCollector(t, 10)
	vm := New(Config{Symbols: []string{"AAPL"}, MaxTrades: 5, Refresh: time.Hour}, col, nil)

	trades := make(chan model.TradeRecord, 3)
	trades <- mkTrade(t, "AAPL", 100, 1)
	trades <- mkTrade(t, "AAPL", 101, 2)
	trades <- mkTrade(t, "AAPL", 102, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go vm.Run(ctx, trades)

	// Snapshots are latest-wins, so poll until all three trades landed.
	deadline := time.Now().Add(time.Second)
	for {
		select {
		case snap := <-vm.Updates():
			if len(snap.RecentTrades) == 3 {
				if snap.RecentTrades[0].SourceTS != 3 || snap.RecentTrades[2].SourceTS != 1 {
					t.Fatalf("order = [%d %d %d], want [3 2 1]",
						snap.RecentTrades[0].SourceTS, snap.RecentTrades[1].SourceTS, snap.RecentTrades[2].SourceTS)
				}
				if snap.MaxTrades != 5 {
					t.Errorf("MaxTrades = %d, want 5", snap.MaxTrades)
				}
				return
			}
		case <-time.After(50 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("never observed all three trades")
		}
	}
}

func TestViewModel_TickRefreshesStatistics(t *testing.T) {
	col := eventCollector(t, 10)
	col.Apply(mkTrade(t, "AAPL", 100, 1))
	col.Apply(mkTrade(t, "AAPL", 110, 2))

	vm := New(Config{Symbols: []string{"AAPL"}, Refresh: 10 * time.Millisecond}, col, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go vm.Run(ctx, make(chan model.TradeRecord)) // no trades, ticks only

	deadline := time.Now().Add(time.Second)
	for {
		select {
		case snap := <-vm.Updates():
			if st, ok := snap.Statistics["AAPL"]; ok {
				if st.Count != 2 {
					t.Errorf("Count = %d, want 2", st.Count)
				}
				return
			}
		case <-time.After(50 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("stats tick never populated the snapshot")
		}
	}
}

func TestViewModel_StreamEndFreezesTradesKeepsTicking(t *testing.T) {
	col := eventCollector(t, 10)
	vm := New(Config{Symbols: []string{"AAPL"}, Refresh: 10 * time.Millisecond}, col, nil)

	trades := make(chan model.TradeRecord, 1)
	trades <- mkTrade(t, "AAPL", 100, 1)
	close(trades)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go vm.Run(ctx, trades)

	// After end-of-stream the ticker alone keeps publishing, with the
	// last-seen trades intact.
	deadline := time.Now().Add(time.Second)
	var sawFrozen bool
	for !sawFrozen {
		select {
		case snap := <-vm.Updates():
			if len(snap.RecentTrades) == 1 && snap.RecentTrades[0].Price == 100 {
				sawFrozen = true
			}
		case <-time.After(50 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("no snapshots after stream end")
		}
	}
}

func TestViewModel_RecordsFeedLatency(t *testing.T) {
	col := eventCollector(t, 10)
	tracker := stats.NewLatencyTracker(100)
	vm := New(Config{Symbols: []string{"AAPL"}, Refresh: time.Hour}, col, tracker)

	trades := make(chan model.TradeRecord, 2)
	trades <- mkTrade(t, "AAPL", 100, 1) // latency 40ms each
	trades <- mkTrade(t, "AAPL", 101, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go vm.Run(ctx, trades)

	deadline := time.Now().Add(time.Second)
	for tracker.Count() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("latency samples never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p50, _, _ := tracker.Percentiles()
	if p50 != 40 {
		t.Errorf("p50 = %.1f, want 40 (both trades carry 40ms)", p50)
	}
}

func TestViewModel_ClosesUpdatesOnCancel(t *testing.T) {
	col := eventCollector(t, 10)
	vm := New(Config{}, col, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go vm.Run(ctx, make(chan model.TradeRecord))
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-vm.Updates():
			if !ok {
				return // closed as expected
			}
		case <-deadline:
			t.Fatal("updates channel did not close after cancel")
		}
	}
}

// ────────────────────────────────────────────────────────────
// Renderer
// ────────────────────────────────────────────────────────────

func renderedFrame(t *testing.T, enhanced bool) string {
	t.Helper()
	col := eventCollector(t, 10)
	col.Apply(mkTrade(t, "AAPL", 170, 1000))
	col.Apply(mkTrade(t, "AAPL", 180, 2000))

	snap := Snapshot{
		Symbols:      []string{"AAPL", "MSFT"},
		RecentTrades: []model.TradeRecord{mkTrade(t, "AAPL", 175.42, 1699372845123)},
		Statistics:   col.Snapshot(),
		MaxTrades:    20,
	}

	var buf bytes.Buffer
	r := NewRenderer(&buf, enhanced, nil)
	r.SetConsensus(model.Buy(0.47, 3, "RSI(14): 25.0 oversold (below 30)"))
	r.Render(snap)
	return buf.String()
}

func TestRenderer_BasicFrame(t *testing.T) {
	frame := renderedFrame(t, false)

	for _, want := range []string{
		"MARKET DATA TERMINAL",
		"Symbols: AAPL, MSFT",
		"175.42",
		"40ms",
		"Statistics",
		"AAPL",
		"Consensus: BUY (0.47)",
	} {
		if !strings.Contains(frame, want) {
			t.Errorf("frame missing %q:\n%s", want, frame)
		}
	}
	if strings.Contains(frame, "VOL%") {
		t.Error("enhanced columns should be absent in the basic frame")
	}
}

func TestRenderer_EnhancedFrame(t *testing.T) {
	frame := renderedFrame(t, true)

	for _, want := range []string{"Enhanced metrics", "VOL%", "MOM%", "TRADES/S", "SPREAD%"} {
		if !strings.Contains(frame, want) {
			t.Errorf("enhanced frame missing %q", want)
		}
	}
}

func TestRenderer_EmptySnapshot(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(&buf, false, nil).Render(Snapshot{MaxTrades: 20})

	if !strings.Contains(buf.String(), "waiting for trades") {
		t.Errorf("empty frame should show the waiting placeholder:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "no data yet") {
		t.Errorf("empty frame should show the stats placeholder:\n%s", buf.String())
	}
}

func TestRenderer_LatencyPercentilesLine(t *testing.T) {
	tracker := stats.NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		tracker.Record(float64(i))
	}

	col := eventCollector(t, 10)
	col.Apply(mkTrade(t, "AAPL", 170, 1000))
	col.Apply(mkTrade(t, "AAPL", 180, 2000))

	var buf bytes.Buffer
	r := NewRenderer(&buf, true, tracker)
	r.Render(Snapshot{Symbols: []string{"AAPL"}, Statistics: col.Snapshot(), MaxTrades: 20})

	if !strings.Contains(buf.String(), "Feed latency: p50 50.5ms") {
		t.Errorf("frame missing latency percentiles:\n%s", buf.String())
	}
}

func TestRenderer_StatusLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, false, nil)
	r.SetStatus("Market Open (closes in 2h15m)")
	r.Render(Snapshot{MaxTrades: 20})

	if !strings.Contains(buf.String(), "Market Open (closes in 2h15m)") {
		t.Errorf("frame missing status line:\n%s", buf.String())
	}

	buf.Reset()
	NewRenderer(&buf, false, nil).Render(Snapshot{MaxTrades: 20})
	if strings.Contains(buf.String(), "Market Open") {
		t.Error("frame should omit the status line when unset")
	}
}
