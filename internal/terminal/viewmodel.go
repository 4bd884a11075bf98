// Package terminal builds and renders the live dashboard state.
//
// The view model is a scan over two inputs: the broker's trade stream
// (prepended into a capped newest-first list) and a periodic statistics
// tick (replacing the per-symbol stats map). Each step publishes an
// immutable snapshot; a slow consumer only ever misses intermediate
// frames, never blocks the scan.
package terminal

import (
	"context"
	"time"

	"mdstreamv1/internal/model"
	"mdstreamv1/internal/stats"
)

const (
	// DefaultRefresh is the statistics poll cadence.
	DefaultRefresh = 100 * time.Millisecond

	// DefaultMaxTrades caps the recent-trades list.
	DefaultMaxTrades = 20
)

// Snapshot is one immutable dashboard state, safe to render from any
// goroutine.
type Snapshot struct {
	Symbols      []string                    `json:"symbols"`
	RecentTrades []model.TradeRecord         `json:"recent_trades"` // newest first
	Statistics   map[string]stats.StatsState `json:"statistics"`
	MaxTrades    int                         `json:"max_trades"`
}

// Config holds view-model settings.
type Config struct {
	Symbols   []string
	MaxTrades int           // 0 → DefaultMaxTrades
	Refresh   time.Duration // 0 → DefaultRefresh
}

// ViewModel merges the trade stream with collector snapshots into
// dashboard states.
type ViewModel struct {
	cfg       Config
	collector *stats.Collector
	tracker   *stats.LatencyTracker

	recent  []model.TradeRecord
	statmap map[string]stats.StatsState
	updates chan Snapshot
}

// New creates a view model reading statistics from collector. tracker
// may be nil when feed-latency percentiles are not wanted.
func New(cfg Config, collector *stats.Collector, tracker *stats.LatencyTracker) *ViewModel {
	if cfg.MaxTrades <= 0 {
		cfg.MaxTrades = DefaultMaxTrades
	}
	if cfg.Refresh <= 0 {
		cfg.Refresh = DefaultRefresh
	}
	return &ViewModel{
		cfg:       cfg,
		collector: collector,
		tracker:   tracker,
		statmap:   make(map[string]stats.StatsState),
		updates:   make(chan Snapshot, 1),
	}
}

// Updates returns the snapshot stream. Only the latest snapshot is
// retained; stale frames are replaced, not queued.
func (vm *ViewModel) Updates() <-chan Snapshot {
	return vm.updates
}

// Run drives the scan until ctx is cancelled. When the trade stream
// ends mid-run the dashboard keeps ticking with frozen trades, which is
// how a dropped connection is surfaced to the operator.
func (vm *ViewModel) Run(ctx context.Context, trades <-chan model.TradeRecord) {
	ticker := time.NewTicker(vm.cfg.Refresh)
	defer ticker.Stop()
	defer close(vm.updates)

	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-trades:
			if !ok {
				trades = nil // stream ended: freeze trades, keep ticking
				continue
			}
			vm.recent = prepend(vm.recent, tr, vm.cfg.MaxTrades)
			if vm.tracker != nil {
				vm.tracker.Record(float64(tr.LatencyMs))
			}
			vm.publish()
		case <-ticker.C:
			vm.statmap = vm.collector.Snapshot()
			vm.publish()
		}
	}
}

// publish replaces whatever snapshot the consumer has not taken yet.
func (vm *ViewModel) publish() {
	snap := vm.snapshot()
	for {
		select {
		case vm.updates <- snap:
			return
		default:
		}
		select {
		case <-vm.updates:
		default:
		}
	}
}

func (vm *ViewModel) snapshot() Snapshot {
	recent := make([]model.TradeRecord, len(vm.recent))
	copy(recent, vm.recent)
	return Snapshot{
		Symbols:      vm.cfg.Symbols,
		RecentTrades: recent,
		Statistics:   vm.statmap,
		MaxTrades:    vm.cfg.MaxTrades,
	}
}

// prepend inserts tr at the head, evicting the oldest entry once the
// list is at max.
func prepend(list []model.TradeRecord, tr model.TradeRecord, max int) []model.TradeRecord {
	if max <= 0 {
		return nil
	}
	if len(list) < max {
		list = append(list, model.TradeRecord{})
	}
	copy(list[1:], list)
	list[0] = tr
	return list
}
