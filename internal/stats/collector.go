package stats

import (
	"context"
	"sort"
	"sync"

	"mdstreamv1/internal/model"
)

// Collector owns the per-symbol stats map. It is the only writer; readers
// take point-in-time copies via Snapshot/Get. Because StatsState.Update is
// pure, the critical section is a plain read-compute-store, and concurrent
// readers never observe a half-applied update.
type Collector struct {
	mu     sync.RWMutex
	window WindowConfig
	states map[string]StatsState
}

// NewCollector creates a collector whose per-symbol states all use window.
func NewCollector(window WindowConfig) *Collector {
	return &Collector{
		window: window,
		states: make(map[string]StatsState),
	}
}

// Run consumes trades until ctx is cancelled or in closes. A closed input is
// normal end-of-stream: the collector stops updating and the last states
// remain readable.
func (c *Collector) Run(ctx context.Context, in <-chan model.TradeRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-in:
			if !ok {
				return
			}
			c.Apply(trade)
		}
	}
}

// Apply folds one trade into its symbol's state.
func (c *Collector) Apply(trade model.TradeRecord) {
	c.mu.Lock()
	state, ok := c.states[trade.Symbol]
	if !ok {
		state = NewStatsState(c.window)
	}
	c.states[trade.Symbol] = state.Update(trade.Price, trade.Volume, trade.SourceTS)
	c.mu.Unlock()
}

// Get returns the state for one symbol.
func (c *Collector) Get(symbol string) (StatsState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.states[symbol]
	return s, ok
}

// Snapshot returns a copy of the whole map. The contained states are values
// with immutable rings, so the copy is safe to read without further locking.
func (c *Collector) Snapshot() map[string]StatsState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]StatsState, len(c.states))
	for sym, s := range c.states {
		out[sym] = s
	}
	return out
}

// Symbols returns the tracked symbols, sorted.
func (c *Collector) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.states))
	for sym := range c.states {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
