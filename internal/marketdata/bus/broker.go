// Package bus implements the in-process trade broker: a broadcast PubSub
// fanning one publish stream out to independent subscribers, each holding its
// own bounded queue.
package bus

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"mdstreamv1/internal/model"
)

// ErrClosed is returned by Publish once the broker has closed.
var ErrClosed = errors.New("bus: broker closed")

const (
	// DefaultCapacity is the per-subscriber queue capacity.
	DefaultCapacity = 1024

	defaultChunkSize = 64
)

// Config configures a Broker.
type Config struct {
	// Capacity is the bounded queue size per subscriber. Defaults to
	// DefaultCapacity when <= 0.
	Capacity int

	// SortByTimestamp makes the Run pump order each drained burst by
	// SourceTS before broadcasting. Ordering is chunk-local only; no
	// reordering happens across chunks.
	SortByTimestamp bool

	// ChunkSize bounds the burst drained per chunk when sorting.
	// Defaults to 64 when <= 0.
	ChunkSize int
}

// Broker broadcasts trades to every attached subscriber. Publish blocks when
// a subscriber's queue is full: a slow consumer backpressures the publisher
// rather than losing trades. Memory is bounded by Capacity × #subscribers.
//
// State machine: Open until Close (or the Run pump's input ends), then
// Closed. Closing terminates every subscriber sequence normally and makes
// further publishes fail with ErrClosed.
type Broker struct {
	cfg Config

	mu   sync.RWMutex // guards subs and closed
	subs []*Subscription

	pubMu  sync.Mutex // serializes publishes: broadcast is atomic
	closed bool
	done   chan struct{}
	once   sync.Once

	// OnBlocked is called after a publish had to wait on a full subscriber
	// queue, with the time spent blocked. Optional metrics hook.
	OnBlocked func(wait time.Duration)
}

// New creates an open Broker.
func New(cfg Config) *Broker {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	return &Broker{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Subscription is a scoped subscriber handle. The sequence on C() begins at
// the point Subscribe returned (earlier publishes are not replayed) and
// ends (channel close) when the broker closes. Close releases the
// subscription; the ctx passed to Subscribe releases it too.
type Subscription struct {
	b    *Broker
	ch   chan model.TradeRecord
	done chan struct{}
	once sync.Once
}

// C returns the subscriber's trade sequence.
func (s *Subscription) C() <-chan model.TradeRecord { return s.ch }

// Close releases the subscription. Idempotent. A publish in flight at that
// moment skips this subscriber only; others are unaffected. After Close the
// consumer must stop reading C().
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.b.remove(s)
	})
}

// Subscribe attaches a new subscriber. When ctx ends, the subscription is
// released as if Close had been called. Subscribing to a closed broker
// returns an already-terminated sequence.
func (b *Broker) Subscribe(ctx context.Context) *Subscription {
	s := &Subscription{
		b:    b,
		ch:   make(chan model.TradeRecord, b.cfg.Capacity),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.once.Do(func() { close(s.done) })
		close(s.ch)
		return s
	}
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.Close()
			case <-s.done:
			case <-b.done:
			}
		}()
	}
	return s
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	for i, x := range b.subs {
		if x == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
}

// Publish enqueues t onto every currently attached subscriber queue, in
// subscriber order, blocking on full queues. It completes once all active
// subscribers accepted the trade, and returns ErrClosed after Close or
// ctx.Err() on cancellation.
func (b *Broker) Publish(ctx context.Context, t model.TradeRecord) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	b.mu.RLock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- t:
			continue
		default:
		}

		// Queue full: this is the backpressure point.
		start := time.Now()
		select {
		case s.ch <- t:
			if b.OnBlocked != nil {
				b.OnBlocked(time.Since(start))
			}
		case <-s.done:
			// Subscriber left mid-publish; it alone loses the in-flight
			// trade.
		case <-b.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close transitions the broker to Closed: all subscriber sequences terminate
// normally and later publishes fail with ErrClosed. Idempotent.
func (b *Broker) Close() {
	b.once.Do(func() {
		close(b.done) // unblocks an in-flight Publish
		b.pubMu.Lock()

		b.mu.Lock()
		b.closed = true
		subs := b.subs
		b.subs = nil
		b.mu.Unlock()

		for _, s := range subs {
			close(s.ch)
		}
		b.pubMu.Unlock()
	})
}

// Run publishes every trade from input until the input closes or ctx ends,
// then closes the broker, so the provider's end-of-stream cascades to all
// subscribers as their own end-of-stream. With SortByTimestamp set, each
// immediately-available burst (up to ChunkSize) is ordered by SourceTS
// first.
func (b *Broker) Run(ctx context.Context, input <-chan model.TradeRecord) {
	defer b.Close()

	chunk := make([]model.TradeRecord, 0, b.cfg.ChunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-input:
			if !ok {
				return
			}
			chunk = append(chunk[:0], t)
			inputClosed := false
			if b.cfg.SortByTimestamp {
				inputClosed = drainBurst(&chunk, input, b.cfg.ChunkSize)
				sort.SliceStable(chunk, func(i, j int) bool {
					return chunk[i].SourceTS < chunk[j].SourceTS
				})
			}
			for _, tr := range chunk {
				if err := b.Publish(ctx, tr); err != nil {
					return
				}
			}
			if inputClosed {
				return
			}
		}
	}
}

// drainBurst moves immediately-available trades into chunk, up to max total.
// Reports whether the input channel closed while draining.
func drainBurst(chunk *[]model.TradeRecord, input <-chan model.TradeRecord, max int) bool {
	for len(*chunk) < max {
		select {
		case t, ok := <-input:
			if !ok {
				return true
			}
			*chunk = append(*chunk, t)
		default:
			return false
		}
	}
	return false
}

// ChannelStat reports one subscriber queue's fill level.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns (length, capacity) for each subscriber queue.
// Used for reporting queue saturation percentage.
func (b *Broker) ChannelStats() []ChannelStat {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stats := make([]ChannelStat, len(b.subs))
	for i, s := range b.subs {
		stats[i] = ChannelStat{Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}

// SubscriberCount returns the number of attached subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
