// Package redis publishes live market events to Redis: pub/sub fan-out
// for trades, a durable stream plus latest-value key for consensus
// signals, and latest-value keys for per-symbol statistics.
//
// A circuit breaker guards every call. While Redis is unreachable trade
// and stats publishes are dropped (they are ephemeral by design) but
// consensus signals are buffered in memory and replayed once the
// breaker closes again.
package redis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
	"unsafe"

	goredis "github.com/go-redis/redis/v8"

	"mdstreamv1/internal/model"
)

const (
	tradeChannelPrefix = "pub:trade:"
	statsKeyPrefix     = "stats:latest:"

	consensusStream  = "signal:consensus"
	consensusLatest  = "signal:consensus:latest"
	consensusChannel = "pub:signal:consensus"
	consensusMaxLen  = 10000

	defaultLatestTTL = 30 * time.Minute

	// maxPending bounds the consensus replay buffer. Oldest entries are
	// dropped first once full.
	maxPending = 1000

	breakerMaxFailures = 5
	breakerResetAfter  = 10 * time.Second
)

// Config holds Redis connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Publisher fans out market events to Redis. Implements
// model.TradePublisher.
type Publisher struct {
	client *goredis.Client
	brk    *Breaker

	mu      sync.Mutex
	pending []model.Signal

	// OnBuffer, if set, observes the pending count after each buffered
	// consensus signal.
	OnBuffer func(pending int)
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	log.Printf("[redis] connected to %s", cfg.Addr)

	p := &Publisher{
		client: client,
		brk:    NewBreaker(breakerMaxFailures, breakerResetAfter),
	}
	p.brk.OnStateChange = func(from, to BreakerState) {
		log.Printf("[redis] breaker %s -> %s", from, to)
		if to == BreakerClosed {
			go p.flush()
		}
	}
	return p, nil
}

// Client exposes the underlying connection for health checks.
func (p *Publisher) Client() *goredis.Client {
	return p.client
}

// Run drains a trade stream into PublishTrade until the stream ends or
// ctx is cancelled.
func (p *Publisher) Run(ctx context.Context, trades <-chan model.TradeRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-trades:
			if !ok {
				return
			}
			p.PublishTrade(ctx, tr)
		}
	}
}

// PublishTrade broadcasts one trade on its per-symbol channel.
// Ephemeral: subscribers that are not listening simply miss it.
func (p *Publisher) PublishTrade(ctx context.Context, trade model.TradeRecord) {
	err := p.brk.Do(func() error {
		jsonBytes := trade.JSON()
		// Zero-copy conversion, avoids allocation in hot path
		jsonData := *(*string)(unsafe.Pointer(&jsonBytes))
		return p.client.Publish(ctx, tradeChannelPrefix+trade.Symbol, jsonData).Err()
	})
	if err != nil && err != ErrBreakerOpen {
		log.Printf("[redis] trade publish error for %s: %v", trade.Symbol, err)
	}
}

// PublishConsensus appends a consensus signal to the durable stream,
// refreshes the latest-value key and broadcasts it. Failed writes are
// buffered and replayed when the breaker closes.
func (p *Publisher) PublishConsensus(ctx context.Context, sig model.Signal) {
	err := p.brk.Do(func() error {
		return p.writeConsensus(ctx, sig)
	})
	if err == nil {
		return
	}
	if err != ErrBreakerOpen {
		log.Printf("[redis] consensus publish error: %v", err)
	}
	p.buffer(sig)
}

// PublishStats stores the latest statistics payload for a symbol.
func (p *Publisher) PublishStats(ctx context.Context, symbol string, payload []byte) {
	err := p.brk.Do(func() error {
		return p.client.Set(ctx, statsKeyPrefix+symbol, payload, defaultLatestTTL).Err()
	})
	if err != nil && err != ErrBreakerOpen {
		log.Printf("[redis] stats publish error for %s: %v", symbol, err)
	}
}

// PendingCount returns the number of buffered consensus signals.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// BreakerState reports the breaker state for health checks.
func (p *Publisher) BreakerState() BreakerState {
	return p.brk.State()
}

// Close releases the connection. Buffered signals are not flushed.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func (p *Publisher) writeConsensus(ctx context.Context, sig model.Signal) error {
	jsonBytes := sig.JSON()
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: consensusStream,
		MaxLen: consensusMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, consensusLatest, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, consensusChannel, jsonData)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Publisher) buffer(sig model.Signal) {
	p.mu.Lock()
	if len(p.pending) >= maxPending {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, sig)
	n := len(p.pending)
	p.mu.Unlock()

	if p.OnBuffer != nil {
		p.OnBuffer(n)
	}
}

// flush replays consensus signals buffered while Redis was down. A
// failure mid-replay requeues the remainder; the breaker will trigger
// another flush after the next recovery.
func (p *Publisher) flush() {
	p.mu.Lock()
	queued := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(queued) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	flushed := 0
	for i := range queued {
		sig := queued[i]
		err := p.brk.Do(func() error {
			return p.writeConsensus(ctx, sig)
		})
		if err != nil {
			p.requeue(queued[i:])
			break
		}
		flushed++
	}
	if flushed > 0 {
		log.Printf("[redis] replayed %d buffered consensus signals", flushed)
	}
}

func (p *Publisher) requeue(sigs []model.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(append([]model.Signal{}, sigs...), p.pending...)
	if len(p.pending) > maxPending {
		p.pending = p.pending[len(p.pending)-maxPending:]
	}
}
