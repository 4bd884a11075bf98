package redis

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation, calls pass through
	BreakerOpen                         // tripped, calls rejected immediately
	BreakerHalfOpen                     // probing, one call allowed through
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned while the breaker rejects calls.
var ErrBreakerOpen = errors.New("redis: breaker open")

// Breaker trips after maxFailures consecutive failures and rejects
// calls for resetAfter. The first call after the quiet period runs as a
// probe: success closes the breaker, failure reopens it.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	maxFailures int
	resetAfter  time.Duration
	lastFailure time.Time

	// OnStateChange, if set, observes transitions. Called with the
	// breaker's mutex held; do not call back into the breaker.
	OnStateChange func(from, to BreakerState)
}

// NewBreaker creates a closed breaker.
func NewBreaker(maxFailures int, resetAfter time.Duration) *Breaker {
	return &Breaker{maxFailures: maxFailures, resetAfter: resetAfter}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if time.Since(b.lastFailure) <= b.resetAfter {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.shift(BreakerHalfOpen)
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
			b.shift(BreakerOpen)
		}
		return err
	}
	if b.state == BreakerHalfOpen {
		b.shift(BreakerClosed)
	}
	b.failures = 0
	return nil
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) shift(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == BreakerClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
