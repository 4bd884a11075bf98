package redis

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_StartsClosed(t *testing.T) {
	b := NewBreaker(3, 100*time.Millisecond)
	if b.State() != BreakerClosed {
		t.Errorf("expected closed, got %v", b.State())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b := NewBreaker(3, 100*time.Millisecond)
	errFail := errors.New("fail")

	for i := 0; i < 3; i++ {
		err := b.Do(func() error { return errFail })
		if err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}

	if b.State() != BreakerOpen {
		t.Errorf("expected open after 3 failures, got %v", b.State())
	}

	// Calls should be rejected immediately
	err := b.Do(func() error { return nil })
	if err != ErrBreakerOpen {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := NewBreaker(2, 50*time.Millisecond)

	// Trip the breaker
	errFail := errors.New("fail")
	for i := 0; i < 2; i++ {
		b.Do(func() error { return errFail })
	}
	if b.State() != BreakerOpen {
		t.Fatal("expected open")
	}

	// Wait for the quiet period
	time.Sleep(60 * time.Millisecond)

	// Next call should succeed and close the breaker
	err := b.Do(func() error { return nil })
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("expected closed after successful probe, got %v", b.State())
	}
}

func TestBreaker_HalfOpenFailure(t *testing.T) {
	b := NewBreaker(2, 50*time.Millisecond)
	errFail := errors.New("fail")

	// Trip
	for i := 0; i < 2; i++ {
		b.Do(func() error { return errFail })
	}

	// Wait and fail the probe
	time.Sleep(60 * time.Millisecond)
	b.Do(func() error { return errFail })

	if b.State() != BreakerOpen {
		t.Errorf("expected open after failed probe, got %v", b.State())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, 100*time.Millisecond)
	errFail := errors.New("fail")

	// 2 failures, then a success
	b.Do(func() error { return errFail })
	b.Do(func() error { return errFail })
	b.Do(func() error { return nil }) // resets counter

	// 2 more failures shouldn't trip because the counter was reset
	b.Do(func() error { return errFail })
	b.Do(func() error { return errFail })

	if b.State() != BreakerClosed {
		t.Errorf("expected closed (counter should have reset), got %v", b.State())
	}
}

func TestBreaker_OnStateChangeCallback(t *testing.T) {
	var transitions []BreakerState
	b := NewBreaker(1, 50*time.Millisecond)
	b.OnStateChange = func(from, to BreakerState) {
		transitions = append(transitions, to)
	}

	b.Do(func() error { return errors.New("fail") })

	if len(transitions) != 1 || transitions[0] != BreakerOpen {
		t.Errorf("expected [open], got %v", transitions)
	}

	time.Sleep(60 * time.Millisecond)
	b.Do(func() error { return nil })

	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d: %v", len(transitions), transitions)
	}
	if transitions[1] != BreakerHalfOpen || transitions[2] != BreakerClosed {
		t.Errorf("expected [open, half-open, closed], got %v", transitions)
	}
}
