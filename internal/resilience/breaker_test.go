package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(3, time.Minute, 2)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open breaker should reject calls")
	}
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(1, time.Minute, 2)
	now := time.Now()
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("expected rejection before recovery timeout")
	}

	now = now.Add(time.Minute + time.Second)
	if !cb.Allow() {
		t.Fatal("expected probe call after recovery timeout")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", cb.State())
	}
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(1, time.Minute, 2)
	now := time.Now()
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(2 * time.Minute)
	if !cb.Allow() {
		t.Fatal("expected half-open probe")
	}

	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Fatalf("one success should not close, got %s", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after success threshold, got %s", cb.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(1, time.Minute, 2)
	now := time.Now()
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(2 * time.Minute)
	cb.Allow()
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open after half-open failure, got %s", cb.State())
	}
}

func TestBreakerClosedSuccessResetsFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(3, time.Minute, 2)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("failures should not accumulate across a success, got %s", cb.State())
	}
}

func TestBreakerDo(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(1, time.Hour, 2)
	boom := errors.New("boom")

	if err := cb.Do(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if err := cb.Do(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}
