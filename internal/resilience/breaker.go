package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without executing it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState identifies the breaker state.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling a failing dependency after a threshold of
// consecutive failures, then probes it again after a recovery timeout.
// All transitions happen under one mutex so concurrent callers observe a
// consistent state.
type CircuitBreaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int

	mu           sync.Mutex
	state        CircuitState
	failureCount int
	successCount int
	lastFailure  time.Time

	now func() time.Time
}

// NewCircuitBreaker creates a breaker in the closed state. Non-positive
// thresholds fall back to sane defaults.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration, successThreshold int) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = time.Minute
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		successThreshold: successThreshold,
		state:            StateClosed,
		now:              time.Now,
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a call may proceed. When the breaker is open and the
// recovery timeout has elapsed since the last failure, it transitions to
// half-open and admits a probe call.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.lastFailure.IsZero() || cb.now().Sub(cb.lastFailure) >= cb.recoveryTimeout {
			cb.state = StateHalfOpen
			cb.successCount = 0
			return true
		}
		return false
	default: // half-open
		return true
	}
}

// RecordSuccess registers a successful call. In half-open state, reaching the
// success threshold closes the circuit and resets counters. In closed state a
// success clears the failure count, so partial credit never accumulates.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure registers a failed call. Any failure while half-open reopens
// the circuit immediately; in closed state the circuit opens once the failure
// threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = cb.now()

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.successCount = 0
	} else if cb.failureCount >= cb.failureThreshold {
		cb.state = StateOpen
	}
}

// Do executes fn under the breaker. It returns ErrCircuitOpen without calling
// fn when the breaker denies admission, and otherwise records the outcome and
// returns fn's error unchanged.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
