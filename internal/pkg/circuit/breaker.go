package circuit

import (
	"errors"
	"sync"
	"time"

	"papertrader/internal/logger"
)

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("circuit open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker opens after threshold consecutive failures and lets a single
// trial call through once cooloff has elapsed.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	threshold   int
	cooloff     time.Duration
	lastFailure time.Time
	name        string
	now         func() time.Time
}

func NewCircuitBreaker(name string, threshold int, cooloff time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooloff:   cooloff,
		state:     StateClosed,
		now:       time.Now,
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) > cb.cooloff {
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		// half-open: the trial call is already in flight
		return false
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
	cb.failures = 0
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// Execute runs fn when the breaker allows it and records the outcome.
// Errors for which ignore returns true count as successes; a rejected request
// (e.g. a 404 for an unknown coin) says nothing about upstream health.
func (cb *CircuitBreaker) Execute(fn func() error, ignore func(error) bool) error {
	if !cb.Allow() {
		return ErrOpen
	}
	err := fn()
	if err != nil && (ignore == nil || !ignore(err)) {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return err
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	logger.Warnf("CircuitBreaker %s state change: %s -> %s (failures=%d/%d, cooloff=%s)",
		cb.name, from, to, cb.failures, cb.threshold, cb.cooloff)
}
