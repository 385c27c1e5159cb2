package main

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	}
	return "closed"
}

// CircuitBreaker stops polling Bybit after repeated failures:
//   - closed: allow requests
//   - open: block requests until the cool-down passes
//   - half-open: allow trial requests; one success closes it, one failure reopens it
type CircuitBreaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	maxFailures int
	coolDown    time.Duration
	openedAt    time.Time
	now         func() time.Time
	log         zerolog.Logger
}

func NewCircuitBreaker(maxFailures int, coolDown time.Duration, log zerolog.Logger) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		coolDown:    coolDown,
		now:         time.Now,
		log:         log,
	}
}

// Allow reports whether a request may go out now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == stateOpen {
		if cb.now().Sub(cb.openedAt) < cb.coolDown {
			return false
		}
		cb.state = stateHalfOpen
		cb.log.Info().Msg("circuit breaker half-open, allowing trial request")
	}
	return true
}

func (cb *CircuitBreaker) Fail() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == stateHalfOpen || (cb.state == stateClosed && cb.failures >= cb.maxFailures) {
		cb.state = stateOpen
		cb.openedAt = cb.now()
		cb.log.Warn().Int("failures", cb.failures).Dur("cool_down", cb.coolDown).Msg("circuit breaker open")
	}
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == stateHalfOpen {
		cb.log.Info().Msg("circuit breaker closed")
	}
	cb.state = stateClosed
	cb.failures = 0
}

func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}
