// Package infra provides the shared infrastructure of the Sefaria MCP server:
// the response cache with in-flight joining, request signatures, and a circuit
// breaker guarding the upstream API.
package infra

import (
	"sync"
	"time"
)

// CircuitBreaker fails fast when the Sefaria API is unresponsive.
// It tracks consecutive failures and opens the circuit after a threshold is reached.
type CircuitBreaker struct {
	mu sync.RWMutex

	failureThreshold int           // Consecutive failures before opening
	resetTimeout     time.Duration // Time to wait before attempting recovery
	halfOpenMax      int           // Max probe requests allowed in half-open state
	onChange         func(from, to CircuitState)

	state            CircuitState
	consecutiveFails int
	lastFailure      time.Time
	halfOpenCount    int
	now              func() time.Time
}

// CircuitState represents the current state of the circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing fast, rejecting requests
	CircuitHalfOpen                     // Testing if service recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithThreshold sets the consecutive failure count that opens the circuit.
func WithThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.failureThreshold = n
		}
	}
}

// WithResetTimeout sets how long the circuit stays open before probing.
func WithResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.resetTimeout = d
		}
	}
}

// WithHalfOpenMax sets the number of probe requests allowed while half-open.
func WithHalfOpenMax(n int) BreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.halfOpenMax = n
		}
	}
}

// WithStateChange registers a callback invoked (under the breaker lock) on transitions.
func WithStateChange(fn func(from, to CircuitState)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// NewCircuitBreaker creates a circuit breaker. Defaults: open after 5 consecutive
// failures, probe after 30s, 2 probes while half-open.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		failureThreshold: 5,
		resetTimeout:     30 * time.Second,
		halfOpenMax:      2,
		state:            CircuitClosed,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if from != to && cb.onChange != nil {
		cb.onChange(from, to)
	}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.transition(CircuitHalfOpen)
			cb.halfOpenCount = 1
			return true
		}
		return false

	case CircuitHalfOpen:
		if cb.halfOpenCount < cb.halfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful request, closing a half-open circuit
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	if cb.state == CircuitHalfOpen {
		cb.transition(CircuitClosed)
		cb.halfOpenCount = 0
	}
}

// RecordFailure records a failed request, potentially opening the circuit
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFails >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
		cb.halfOpenCount = 0
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats returns circuit breaker statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	s := CircuitBreakerStats{
		State:            cb.state.String(),
		ConsecutiveFails: cb.consecutiveFails,
		LastFailure:      cb.lastFailure,
	}
	if cb.state == CircuitOpen {
		s.RetryAt = cb.lastFailure.Add(cb.resetTimeout)
	}
	return s
}

// OpenError builds the error returned while the circuit rejects requests.
func (cb *CircuitBreaker) OpenError() ErrCircuitOpen {
	s := cb.Stats()
	return ErrCircuitOpen{State: s.State, RetryAt: s.RetryAt, Failures: s.ConsecutiveFails}
}

// CircuitBreakerStats contains circuit breaker statistics
type CircuitBreakerStats struct {
	State            string    `json:"state"`
	ConsecutiveFails int       `json:"consecutive_failures"`
	LastFailure      time.Time `json:"last_failure,omitempty"`
	RetryAt          time.Time `json:"retry_at,omitempty"`
}

// ErrCircuitOpen is returned when the circuit breaker is open
type ErrCircuitOpen struct {
	State    string
	RetryAt  time.Time
	Failures int
}

func (e ErrCircuitOpen) Error() string {
	return "circuit breaker is open: Sefaria API is failing, retry after " + e.RetryAt.Format(time.RFC3339)
}
