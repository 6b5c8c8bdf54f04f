// Package resilience provides the circuit breaker protecting outbound
// webhook delivery from endpoints that are down hard.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a request.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
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

// CircuitBreakerConfig holds circuit breaker tuning.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// SuccessThreshold closes the circuit from half-open.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// MaxRequests bounds probes allowed through in half-open state.
	MaxRequests int
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MaxRequests:      3,
	}
}

// CircuitBreaker implements the circuit breaker pattern for one target.
type CircuitBreaker struct {
	name             string
	config           CircuitBreakerConfig
	state            CircuitState
	failures         int
	successes        int
	halfOpenRequests int
	lastFailure      time.Time
	mu               sync.RWMutex
}

// NewCircuitBreaker creates a breaker for the named target.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  CircuitClosed,
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

// currentState transitions open→half-open after the timeout. Caller holds
// at least a read lock.
func (cb *CircuitBreaker) currentState() CircuitState {
	if cb.state == CircuitOpen && time.Since(cb.lastFailure) >= cb.config.Timeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Execute runs fn under breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.state == CircuitOpen {
			cb.state = CircuitHalfOpen
			cb.halfOpenRequests = 0
		}
		if cb.halfOpenRequests >= cb.config.MaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenRequests++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.successes = 0
	cb.lastFailure = time.Now()

	switch cb.currentState() {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
			cb.halfOpenRequests = 0
		}
	case CircuitHalfOpen:
		// Any failure in half-open reopens the circuit.
		cb.state = CircuitOpen
		cb.halfOpenRequests = 0
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.currentState() {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.successes = 0
			cb.halfOpenRequests = 0
		}
	}
}

// Reset returns the breaker to its initial closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenRequests = 0
}

// Registry hands out one breaker per key (webhook target host).
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
}

// NewRegistry creates a breaker registry sharing one config.
func NewRegistry(config CircuitBreakerConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(key, r.config)
		r.breakers[key] = cb
	}
	return cb
}
