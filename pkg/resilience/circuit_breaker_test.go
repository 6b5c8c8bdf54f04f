package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "taskforge/pkg/resilience"
)

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker("test", DefaultCircuitBreakerConfig())

	if cb.State() != CircuitClosed {
		t.Errorf("expected initial state to be Closed, got %v", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	config := CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          100 * time.Millisecond,
		MaxRequests:      1,
	}
	cb := NewCircuitBreaker("test", config)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return errors.New("test error")
		})
	}

	if cb.State() != CircuitOpen {
		t.Errorf("expected state to be Open after %d failures, got %v", config.FailureThreshold, cb.State())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	config := CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          1 * time.Second,
		MaxRequests:      1,
	}
	cb := NewCircuitBreaker("test", config)

	_ = cb.Execute(context.Background(), func() error {
		return errors.New("test error")
	})

	err := cb.Execute(context.Background(), func() error {
		return nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	config := CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
		MaxRequests:      1,
	}
	cb := NewCircuitBreaker("test", config)

	_ = cb.Execute(context.Background(), func() error {
		return errors.New("test error")
	})

	time.Sleep(20 * time.Millisecond)

	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected HalfOpen after timeout, got %v", cb.State())
	}

	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}

	if cb.State() != CircuitClosed {
		t.Errorf("expected Closed after successful probe, got %v", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	config := CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		MaxRequests:      1,
	}
	cb := NewCircuitBreaker("test", config)

	_ = cb.Execute(context.Background(), func() error {
		return errors.New("test error")
	})
	cb.Reset()

	if cb.State() != CircuitClosed {
		t.Errorf("expected Closed after reset, got %v", cb.State())
	}
}

func TestRegistry_SameKeySameBreaker(t *testing.T) {
	r := NewRegistry(DefaultCircuitBreakerConfig())

	a := r.Get("hooks.example.com")
	b := r.Get("hooks.example.com")
	c := r.Get("other.example.com")

	if a != b {
		t.Error("expected the same breaker for the same key")
	}
	if a == c {
		t.Error("expected distinct breakers for distinct keys")
	}
}
