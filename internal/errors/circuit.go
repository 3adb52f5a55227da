package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = stderrors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests are blocked.
	StateOpen
	// StateHalfOpen is when the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// CircuitBreaker fails fast when a dependency (the embedding service or the
// vector store) keeps failing. It wraps sony/gobreaker: the circuit opens
// after maxFailures consecutive failures and lets halfOpenCalls probes
// through once resetTimeout has passed.
//
// Context cancellation and deadline errors are not counted as failures. A
// strategy that hits its own timeout says nothing about the dependency.
type CircuitBreaker struct {
	name          string
	maxFailures   uint32
	resetTimeout  time.Duration
	halfOpenCalls uint32
	onStateChange func(name string, from, to State)

	breaker *gobreaker.CircuitBreaker[any]
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the number of consecutive failures before opening.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.maxFailures = uint32(n)
		}
	}
}

// WithResetTimeout sets the time to wait before attempting recovery.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.resetTimeout = d
		}
	}
}

// WithHalfOpenCalls sets how many probe calls pass while half-open.
func WithHalfOpenCalls(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.halfOpenCalls = uint32(n)
		}
	}
}

// WithStateChangeHook registers a callback for state transitions, in
// addition to the warn log every transition produces.
func WithStateChangeHook(fn func(name string, from, to State)) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// NewCircuitBreaker creates a circuit breaker.
// Default: 5 consecutive failures, 30 second reset timeout, 1 probe call.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:          name,
		maxFailures:   5,
		resetTimeout:  30 * time.Second,
		halfOpenCalls: 1,
	}
	for _, opt := range opts {
		opt(cb)
	}

	cb.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cb.halfOpenCalls,
		Timeout:     cb.resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cb.maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				stderrors.Is(err, context.Canceled) ||
				stderrors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if cb.onStateChange != nil {
				cb.onStateChange(name, fromGobreaker(from), fromGobreaker(to))
			}
		},
	})

	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	return fromGobreaker(cb.breaker.State())
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	return int(cb.breaker.Counts().ConsecutiveFailures)
}

// Execute runs fn through the circuit breaker. Returns an error matching
// ErrCircuitOpen without calling fn when the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := CircuitExecute(cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// CircuitExecute runs fn through cb and returns its result.
func CircuitExecute[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w (%s): %w", ErrCircuitOpen, cb.name, err)
		}
		if v, ok := out.(T); ok {
			return v, err
		}
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}

// IsCircuitOpen reports whether err was produced by an open circuit.
func IsCircuitOpen(err error) bool {
	return stderrors.Is(err, ErrCircuitOpen)
}
