// Package circuit implements the circuit breaker pattern used to stop
// hammering a remote object store once it is clearly unhealthy, instead of
// letting every migration attempt pay the full retry budget against it.
// Its default failure classification defers to this daemon's own error
// taxonomy (internal/errors): among classified errors only
// KindObjectStoreFailed — a genuine remote-side failure, not a missing key
// or a bad config — counts against the trip threshold; an error outside
// the taxonomy also counts.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - circuit breaker is closed, requests pass through
	StateClosed State = iota
	// StateOpen - circuit breaker is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit breaker allows limited requests to test if service recovered
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// Maximum number of requests allowed to pass through when state is half-open
	MaxRequests uint32

	// Period of the closed state after which the breaker considers a trip
	Interval time.Duration

	// Period of the open state after which the breaker enters half-open state
	Timeout time.Duration

	// Function to determine if a request should be considered a failure
	ReadyToTrip func(counts Counts) bool

	// Function called when state changes
	OnStateChange func(name string, from State, to State)

	// Function to determine if an error should be counted as a failure.
	// The default counts a *cterrors.Error only when it is of
	// KindObjectStoreFailed, so an object that is simply missing
	// (KindInvalid) or a startup misconfiguration (KindConfigInvalid)
	// never trips the breaker; an error that is not a *cterrors.Error
	// always counts as a failure.
	IsSuccessful func(err error) bool
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
	LastActivity         time.Time
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewCircuitBreaker creates a new circuit breaker instance
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = defaultReadyToTrip
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultIsSuccessful
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		counts: Counts{},
		expiry: time.Now().Add(config.Interval),
	}
}

// defaultReadyToTrip is the default function to determine when to trip the breaker
func defaultReadyToTrip(counts Counts) bool {
	return counts.Requests >= 20 &&
		float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

// defaultIsSuccessful treats any classified error other than
// KindObjectStoreFailed as not worth tripping the breaker over: a 404 on
// download, a bad bucket name at startup, or a caller precondition
// violation says nothing about whether the remote endpoint itself is
// healthy. An unclassified error carries no such signal and counts as a
// failure.
func defaultIsSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var ce *cterrors.Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind != cterrors.KindObjectStoreFailed
}

// Execute runs the given function if the circuit breaker allows it
func (cb *CircuitBreaker) Execute(fn func() error) error {
	err, _ := cb.ExecuteWithFallback(fn, nil)
	return err
}

// ExecuteWithFallback runs the given function if the circuit breaker allows it,
// otherwise runs the fallback function
func (cb *CircuitBreaker) ExecuteWithFallback(fn func() error, fallback func() error) (error, bool) {
	if err := cb.beforeRequest(); err != nil {
		if fallback != nil {
			fallbackErr := fallback()
			return fallbackErr, true
		}
		return err, false
	}

	err := fn()
	cb.afterRequest(err)
	return err, false
}

// ExecuteWithContext runs the given function with context if the circuit breaker allows it
func (cb *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

// beforeRequest is called before executing the request
func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, _ := cb.currentState(now)

	if state == StateOpen {
		return ErrOpenState
	}

	if state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests {
		return ErrTooManyRequests
	}

	cb.counts.onRequest()
	return nil
}

// afterRequest is called after executing the request
func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, _ := cb.currentState(now)

	if cb.config.IsSuccessful(err) {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

// onSuccess handles successful requests
func (cb *CircuitBreaker) onSuccess(state State, now time.Time) {
	cb.counts.onSuccess()

	if state == StateHalfOpen {
		cb.setState(StateClosed, now)
	}
}

// onFailure handles failed requests
func (cb *CircuitBreaker) onFailure(state State, now time.Time) {
	cb.counts.onFailure()

	switch state {
	case StateClosed:
		if cb.config.ReadyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// currentState returns the current state of the circuit breaker
func (cb *CircuitBreaker) currentState(now time.Time) (State, time.Time) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.counts.clear()
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.expiry
}

// setState changes the state of the circuit breaker
func (cb *CircuitBreaker) setState(state State, now time.Time) {
	prev := cb.state

	if cb.state == state {
		return
	}

	cb.state = state
	cb.counts.clear()

	switch state {
	case StateClosed:
		cb.expiry = now.Add(cb.config.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, _ := cb.currentState(time.Now())
	return state
}

// GetCounts returns a copy of the current counts
func (cb *CircuitBreaker) GetCounts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.counts
}

// Reset resets the circuit breaker to its initial state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.clear()
	cb.setState(StateClosed, time.Now())
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (c *Counts) onRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	c.Requests = 0
	c.TotalSuccesses = 0
	c.TotalFailures = 0
	c.ConsecutiveSuccesses = 0
	c.ConsecutiveFailures = 0
	c.LastActivity = time.Time{}
}

var (
	// ErrOpenState is returned when the circuit breaker is open
	ErrOpenState = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when too many requests are made in half-open state
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)
