// Package retry provides exponential backoff retry for object-store
// operations. It retries only errors that the errors package marks
// retryable, so a caller never needs to pass an allowlist of kinds.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
)

// Config controls backoff shape.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// OnRetry, if set, is called before sleeping for the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig matches the s3_retries knob's expected order of magnitude:
// a handful of attempts with a short initial delay.
func DefaultConfig(maxAttempts int) Config {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer executes a function with exponential backoff.
type Retryer struct {
	config Config
}

func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &Retryer{config: config}
}

// Do runs fn, retrying while fn returns a retryable *errors.Error and
// attempts remain. It honors ctx cancellation both between attempts and
// during the backoff sleep.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt >= r.config.MaxAttempts {
			return err
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("retry: max attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

func shouldRetry(err error) bool {
	var e *cterrors.Error
	if !errorsAsError(err, &e) {
		return false
	}
	return e.Retryable
}

func errorsAsError(err error, target **cterrors.Error) bool {
	for err != nil {
		if e, ok := err.(*cterrors.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
