// Package retry provides the bounded attempt loop used around compare-and-swap writes.
//
// A step reports whether it is done. A step that lost a conditional write
// returns done=false and is run again, up to Config.MaxRetries more times.
// Any error returned by a step stops the loop immediately: only lost races
// are retried, store failures are not.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config configures a Loop.
type Config struct {
	// MaxRetries is the number of additional attempts after the first one.
	// Zero runs the step once.
	MaxRetries int

	// InitialBackoff is the delay before the first retry. Zero (the default)
	// retries immediately, without sleeping.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration (default: 1s when backoff is enabled).
	MaxBackoff time.Duration

	// Multiplier increases backoff after each retry (default: 2.0).
	Multiplier float64

	// Jitter adds randomness to prevent thundering herd.
	// Value between 0 and 1 where 0 means no jitter and 1 means +/- 100%.
	Jitter float64
}

// DefaultConfig returns a busy-loop Config allowing maxRetries retries.
func DefaultConfig(maxRetries int) Config {
	return Config{MaxRetries: maxRetries}
}

// Sentinel errors.
var (
	// ErrMaxRetries is returned when every attempt lost its race.
	ErrMaxRetries = errors.New("retry: max retries exceeded")

	// ErrContextCanceled is returned when the context ends during a backoff.
	ErrContextCanceled = errors.New("retry: context canceled")
)

// Step is one attempt. It returns done=true when its conditional write
// was applied, done=false when it lost the race and should be retried.
// attempt starts at 0.
type Step func(ctx context.Context, attempt int) (done bool, err error)

// Loop runs step until it is done, fails, or the attempts are exhausted.
// It returns the number of attempts made. Errors from step are returned
// unchanged. Exhaustion returns a *RetryError matching ErrMaxRetries.
func Loop(ctx context.Context, cfg Config, step Step) (int, error) {
	cfg = applyDefaults(cfg)

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		done, err := step(ctx, attempt)
		if err != nil {
			return attempt + 1, err
		}
		if done {
			return attempt + 1, nil
		}

		// Don't sleep after the last attempt
		if attempt < cfg.MaxRetries && cfg.InitialBackoff > 0 {
			select {
			case <-ctx.Done():
				return attempt + 1, &RetryError{Attempts: attempt + 1, Err: ErrContextCanceled, Cause: ctx.Err()}
			case <-time.After(calculateBackoff(cfg, attempt)):
			}
		}
	}

	return cfg.MaxRetries + 1, &RetryError{Attempts: cfg.MaxRetries + 1, Err: ErrMaxRetries}
}

// RetryError provides details about a loop that did not complete.
type RetryError struct {
	// Attempts is the number of attempts made.
	Attempts int

	// Err is the sentinel error (ErrMaxRetries or ErrContextCanceled).
	Err error

	// Cause is the context error for ErrContextCanceled, nil otherwise.
	Cause error
}

func (e *RetryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("retry failed after %d attempts (%s): %s", e.Attempts, e.Err, e.Cause)
	}
	return fmt.Sprintf("retry failed after %d attempts (%s)", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Cause
}

func (e *RetryError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsExhausted reports whether err is an exhausted loop.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrMaxRetries)
}

// calculateBackoff computes the backoff duration for an attempt.
func calculateBackoff(cfg Config, attempt int) time.Duration {
	// Exponential backoff: initial * multiplier^attempt
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))

	// Apply max cap
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}

	// Apply jitter
	if cfg.Jitter > 0 {
		jitterRange := backoff * cfg.Jitter
		backoff = backoff - jitterRange + (rand.Float64() * 2 * jitterRange)
	}

	return time.Duration(backoff)
}

// applyDefaults fills in zero values with defaults.
func applyDefaults(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff < 0 {
		cfg.InitialBackoff = 0
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Jitter > 1 {
		cfg.Jitter = 1
	}
	return cfg
}
