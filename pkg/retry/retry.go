// Package retry provides bounded retry with backoff for transient failures.
//
// Two backoff policies are supported: linear (delay = base × attempt), which
// industrial endpoints tend to want so reconnect storms stay predictable, and
// exponential (delay doubles per attempt, capped). Errors wrapped with
// NonRetryable fail immediately without consuming further attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Policy selects how the delay between attempts grows.
type Policy int

const (
	// PolicyLinear sleeps base × attemptNumber between attempts.
	PolicyLinear Policy = iota
	// PolicyExponential doubles the delay per attempt, capped at MaxDelay.
	PolicyExponential
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration
type Config struct {
	MaxAttempts int           // Total attempts including the first (must be >= 1)
	BaseDelay   time.Duration // Base delay between attempts (must be > 0)
	MaxDelay    time.Duration // Cap on a single delay (0 = no cap)
	Policy      Policy        // Delay growth policy
	AddJitter   bool          // Add randomness to prevent thundering herd
}

// Validate checks the configuration before any attempt is made.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry: MaxAttempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("retry: BaseDelay must be > 0, got %v", c.BaseDelay)
	}
	if c.MaxDelay < 0 {
		return errors.New("retry: MaxDelay cannot be negative")
	}
	return nil
}

// Delay returns the sleep before attempt+1, where attempt counts from 1.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch c.Policy {
	case PolicyExponential:
		d = c.BaseDelay
		for i := 1; i < attempt; i++ {
			d *= 2
			if c.MaxDelay > 0 && d >= c.MaxDelay {
				d = c.MaxDelay
				break
			}
		}
	default:
		d = c.BaseDelay * time.Duration(attempt)
	}

	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}

	if c.AddJitter && d > 0 {
		randMu.Lock()
		// Up to 25% jitter, same spread either direction
		jitter := time.Duration(randSource.Int63n(int64(d) / 2))
		randMu.Unlock()
		d = d - d/4 + jitter
	}

	return d
}

// Do executes fn up to cfg.MaxAttempts times, sleeping cfg.Delay(attempt)
// between failures. It returns nil on the first success, the underlying error
// immediately when marked NonRetryable or the context ends, and the last
// error once attempts are exhausted.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		case <-time.After(cfg.Delay(attempt)):
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult executes fn with retry, returning both result and error.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var ferr error
		result, ferr = fn()
		return ferr
	})
	return result, err
}
