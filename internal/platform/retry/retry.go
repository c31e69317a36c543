// Package retry wraps transient-failure-prone operations, primarily database
// writes, with an exponential backoff policy. The original error is surfaced
// unchanged once the policy is exhausted so callers can branch on it.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy retries three times with delays starting at one second and
// doubling each attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// Permanent marks err as non-retryable. Do returns it immediately without
// consuming further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn under the policy. Each failed attempt is logged with the attempt
// number and the delay before the next try. After MaxAttempts failures the
// error from the last attempt is returned.
func (p Policy) Do(ctx context.Context, logger zerolog.Logger, operation string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	attempts := uint64(p.MaxAttempts)
	if attempts == 0 {
		attempts = 1
	}
	// WithMaxRetries counts retries after the first attempt.
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, attempts-1), ctx)

	attempt := 0
	notify := func(err error, next time.Duration) {
		attempt++
		logger.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("next_delay", next).
			Msg("operation failed, retrying")
	}

	return backoff.RetryNotify(fn, policy, notify)
}
