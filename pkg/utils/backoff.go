package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy builds the delay schedule of one retried operation. Every Retry call
// gets a fresh schedule, so one Policy may be shared across goroutines.
type Policy func() backoff.BackOff

// ConstantPolicy waits d between attempts
func ConstantPolicy(d time.Duration) Policy {
	return func() backoff.BackOff { return backoff.NewConstantBackOff(d) }
}

// ExponentialPolicy starts at base and doubles up to max. With jitter each
// delay is spread by ±50%.
func ExponentialPolicy(base, max time.Duration, jitter bool) Policy {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.MaxInterval = max
		b.Multiplier = 2
		b.MaxElapsedTime = 0
		if !jitter {
			b.RandomizationFactor = 0
		}
		b.Reset()
		return b
	}
}

// Retry calls fn until it succeeds, attempts are used up, or ctx is done.
// fn receives the zero-based attempt number. Wrap an error with
// backoff.Permanent to stop retrying at once.
func Retry(ctx context.Context, attempts int, policy Policy, fn func(attempt int) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if policy == nil {
		policy = ConstantPolicy(0)
	}

	tried := 0
	var last error
	op := func() error {
		last = fn(tried)
		tried++
		return last
	}
	schedule := backoff.WithContext(backoff.WithMaxRetries(policy(), uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, schedule); err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	switch {
	case errors.As(last, &perm):
		return perm.Err
	case ctx.Err() != nil && tried < attempts:
		return fmt.Errorf("retry aborted after %d attempts: %w", tried, ctx.Err())
	default:
		return fmt.Errorf("giving up after %d attempts: %w", tried, last)
	}
}
