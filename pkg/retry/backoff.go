package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a reusable retry policy for any fallible operation, independent
// of the fault-record pipeline. Network-facing calls wrap themselves in a
// Policy instead of hand-rolling retry loops.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultPolicy matches the engine-client defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// Do runs op, retrying with exponential backoff until it succeeds, the retry
// budget is spent, or ctx is cancelled.
func (p Policy) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.MaxRetries)), ctx))
}

// BackoffDelay computes the delay before the attempt-th retry:
// base·2^attempt when exponential backoff is on, capped at max (when max > 0),
// otherwise the flat base delay.
func BackoffDelay(base, max time.Duration, exponential bool, attempt int) time.Duration {
	if !exponential {
		return base
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
