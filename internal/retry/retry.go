// Package retry provides the polling policies used when waiting on
// slow external state, such as connector negotiations and transfers.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy yields the delay to wait before the next attempt. Attempts
// are zero-based; ok is false once the policy is exhausted.
type Policy interface {
	Next(attempt int) (delay time.Duration, ok bool)
}

// FixedInterval waits the same interval between attempts.
// MaxAttempts <= 0 leaves the attempt count unbounded, which is the
// normal shape for state polling: the caller's context carries the
// deadline.
type FixedInterval struct {
	Interval    time.Duration
	MaxAttempts int
}

// Next implements Policy
func (f FixedInterval) Next(attempt int) (time.Duration, bool) {
	if f.MaxAttempts > 0 && attempt >= f.MaxAttempts {
		return 0, false
	}
	return f.Interval, true
}

// ExponentialBackoff grows the delay by Multiplier per attempt, capped
// at MaxInterval, with optional jitter of ±15%
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	Jitter          bool
}

// Next implements Policy
func (e ExponentialBackoff) Next(attempt int) (time.Duration, bool) {
	if e.MaxAttempts > 0 && attempt >= e.MaxAttempts {
		return 0, false
	}

	multiplier := e.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(e.InitialInterval) * math.Pow(multiplier, float64(attempt))
	if e.MaxInterval > 0 && delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - 0.15*delay
	}

	return time.Duration(delay), true
}

// Do runs fn until it succeeds, the policy is exhausted, or the
// context ends. Exhaustion returns the last error fn produced; a
// context end always returns the context's error.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		delay, ok := policy.Next(attempt)
		if !ok {
			return lastErr
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
