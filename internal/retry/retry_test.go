package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedInterval(t *testing.T) {
	t.Run("yields the same delay for every attempt", func(t *testing.T) {
		policy := FixedInterval{Interval: time.Second, MaxAttempts: 3}

		for attempt := 0; attempt < 3; attempt++ {
			delay, ok := policy.Next(attempt)
			assert.True(t, ok)
			assert.Equal(t, time.Second, delay)
		}

		_, ok := policy.Next(3)
		assert.False(t, ok)
	})

	t.Run("zero max attempts is unbounded", func(t *testing.T) {
		policy := FixedInterval{Interval: time.Second}

		_, ok := policy.Next(1000000)
		assert.True(t, ok)
	})
}

func TestExponentialBackoff(t *testing.T) {
	t.Run("doubles per attempt and caps at the max interval", func(t *testing.T) {
		policy := ExponentialBackoff{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			Multiplier:      2.0,
			MaxAttempts:     0,
		}

		tests := []struct {
			attempt  int
			expected time.Duration
		}{
			{0, 100 * time.Millisecond},
			{1, 200 * time.Millisecond},
			{2, 400 * time.Millisecond},
			{3, 800 * time.Millisecond},
			{10, 10 * time.Second},
		}

		for _, tt := range tests {
			delay, ok := policy.Next(tt.attempt)
			assert.True(t, ok)
			assert.Equal(t, tt.expected, delay)
		}
	})

	t.Run("exhausts after max attempts", func(t *testing.T) {
		policy := ExponentialBackoff{InitialInterval: time.Millisecond, MaxAttempts: 2}

		_, ok := policy.Next(1)
		assert.True(t, ok)
		_, ok = policy.Next(2)
		assert.False(t, ok)
	})

	t.Run("zero multiplier falls back to doubling", func(t *testing.T) {
		policy := ExponentialBackoff{InitialInterval: 100 * time.Millisecond}

		delay, ok := policy.Next(1)
		assert.True(t, ok)
		assert.Equal(t, 200*time.Millisecond, delay)
	})

	t.Run("jitter keeps delays within fifteen percent", func(t *testing.T) {
		policy := ExponentialBackoff{
			InitialInterval: time.Second,
			MaxInterval:     10 * time.Second,
			Multiplier:      2.0,
			Jitter:          true,
		}

		allSame := true
		var first time.Duration
		for i := 0; i < 10; i++ {
			delay, ok := policy.Next(0)
			require.True(t, ok)
			assert.GreaterOrEqual(t, delay, 850*time.Millisecond)
			assert.LessOrEqual(t, delay, 1150*time.Millisecond)

			if i == 0 {
				first = delay
			} else if delay != first {
				allSame = false
			}
		}
		assert.False(t, allSame, "jitter should produce different delays")
	})
}

func TestDo(t *testing.T) {
	t.Run("returns nil on first success", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), FixedInterval{Interval: time.Hour}, func() error {
			calls++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), FixedInterval{Interval: time.Millisecond}, func() error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns the last error on exhaustion", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), FixedInterval{Interval: time.Millisecond, MaxAttempts: 2}, func() error {
			calls++
			return errors.New("still failing")
		})

		require.Error(t, err)
		assert.Equal(t, "still failing", err.Error())
		assert.Equal(t, 3, calls)
	})

	t.Run("stops when the context is cancelled mid wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		calls := 0
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		err := Do(ctx, FixedInterval{Interval: time.Hour}, func() error {
			calls++
			return errors.New("keep going")
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("does not run fn when the context is already done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		err := Do(ctx, FixedInterval{Interval: time.Millisecond}, func() error {
			calls++
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, calls)
	})
}
