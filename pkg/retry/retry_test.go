package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastConfig(retries int) Config {
	return Config{
		MaxRetries:  retries,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestDo(t *testing.T) {
	t.Run("SingleAttemptByDefault", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), DefaultConfig(), func() error {
			calls++
			return errors.New("boom")
		})
		assert.EqualError(t, err, "boom")
		assert.Equal(t, 1, calls)
	})

	t.Run("RetriesUntilSuccess", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(3), func() error {
			calls++
			if calls < 3 {
				return errors.New("flaky")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("StopsOnPermanent", func(t *testing.T) {
		sentinel := errors.New("bad request")
		calls := 0
		err := Do(context.Background(), fastConfig(5), func() error {
			calls++
			return Permanent(sentinel)
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, calls)
	})

	t.Run("StopsOnCancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Do(ctx, Config{MaxRetries: 5, InitialWait: time.Hour, MaxWait: time.Hour, Multiplier: 1}, func() error {
			calls++
			cancel()
			return errors.New("down")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestCalculateBackoff(t *testing.T) {
	cfg := Config{InitialWait: time.Second, MaxWait: 4 * time.Second, Multiplier: 2}
	for attempt := 0; attempt < 6; attempt++ {
		d := calculateBackoff(attempt, cfg)
		assert.GreaterOrEqual(t, d, cfg.InitialWait)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}
