package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffPolicy_Delay(t *testing.T) {
	p := BackoffPolicy{
		First:      500 * time.Millisecond,
		Subsequent: 2 * time.Second,
		MaxJitter:  250 * time.Millisecond,
	}

	t.Run("first failure waits the short interval", func(t *testing.T) {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 750*time.Millisecond)
	})

	t.Run("later failures wait the long interval", func(t *testing.T) {
		for _, failures := range []int{2, 3, 10} {
			d := p.Delay(failures)
			assert.GreaterOrEqual(t, d, 2*time.Second)
			assert.Less(t, d, 2*time.Second+250*time.Millisecond)
		}
	})

	t.Run("first delay is shorter than subsequent", func(t *testing.T) {
		assert.Less(t, p.Delay(1), p.Delay(2))
	})

	t.Run("no jitter yields the base exactly", func(t *testing.T) {
		flat := BackoffPolicy{First: time.Second, Subsequent: 2 * time.Second}
		assert.Equal(t, time.Second, flat.Delay(1))
		assert.Equal(t, 2*time.Second, flat.Delay(2))
	})
}

func TestBackoffPolicy_Sleep(t *testing.T) {
	t.Run("completes after the delay", func(t *testing.T) {
		p := BackoffPolicy{First: 5 * time.Millisecond, Subsequent: 5 * time.Millisecond}
		start := time.Now()
		err := p.Sleep(context.Background(), 1)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	})

	t.Run("returns early on cancellation", func(t *testing.T) {
		p := BackoffPolicy{First: 10 * time.Second, Subsequent: 10 * time.Second}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := p.Sleep(ctx, 1)
		require.ErrorIs(t, err, context.Canceled)
	})
}
