package jobs

import (
	"context"
	"math/rand"
	"time"
)

// BackoffPolicy controls the delay between scrape attempts. The first
// failure waits a short interval, every later failure a longer one, each
// with random jitter added so concurrent retries spread out.
type BackoffPolicy struct {
	First      time.Duration
	Subsequent time.Duration
	MaxJitter  time.Duration
}

// DefaultBackoff matches the production retry cadence.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		First:      500 * time.Millisecond,
		Subsequent: 2 * time.Second,
		MaxJitter:  250 * time.Millisecond,
	}
}

// Delay returns the wait after the given consecutive failure count (1-based).
func (p BackoffPolicy) Delay(failures int) time.Duration {
	base := p.Subsequent
	if failures <= 1 {
		base = p.First
	}
	if p.MaxJitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(p.MaxJitter)))
}

// Sleep waits out the backoff for the given failure count, returning early
// with the context error if ctx is cancelled. It must never be called while
// a database transaction is open.
func (p BackoffPolicy) Sleep(ctx context.Context, failures int) error {
	t := time.NewTimer(p.Delay(failures))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
