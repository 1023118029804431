// Package ratelimit provides the static backpressure policy applied to
// upstream RPC reads: a fixed pause between consecutive calls. Chunked
// fetches and discovery batches share this instead of scattering sleeps.
package ratelimit

import (
	"context"
	"time"
)

// Limiter enforces a fixed minimum interval between calls to Wait.
// The first Wait returns immediately. A zero or negative interval
// disables pausing entirely. Not safe for concurrent use; each
// sequential loop owns its limiter.
type Limiter struct {
	interval time.Duration
	last     time.Time
}

// NewFixedInterval returns a limiter with the given inter-call interval.
func NewFixedInterval(interval time.Duration) *Limiter {
	return &Limiter{interval: interval}
}

// Wait blocks until the interval since the previous call has elapsed, or
// the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.interval <= 0 {
		return ctx.Err()
	}

	if l.last.IsZero() {
		l.last = time.Now()
		return ctx.Err()
	}

	wait := l.interval - time.Since(l.last)
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	l.last = time.Now()
	return nil
}

// Interval reports the configured inter-call interval.
func (l *Limiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}
