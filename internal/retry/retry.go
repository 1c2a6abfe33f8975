// Package retry provides the exponential backoff policy shared by durable
// store writes and event-stream reconnection.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded exponential backoff: the nth failure waits
// BaseDelay * Multiplier^n before the next attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	// Sleep is overridable in tests. When nil a context-aware sleep is used.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultWritePolicy is the store-write policy: 3 attempts, 1s/2s/4s.
func DefaultWritePolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}
}

// Delay returns the wait before attempt n+1, where n counts failures so far
// starting at zero.
func (p Policy) Delay(failures int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < failures; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// Do runs op up to MaxAttempts times, sleeping between attempts. It returns
// nil on the first success, the last error once attempts are exhausted, or
// the context error if the context is cancelled while waiting.
func (p Policy) Do(ctx context.Context, op func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.Delay(attempt-1)); err != nil {
				return err
			}
		}
		if lastErr = op(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff tracks consecutive failures for a long-lived retry loop such as a
// stream reconnect. A success resets the counter so the next failure starts
// over at BaseDelay.
type Backoff struct {
	Policy   Policy
	failures int
}

// Next returns the delay to wait before the next attempt and advances the
// failure counter. ok is false once MaxAttempts failures have been recorded.
func (b *Backoff) Next() (d time.Duration, ok bool) {
	if b.failures >= b.Policy.MaxAttempts {
		return 0, false
	}
	d = b.Policy.Delay(b.failures)
	b.failures++
	return d, true
}

// Reset clears the failure counter after a successful attempt.
func (b *Backoff) Reset() {
	b.failures = 0
}

// Exhausted reports whether the attempt budget has been used up.
func (b *Backoff) Exhausted() bool {
	return b.failures >= b.Policy.MaxAttempts
}
