// Package retry provides a bounded exponential-backoff helper shared by the
// store and sync layers. Only errors classified as transient by the caller's
// predicate are retried; deterministic failures are returned immediately.
package retry

import (
	"context"
	"log/slog"
	"time"
)

// Policy controls attempt count and backoff growth.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration
	// Multiplier grows the backoff after each failed attempt.
	Multiplier float64
}

// DefaultPolicy is the standard curve for hosted-store calls:
// 1s, 2s between attempts, three attempts total.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// Do executes op with bounded exponential backoff. The retryable predicate
// decides whether a failure is worth another attempt; a nil predicate retries
// every error. The context cancels waiting between attempts.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error, retryable func(error) bool) error {
	policy = policy.normalized()

	var lastErr error
	backoff := policy.InitialBackoff
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		slog.Debug("transient failure, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", lastErr.Error()))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(float64(backoff) * policy.Multiplier)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return lastErr
}
