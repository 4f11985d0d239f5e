package probe

import (
	"context"
	"time"
)

// RetryPolicy is the single retry/timeout knob shared by everything that
// talks to the network. The prober runs with MaxAttempts=1 (retries are
// the scheduler's business across ticks); the notification dispatcher
// likewise sends once and gives up.
type RetryPolicy struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy returns the probe defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:     8 * time.Second,
		MaxAttempts: 1,
		Backoff:     time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Timeout <= 0 {
		p.Timeout = 8 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Backoff <= 0 {
		p.Backoff = time.Second
	}
	return p
}

// Do runs fn under the policy: each attempt gets its own timeout, and
// attempts are separated by the backoff interval. The last error wins.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		lastErr = fn(attemptCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if attempt < p.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff):
			}
		}
	}
	return lastErr
}
