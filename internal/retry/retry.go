// Package retry runs an operation a bounded number of times.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes one retry site.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	// Delay returns the pause after the given failed attempt (1-based).
	Delay func(attempt int) time.Duration
	// Retryable filters errors worth another attempt. Nil retries everything.
	Retryable func(error) bool
	// OnRetry is called before each pause.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Constant pauses for d between every attempt.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Exponential doubles the pause after every attempt, capped at max.
func Exponential(initial, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := initial
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		return min(d, max)
	}
}

// Do calls op until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	b := &policyBackOff{policy: p}
	return backoff.RetryNotify(
		func() error {
			err := op(ctx)
			if err != nil && p.Retryable != nil && !p.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(b.attempt, err, d)
			}
		},
	)
}

type policyBackOff struct {
	policy  Policy
	attempt int
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt >= b.policy.MaxAttempts {
		return backoff.Stop
	}
	if b.policy.Delay == nil {
		return 0
	}
	return b.policy.Delay(b.attempt)
}
