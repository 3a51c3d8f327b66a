// Package retry runs operations under a bounded attempt policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds an operation by attempts, linear backoff between attempts,
// and a timeout per attempt.
type Policy struct {
	MaxAttempts    int
	Backoff        time.Duration
	AttemptTimeout time.Duration
}

// DefaultPolicy is three attempts, 1s linear backoff, 30s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		Backoff:        time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// linearBackOff waits step, 2*step, 3*step, ...
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.step * time.Duration(b.n)
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

// Do calls op until it succeeds, returns a Permanent error, the attempts
// are used up or ctx is done. Each call gets its own attempt deadline.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	return backoff.Retry(ctx, func() (T, error) {
		attemptCtx, cancel := attemptContext(ctx, p.AttemptTimeout)
		defer cancel()
		return op(attemptCtx)
	},
		backoff.WithBackOff(&linearBackOff{step: p.Backoff}),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
