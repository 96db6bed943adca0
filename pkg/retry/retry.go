// Package retry wraps a generic combinator over any fallible unit of work
// with exponential backoff and jitter, per spec.md §4.5. It is used by both
// build executors and the release publisher's asset uploads, rather than
// being baked into either.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Params configures one retry run. Defaults match spec.md §4.5.
type Params struct {
	BaseDelay  time.Duration // default 5s
	Multiplier float64       // default 2
	MaxDelay   time.Duration // default 300s
	JitterFrac float64       // default 0.25 (±25%)
	MaxAttempts int          // caller-chosen attempt cap; 0 means unlimited
}

// DefaultParams returns spec.md §4.5's exponential-backoff parameters.
func DefaultParams() Params {
	return Params{
		BaseDelay:   5 * time.Second,
		Multiplier:  2,
		MaxDelay:    300 * time.Second,
		JitterFrac:  0.25,
		MaxAttempts: 0,
	}
}

// Attempt records one (attempt_index, error) pair, matching the HostAttempt
// retry history spec.md §4.5 requires callers to persist.
type Attempt struct {
	Index int
	Err   error
}

// Do runs fn under exponential backoff with jitter, calling onAttempt after
// every failed attempt (including the final, exhausting one) so the caller
// can record retry history on a HostAttempt or upload record. fn's context
// is cancelled if ctx is cancelled.
func Do(ctx context.Context, p Params, fn func(ctx context.Context) error, onAttempt func(Attempt)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.JitterFrac
	b.MaxElapsedTime = 0 // no elapsed-time cap; MaxAttempts alone bounds the run
	b.Reset()

	var policy backoff.BackOff = b
	if p.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	policy = backoff.WithContext(policy, ctx)

	index := 0
	var lastErr error
	op := func() error {
		index++
		err := fn(ctx)
		if err != nil {
			lastErr = err
			if onAttempt != nil {
				onAttempt(Attempt{Index: index, Err: err})
			}
		}
		return err
	}

	err := backoff.Retry(op, policy)
	if err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

// jitter is exposed for tests that want to sanity-check the symmetric
// ±jitterFrac spread without pulling in the full backoff.ExponentialBackOff
// machinery.
func jitter(base time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return base
	}
	delta := float64(base) * frac
	offset := (rand.Float64()*2 - 1) * delta
	return base + time.Duration(offset)
}
