// Package retry wraps external calls in exponential backoff with
// jitter (spec.md §4.6/§5). Callers use Do around ASR, Reasoner,
// Diarizer, BlobStore and Database calls and the clip-stage Embedder
// calls; FileShare calls and the reference-set Embedder calls are made
// without it.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/errors"
)

// Do runs fn under policy's exponential backoff. It retries errors
// classified as transient (spec.md §7's TransientExternal kind),
// EnhancedErrors with no Kind, and errors that are not EnhancedErrors
// at all. Permanent, malformed, constraint, capacity and cancellation
// errors are returned immediately without retry.
func Do(ctx context.Context, policy conf.RetryPolicy, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5

	withCap := backoff.WithMaxRetries(b, uint64(maxInt(policy.MaxRetries, 0)))
	withCtx := backoff.WithContext(withCap, ctx)

	var lastErr error
	op := func() error {
		callCtx := ctx
		var cancel context.CancelFunc
		if policy.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, policy.CallTimeout)
			defer cancel()
		}

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return backoff.Permanent(errors.New(ctx.Err()).Kind(errors.KindCancelled).Build())
		}

		var ee *errors.EnhancedError
		if errors.As(err, &ee) {
			if ee.Retryable() {
				return err
			}
			return backoff.Permanent(err)
		}
		// Unclassified errors default to retryable, matching the
		// teacher's conservative network-call retry posture.
		return err
	}

	if err := backoff.Retry(op, withCtx); err != nil {
		if permErr, ok := err.(*backoff.PermanentError); ok {
			return permErr.Err
		}
		return lastErr
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Sleep is a cancellation-aware sleep for waits where a full Do is
// unnecessary; no code in this module calls it.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
