package rpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Retry timings.
const (
	MaxQuotaWait     = 60 * time.Second
	TransientWaitMin = 750 * time.Millisecond
	TransientWaitMax = 1500 * time.Millisecond
	quotaJitterMin   = 500 * time.Millisecond
	quotaJitterMax   = 1500 * time.Millisecond
)

// Retrier re-issues calls that failed for transient reasons.
//
// A quota-exceeded error sleeps until the quota resets (capped at
// MaxQuotaWait) and does not use up a retry. Any other non-permanent error
// sleeps a short random interval, uses up a retry and asks for a new proxy.
type Retrier struct {
	Retries int
	Clock   Clock
	// Rotate is called after a transient failure; it may be nil.
	Rotate func()
	Log    *zap.SugaredLogger
	// Jitter draws a duration in [lo, hi); defaults to Uniform.
	Jitter func(lo, hi time.Duration) time.Duration
}

// Do calls fn until it succeeds, fails permanently, runs out of retries or
// ctx is done.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	clock := r.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	jitter := r.Jitter
	if jitter == nil {
		jitter = Uniform
	}

	retries := r.Retries
	if retries < 1 {
		retries = 1
	}
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if Permanent(err) {
			return err
		}

		var quota *QuotaExceededError
		if errors.As(err, &quota) {
			wait := quota.ResetAt.Sub(clock.Now())
			if wait < 0 {
				wait = 0
			}
			wait += jitter(quotaJitterMin, quotaJitterMax)
			if wait > MaxQuotaWait {
				wait = MaxQuotaWait
			}
			r.logf("Hashing quota exceeded, retrying in %s", wait.Round(time.Millisecond))
			if err := clock.Sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		retries--
		if retries <= 0 {
			return err
		}
		wait := jitter(TransientWaitMin, TransientWaitMax)
		r.logf("Request failed (%v), %d retries left, retrying in %s", err, retries, wait.Round(time.Millisecond))
		if err := clock.Sleep(ctx, wait); err != nil {
			return err
		}
		if r.Rotate != nil {
			r.Rotate()
		}
	}
}

func (r *Retrier) logf(format string, args ...any) {
	if r.Log != nil {
		r.Log.Debugf(format, args...)
	}
}
