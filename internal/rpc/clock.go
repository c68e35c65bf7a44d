package rpc

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
)

// Clock abstracts time so sleeps between calls can be observed in tests.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

var wall = clock.New()

// SystemClock adapts a clock.Clock to Clock. The zero value is the wall
// clock.
type SystemClock struct {
	Clock clock.Clock
}

func (c SystemClock) base() clock.Clock {
	if c.Clock == nil {
		return wall
	}
	return c.Clock
}

// Now returns the current time.
func (c SystemClock) Now() time.Time { return c.base().Now() }

// Sleep waits for d or until ctx is done.
func (c SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := c.base().Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Uniform returns a duration drawn uniformly from [lo, hi).
func Uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)))
}
