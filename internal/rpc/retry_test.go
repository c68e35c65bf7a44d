package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetrierTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		failures  int
		retries   int
		wantCalls int
		wantErr   bool
	}{
		{"success first try", nil, 0, 3, 1, false},
		{"throttled then success", ErrThrottled, 1, 3, 2, false},
		{"generic then success", errors.New("connection reset"), 2, 3, 3, false},
		{"offline exhausts retries", ErrHashingOffline, 10, 3, 3, true},
		{"timeout exhausts retries", ErrHashingTimeout, 10, 1, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			rotations := 0
			r := &Retrier{Retries: tt.retries, Clock: clock, Rotate: func() { rotations++ }}

			calls := 0
			err := r.Do(context.Background(), func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})

			if (err != nil) != tt.wantErr {
				t.Fatalf("Do() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if rotations != len(clock.sleeps) {
				t.Errorf("rotations = %d, want one per sleep (%d)", rotations, len(clock.sleeps))
			}
			for _, d := range clock.sleeps {
				if d < TransientWaitMin || d >= TransientWaitMax {
					t.Errorf("sleep = %v, want in [%v, %v)", d, TransientWaitMin, TransientWaitMax)
				}
			}
		})
	}
}

func TestRetrierQuota(t *testing.T) {
	tests := []struct {
		name    string
		resetIn time.Duration
		min     time.Duration
		max     time.Duration
	}{
		{"reset in past sleeps jitter only", -30 * time.Second, 0, 1500 * time.Millisecond},
		{"reset soon", 10 * time.Second, 10 * time.Second, 11500 * time.Millisecond},
		{"reset far away is capped", 10 * time.Minute, MaxQuotaWait, MaxQuotaWait},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			reset := clock.Now().Add(tt.resetIn)
			r := &Retrier{Retries: 1, Clock: clock}

			calls := 0
			err := r.Do(context.Background(), func(context.Context) error {
				calls++
				if calls <= 2 {
					return fmt.Errorf("call: %w", &QuotaExceededError{ResetAt: reset})
				}
				return nil
			})
			if err != nil {
				t.Fatalf("Do() error = %v; quota errors must not use up retries", err)
			}
			if calls != 3 {
				t.Errorf("calls = %d, want 3", calls)
			}
			first := clock.sleeps[0]
			if first < tt.min || first > tt.max {
				t.Errorf("first sleep = %v, want in [%v, %v]", first, tt.min, tt.max)
			}
		})
	}
}

func TestRetrierPermanent(t *testing.T) {
	for _, target := range []error{ErrAuth, ErrBanned} {
		clock := newFakeClock()
		r := &Retrier{Retries: 5, Clock: clock}
		calls := 0
		err := r.Do(context.Background(), func(context.Context) error {
			calls++
			return fmt.Errorf("wrapped: %w", target)
		})
		if !errors.Is(err, target) {
			t.Errorf("Do() error = %v, want %v", err, target)
		}
		if calls != 1 || len(clock.sleeps) != 0 {
			t.Errorf("%v: calls = %d, sleeps = %d; want 1, 0", target, calls, len(clock.sleeps))
		}
	}
}

func TestRetrierCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Retrier{Retries: 5, Clock: newFakeClock()}
	err := r.Do(ctx, func(context.Context) error {
		cancel()
		return ErrThrottled
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestUniform(t *testing.T) {
	for i := 0; i < 1000; i++ {
		d := Uniform(time.Second, 2*time.Second)
		if d < time.Second || d >= 2*time.Second {
			t.Fatalf("Uniform() = %v, out of range", d)
		}
	}
	if d := Uniform(time.Second, time.Second); d != time.Second {
		t.Errorf("Uniform(empty range) = %v, want 1s", d)
	}
}
