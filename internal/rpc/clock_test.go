package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestSystemClockSleep(t *testing.T) {
	mock := clock.NewMock()
	c := SystemClock{Clock: mock}
	start := c.Now()

	done := make(chan error, 1)
	go func() { done <- c.Sleep(context.Background(), 5*time.Second) }()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Sleep() error = %v", err)
			}
			if got := c.Now().Sub(start); got < 5*time.Second {
				t.Errorf("Sleep() returned after %s of mock time, want >= 5s", got)
			}
			return
		case <-deadline:
			t.Fatal("Sleep() did not return")
		case <-time.After(time.Millisecond):
			mock.Add(time.Second)
		}
	}
}

func TestSystemClockSleepCanceled(t *testing.T) {
	c := SystemClock{Clock: clock.NewMock()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		d    time.Duration
	}{
		{"pending timer", time.Hour},
		{"no wait", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Sleep(ctx, tt.d); !errors.Is(err, context.Canceled) {
				t.Errorf("Sleep() error = %v, want Canceled", err)
			}
		})
	}
}

func TestSystemClockZeroValueIsWall(t *testing.T) {
	before := time.Now()
	got := SystemClock{}.Now()
	if got.Before(before) || got.Sub(before) > time.Minute {
		t.Errorf("Now() = %v, want close to %v", got, before)
	}
	if err := (SystemClock{}).Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v", err)
	}
}
