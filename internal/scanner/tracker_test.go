package scanner

import (
	"sync"
	"testing"
	"time"
)

func TestNewStatusTracker(t *testing.T) {
	tracker := NewStatusTracker(3)
	got := tracker.Snapshot()
	if len(got) != 3 {
		t.Fatalf("Snapshot() returned %d workers, want 3", len(got))
	}
	for i, w := range got {
		if w.Index != i {
			t.Errorf("worker %d has index %d", i, w.Index)
		}
		if w.Username != "" || w.Success != 0 {
			t.Errorf("new worker %d is not empty: %+v", i, w)
		}
	}
}

func TestStatusTracker_Record(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		want    map[Result]int64
		rate    int64
	}{
		{
			name:    "success counts toward rate",
			results: []Result{ResultSuccess, ResultSuccess},
			want:    map[Result]int64{ResultSuccess: 2},
			rate:    2,
		},
		{
			name:    "no items counts toward rate",
			results: []Result{ResultNoItems, ResultSuccess},
			want:    map[Result]int64{ResultSuccess: 1, ResultNoItems: 1},
			rate:    2,
		},
		{
			name:    "failures and skips do not",
			results: []Result{ResultFail, ResultSkip, ResultCaptcha, ResultFail},
			want:    map[Result]int64{ResultFail: 2, ResultSkip: 1, ResultCaptcha: 1},
			rate:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewStatusTracker(1)
			for _, r := range tt.results {
				tracker.Record(0, r)
			}

			totals := tracker.Totals()
			for _, r := range []Result{ResultSuccess, ResultNoItems, ResultFail, ResultSkip, ResultCaptcha} {
				if totals[r] != tt.want[r] {
					t.Errorf("Totals()[%s] = %d, want %d", r, totals[r], tt.want[r])
				}
			}
			if got := tracker.Snapshot()[0].ScansPerMin; got != tt.rate {
				t.Errorf("ScansPerMin = %d, want %d", got, tt.rate)
			}
		})
	}
}

func TestStatusTracker_OutOfRange(t *testing.T) {
	tracker := NewStatusTracker(1)
	tracker.Record(5, ResultSuccess)
	tracker.SetAccount(-1, "user")
	tracker.SetMessage(1, "hello")

	if totals := tracker.Totals(); totals[ResultSuccess] != 0 {
		t.Errorf("out of range Record changed totals: %v", totals)
	}
	if w := tracker.Snapshot()[0]; w.Username != "" || w.Message != "" {
		t.Errorf("out of range setters changed worker 0: %+v", w)
	}
}

func TestStatusTracker_SetAccountAndMessage(t *testing.T) {
	tracker := NewStatusTracker(2)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }

	tracker.SetAccount(1, "alice")
	tracker.SetMessage(1, "Searching at 1.000000,2.000000")

	w := tracker.Snapshot()[1]
	if w.Username != "alice" {
		t.Errorf("Username = %q, want alice", w.Username)
	}
	if w.Message != "Searching at 1.000000,2.000000" {
		t.Errorf("Message = %q", w.Message)
	}
	if !w.LastModified.Equal(now) {
		t.Errorf("LastModified = %v, want %v", w.LastModified, now)
	}
}

func TestStatusTracker_Concurrent(t *testing.T) {
	tracker := NewStatusTracker(4)
	const numGoroutines = 100
	const opsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines * 2)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				tracker.Record(i%4, ResultSuccess)
				tracker.SetMessage(i%4, "busy")
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				_ = tracker.Snapshot()
				_ = tracker.Totals()
			}
		}()
	}

	wg.Wait()

	if got := tracker.Totals()[ResultSuccess]; got != numGoroutines*opsPerGoroutine {
		t.Errorf("Totals()[success] = %d, want %d", got, numGoroutines*opsPerGoroutine)
	}
}
