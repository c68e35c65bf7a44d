package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/internal/planner"
)

type fakePlanner struct {
	mu        sync.Mutex
	recompute bool
	n         int
	calls     []geo.Coordinate
}

func (f *fakePlanner) Plan(ctx context.Context, center geo.Coordinate, stepLimit int, now time.Time) ([]planner.Waypoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, center)
	out := make([]planner.Waypoint, f.n)
	for i := range out {
		out[i] = planner.Waypoint{Step: i + 1, Coord: geo.Coordinate{Lat: center.Lat, Lng: float64(i)}}
	}
	return out, nil
}

func (f *fakePlanner) Recompute() bool { return f.recompute }

func (f *fakePlanner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestScheduler(p Planner, queue int) *Scheduler {
	return New(Config{StepLimit: 3, TickInterval: 10 * time.Millisecond, QueueSize: queue}, p, zap.NewNop().Sugar())
}

func TestTickWithoutLocation(t *testing.T) {
	fp := &fakePlanner{n: 3}
	s := newTestScheduler(fp, 10)
	s.tick(context.Background())
	if fp.callCount() != 0 || s.Len() != 0 {
		t.Errorf("planned without a location: calls=%d len=%d", fp.callCount(), s.Len())
	}
}

func TestTickEnqueuesInPlannerOrder(t *testing.T) {
	fp := &fakePlanner{n: 5}
	s := newTestScheduler(fp, 10)
	s.SetLocation(geo.Coordinate{Lat: 1})
	s.tick(context.Background())

	if s.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", s.Len())
	}
	for i := 1; i <= 5; i++ {
		task, ok := s.Next(context.Background())
		if !ok || task.Waypoint.Step != i {
			t.Fatalf("task %d = %+v, want step %d", i, task, i)
		}
	}
}

func TestHexPlanIsReused(t *testing.T) {
	fp := &fakePlanner{n: 2}
	s := newTestScheduler(fp, 10)
	s.SetLocation(geo.Coordinate{Lat: 1})

	s.tick(context.Background())
	s.Drain()
	s.tick(context.Background())

	if got := fp.callCount(); got != 1 {
		t.Errorf("Plan() called %d times, want 1", got)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestSpawnPlanIsRecomputed(t *testing.T) {
	fp := &fakePlanner{n: 2, recompute: true}
	s := newTestScheduler(fp, 10)
	s.SetLocation(geo.Coordinate{Lat: 1})

	s.tick(context.Background())
	s.Drain()
	s.tick(context.Background())

	if got := fp.callCount(); got != 2 {
		t.Errorf("Plan() called %d times, want 2", got)
	}
}

func TestTickSkipsWhileQueueNotEmpty(t *testing.T) {
	fp := &fakePlanner{n: 2, recompute: true}
	s := newTestScheduler(fp, 10)
	s.SetLocation(geo.Coordinate{Lat: 1})

	s.tick(context.Background())
	s.tick(context.Background())

	if got := fp.callCount(); got != 1 {
		t.Errorf("Plan() called %d times, want 1", got)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestPauseDrainsAndBlocksWorkers(t *testing.T) {
	fp := &fakePlanner{n: 4}
	s := newTestScheduler(fp, 10)
	s.SetLocation(geo.Coordinate{Lat: 1})
	s.tick(context.Background())

	s.Pause()
	if s.Len() != 0 {
		t.Fatalf("Len() after Pause = %d, want 0", s.Len())
	}

	// A tick while paused must not refill.
	s.tick(context.Background())
	if s.Len() != 0 {
		t.Fatalf("Len() after paused tick = %d, want 0", s.Len())
	}

	// Sneak a task in behind the pause; workers must not get it.
	s.tasks <- ScanTask{Waypoint: planner.Waypoint{Step: 99}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if task, ok := s.Next(ctx); ok {
		t.Fatalf("Next() returned %+v while paused", task)
	}

	s.Resume()
	s.tick(context.Background())
	if s.Len() == 0 {
		t.Error("no tasks queued after Resume")
	}
}

func TestSetLocationLatestWins(t *testing.T) {
	fp := &fakePlanner{n: 3}
	s := newTestScheduler(fp, 10)
	s.SetLocation(geo.Coordinate{Lat: 1})
	s.tick(context.Background())

	s.SetLocation(geo.Coordinate{Lat: 2})
	s.SetLocation(geo.Coordinate{Lat: 3})
	if s.Len() != 0 {
		t.Fatalf("Len() after SetLocation = %d, want 0", s.Len())
	}
	if c, ok := s.Location(); !ok || c.Lat != 3 {
		t.Errorf("Location() = %v, %v; want lat 3", c, ok)
	}

	s.tick(context.Background())
	fp.mu.Lock()
	calls := append([]geo.Coordinate(nil), fp.calls...)
	fp.mu.Unlock()
	if len(calls) != 2 || calls[1].Lat != 3 {
		t.Errorf("Plan() calls = %v, want second call at lat 3", calls)
	}

	task, ok := s.Next(context.Background())
	if !ok || task.Waypoint.Coord.Lat != 3 {
		t.Errorf("Next() = %+v, want a waypoint around lat 3", task)
	}
}

func TestEnqueueStopsOnPauseWhenFull(t *testing.T) {
	fp := &fakePlanner{n: 10}
	s := newTestScheduler(fp, 2)
	s.SetLocation(geo.Coordinate{Lat: 1})

	done := make(chan struct{})
	go func() {
		s.tick(context.Background())
		close(done)
	}()

	// Wait for the queue to fill.
	deadline := time.After(time.Second)
	for s.Len() < 2 {
		select {
		case <-deadline:
			t.Fatal("queue never filled")
		case <-time.After(time.Millisecond):
		}
	}

	s.Pause()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick did not return after Pause")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestScheduler(&fakePlanner{n: 1}, 10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	s.SetLocation(geo.Coordinate{Lat: 1})

	task, ok := s.Next(ctx)
	if !ok || task.Waypoint.Step != 1 {
		t.Errorf("Next() = %+v, %v", task, ok)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
