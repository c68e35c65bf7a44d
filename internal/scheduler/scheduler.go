// Package scheduler feeds planner waypoints to the worker pool and handles
// pause and location change signals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/internal/planner"
)

// ScanTask is one waypoint handed to a worker.
type ScanTask struct {
	Waypoint planner.Waypoint
	Attempts int
}

// Planner produces waypoints for a centre.
type Planner interface {
	Plan(ctx context.Context, center geo.Coordinate, stepLimit int, now time.Time) ([]planner.Waypoint, error)
	Recompute() bool
}

// Config holds scheduler configuration.
type Config struct {
	StepLimit    int
	TickInterval time.Duration
	QueueSize    int
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		StepLimit:    12,
		TickInterval: time.Second,
		QueueSize:    1000,
	}
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Paused      bool
	Center      geo.Coordinate
	HasCenter   bool
	QueueLength int
	Cycles      int
	NextAppears int64
}

// Scheduler owns the task channel.
type Scheduler struct {
	config  Config
	planner Planner
	log     *zap.SugaredLogger
	now     func() time.Time

	tasks chan ScanTask
	wake  chan struct{}

	mu          sync.Mutex
	paused      bool
	center      geo.Coordinate
	hasCenter   bool
	newLocation *geo.Coordinate
	cached      []planner.Waypoint
	cycles      int
	nextAppears int64
}

// New creates a scheduler.
func New(config Config, p Planner, logger *zap.SugaredLogger) *Scheduler {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultConfig().TickInterval
	}
	return &Scheduler{
		config:  config,
		planner: p,
		log:     logger,
		now:     time.Now,
		tasks:   make(chan ScanTask, config.QueueSize),
		wake:    make(chan struct{}, 1),
	}
}

// SetClock replaces the time source. Used by tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Pause stops handing out tasks and drains the queue.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.signal()
	if n := s.Drain(); n > 0 {
		s.log.Infof("Paused: dropped %d queued tasks", n)
	}
}

// Resume lets the scheduler fill the queue again.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.signal()
}

// Paused reports whether scanning is paused.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// SetLocation moves the scan centre. Only the latest location counts if
// several arrive before the next tick. Pending tasks are dropped.
func (s *Scheduler) SetLocation(c geo.Coordinate) {
	s.mu.Lock()
	s.newLocation = &c
	s.mu.Unlock()
	s.signal()
	s.Drain()
}

// Location returns the current scan centre.
func (s *Scheduler) Location() (geo.Coordinate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.newLocation != nil {
		return *s.newLocation, true
	}
	return s.center, s.hasCenter
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Drain empties the task queue without blocking and returns how many tasks
// were dropped.
func (s *Scheduler) Drain() int {
	n := 0
	for {
		select {
		case <-s.tasks:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued tasks.
func (s *Scheduler) Len() int {
	return len(s.tasks)
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Paused:      s.paused,
		Center:      s.center,
		HasCenter:   s.hasCenter,
		QueueLength: len(s.tasks),
		Cycles:      s.cycles,
		NextAppears: s.nextAppears,
	}
}

// Next blocks until a task is available and scanning is not paused. A task
// taken while a pause lands is dropped rather than returned.
func (s *Scheduler) Next(ctx context.Context) (ScanTask, bool) {
	for {
		if s.Paused() {
			select {
			case <-ctx.Done():
				return ScanTask{}, false
			case <-time.After(s.config.TickInterval):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ScanTask{}, false
		case task := <-s.tasks:
			if s.Paused() {
				continue
			}
			return task, true
		}
	}
}

// Run starts the scheduler loop. It blocks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.log.Infof("Scheduler started: step_limit=%d, tick=%s", s.config.StepLimit, s.config.TickInterval)

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// tick runs one scheduling pass.
func (s *Scheduler) tick(ctx context.Context) {
	if s.Paused() {
		s.Drain()
		return
	}

	s.mu.Lock()
	if s.newLocation != nil {
		s.center = *s.newLocation
		s.hasCenter = true
		s.newLocation = nil
		s.cached = nil
		s.mu.Unlock()
		s.Drain()
		s.log.Infof("Scan location changed to %.6f,%.6f", s.center.Lat, s.center.Lng)
		s.mu.Lock()
	}
	center, hasCenter := s.center, s.hasCenter
	s.mu.Unlock()

	if !hasCenter {
		s.log.Warn("Cannot schedule work until scan location has been set")
		return
	}
	if len(s.tasks) > 0 {
		return
	}

	waypoints, err := s.plan(ctx, center)
	if err != nil {
		if errors.Is(err, planner.ErrNoWaypoints) {
			s.log.Warnf("No waypoints for %.6f,%.6f; check geofences and spawnpoint sources", center.Lat, center.Lng)
		} else {
			s.log.Errorf("Planning failed: %v", err)
		}
		return
	}

	queued := s.enqueue(ctx, waypoints)
	s.mu.Lock()
	s.cycles++
	s.mu.Unlock()
	s.log.Infof("Queued %d of %d waypoints", queued, len(waypoints))
}

func (s *Scheduler) plan(ctx context.Context, center geo.Coordinate) ([]planner.Waypoint, error) {
	s.mu.Lock()
	cached := s.cached
	s.mu.Unlock()
	if cached != nil && !s.planner.Recompute() {
		return cached, nil
	}

	waypoints, err := s.planner.Plan(ctx, center, s.config.StepLimit, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to plan waypoints: %w", err)
	}
	if !s.planner.Recompute() {
		s.mu.Lock()
		s.cached = waypoints
		s.mu.Unlock()
	}
	return waypoints, nil
}

// enqueue pushes waypoints in order until done, or until a pause or
// location change arrives while the queue is full.
func (s *Scheduler) enqueue(ctx context.Context, waypoints []planner.Waypoint) int {
	if len(waypoints) > 0 && waypoints[0].Timed() {
		s.mu.Lock()
		s.nextAppears = waypoints[0].Appears
		s.mu.Unlock()
	}

	for i, w := range waypoints {
	push:
		for {
			if s.interrupted() {
				return i
			}
			select {
			case s.tasks <- ScanTask{Waypoint: w}:
				break push
			case <-ctx.Done():
				return i
			case <-time.After(s.config.TickInterval):
			}
		}
	}
	return len(waypoints)
}

func (s *Scheduler) interrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused || s.newLocation != nil
}
