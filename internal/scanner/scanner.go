// Package scanner runs the worker pool: each worker takes scan tasks from
// the scheduler, borrows an identity from the pool, logs it in, scans and
// forwards what it finds.
package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/captcha"
	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/internal/rpc"
	"github.com/locplace/mapscan/internal/scheduler"
	"github.com/locplace/mapscan/internal/store"
	"github.com/locplace/mapscan/internal/webhook"
	"github.com/locplace/mapscan/pkg/api"
)

// Errors surfaced by workers.
var (
	ErrTooManyLoginAttempts = errors.New("exceeded login attempts")
	ErrNoAccount            = errors.New("no account available")
)

// FreshnessLimit is how late a spawn-timed task may start before it is
// dropped.
const FreshnessLimit = 840 * time.Second

// EncounterConfig controls encounter calls for new spawns.
type EncounterConfig struct {
	Enabled bool
	Filter  PokemonFilter
	Delay   time.Duration
}

// Config holds the scanner configuration.
type Config struct {
	Workers        int    // <= 0 means one per identity
	Subset         string // empty runs workers for every subset
	ScanDelay      time.Duration
	ScanRetries    int
	LoginRetries   int
	LoginDelay     time.Duration
	APIRetries     int
	MaxFailures    int
	MinSecondsLeft time.Duration
	Jitter         bool
	JitterMetres   float64
	ArenaInfo      bool
	Encounter      EncounterConfig
	Webhooks       PokemonFilter
	LureDuration   time.Duration
	LongHold       time.Duration
	StatusName     string
	StatusInterval time.Duration
}

// DefaultConfig returns the default scanner configuration.
func DefaultConfig() Config {
	return Config{
		ScanDelay:      10 * time.Second,
		ScanRetries:    5,
		LoginRetries:   3,
		LoginDelay:     5 * time.Second,
		APIRetries:     5,
		MaxFailures:    5,
		JitterMetres:   10,
		LureDuration:   30 * time.Minute,
		LongHold:       2 * time.Hour,
		StatusName:     "Worker",
		StatusInterval: 5 * time.Second,
	}
}

// TaskSource hands out scan tasks.
type TaskSource interface {
	Next(ctx context.Context) (scheduler.ScanTask, bool)
	Paused() bool
}

// CaptchaHandler decides what happens to an identity served a challenge.
type CaptchaHandler interface {
	Handle(ctx context.Context, client rpc.Client, id *account.Identity) captcha.Decision
}

// Sink receives observations for persistence.
type Sink interface {
	Enqueue(b store.Batch)
}

// Events receives webhook messages.
type Events interface {
	Enqueue(kind webhook.Kind, payload map[string]any)
}

// ArenaIndex tells when arena details were last fetched.
type ArenaIndex interface {
	ArenaDetailsScanned(ctx context.Context, ids []string) (map[string]time.Time, error)
}

// StatusStore persists worker status rows.
type StatusStore interface {
	SaveWorkerStatus(ctx context.Context, statuses []store.WorkerStatus) error
}

// Runtime carries the collaborators the workers share. Tasks, Pool and
// Dialer are required.
type Runtime struct {
	Tasks   TaskSource
	Pool    *account.Pool
	Dialer  rpc.Dialer
	Captcha CaptchaHandler
	Sink    Sink
	Events  Events
	Arenas  ArenaIndex
	Status  StatusStore
	Clock   rpc.Clock
	Log     *zap.SugaredLogger
}

// Scanner orchestrates the workers and status reporting.
type Scanner struct {
	config  Config
	rt      Runtime
	metrics *Metrics
	parser  *Parser
	tracker *StatusTracker
	runID   uuid.UUID
	workers int
	subsets []string // subset each worker acquires from, by worker index

	clientsMu sync.Mutex
	clients   map[string]rpc.Client

	arenasMu      sync.Mutex
	arenasScanned map[string]time.Time

	// Graceful shutdown
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New creates a new scanner.
func New(config Config, rt Runtime) *Scanner {
	if rt.Clock == nil {
		rt.Clock = rpc.SystemClock{}
	}
	if rt.Log == nil {
		rt.Log = zap.NewNop().Sugar()
	}
	subsets := assignWorkers(rt.Pool, config.Subset, config.Workers)
	workers := len(subsets)
	return &Scanner{
		config:     config,
		rt:         rt,
		parser:     NewParser(config.Webhooks, config.LureDuration),
		tracker:    NewStatusTracker(workers),
		runID:      uuid.New(),
		workers:    workers,
		subsets:    subsets,
		clients:    make(map[string]rpc.Client),
		shutdownCh: make(chan struct{}),

		arenasScanned: make(map[string]time.Time),
	}
}

// assignWorkers gives every identity of the selected subsets a worker,
// interleaving subsets so a worker cap still leaves each subset served.
// only restricts workers to one subset; limit <= 0 means no cap.
func assignWorkers(pool *account.Pool, only string, limit int) []string {
	var names []string
	remaining := make(map[string]int)
	for _, name := range pool.Subsets() {
		if only != "" && name != only {
			continue
		}
		names = append(names, name)
		remaining[name] = pool.SubsetSize(name)
	}

	var out []string
	for {
		added := false
		for _, name := range names {
			if remaining[name] == 0 {
				continue
			}
			if limit > 0 && len(out) == limit {
				return out
			}
			out = append(out, name)
			remaining[name]--
			added = true
		}
		if !added {
			return out
		}
	}
}

// InitiateShutdown signals workers to stop taking new tasks.
// Workers will finish their current task before exiting.
func (s *Scanner) InitiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
}

// SetMetrics sets the metrics instance for the scanner.
func (s *Scanner) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Workers returns a snapshot of every worker's status.
func (s *Scanner) Workers() []api.WorkerInfo {
	return s.tracker.Snapshot()
}

// Run starts the workers. It blocks until the context is canceled or a
// shutdown was initiated and every worker has finished its task.
func (s *Scanner) Run(ctx context.Context) error {
	s.rt.Log.Infof("Starting scanner with %d workers", s.workers)
	s.rt.Log.Infof("Run ID: %s", s.runID)
	s.rt.Log.Infof("Scan delay: %s, scan retries: %d, login retries: %d",
		s.config.ScanDelay, s.config.ScanRetries, s.config.LoginRetries)

	if s.workers == 0 {
		return ErrNoAccount
	}

	statusCtx, cancelStatus := context.WithCancel(ctx)
	defer cancelStatus()
	go s.runStatusReporter(statusCtx)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		worker := newWorker(i, s)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	wg.Wait()
	s.rt.Log.Info("Scanner stopped")
	return nil
}

// clientFor returns the session of id, dialing it on first use. An identity
// is held by one goroutine at a time, and so is its session.
func (s *Scanner) clientFor(id *account.Identity) rpc.Client {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	c, ok := s.clients[id.Username]
	if !ok {
		c = s.rt.Dialer.Dial(id)
		s.clients[id.Username] = c
	}
	return c
}

// Verify logs a held identity in at coord and submits a challenge token.
// It implements captcha.Verifier.
func (s *Scanner) Verify(ctx context.Context, id *account.Identity, coord geo.Coordinate, token string) (bool, error) {
	client := s.clientFor(id)
	client.SetProxy(s.rt.Pool.ProxyURL(id))
	client.SetPosition(coord)
	if _, err := s.checkLogin(ctx, client, id, s.rt.Log); err != nil {
		return false, err
	}
	return captcha.VerifyChallenge(ctx, client, token)
}

// runStatusReporter periodically persists the worker status.
func (s *Scanner) runStatusReporter(ctx context.Context) {
	if s.rt.Status == nil || s.config.StatusInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.StatusInterval)
	defer ticker.Stop()

	s.rt.Log.Infof("Status reporter started: interval=%s", s.config.StatusInterval)

	var consecutiveErrors int

	for {
		select {
		case <-ctx.Done():
			s.rt.Log.Info("Status reporter stopped")
			return
		case <-ticker.C:
			if err := s.rt.Status.SaveWorkerStatus(ctx, s.statusRows()); err != nil {
				consecutiveErrors++
				if consecutiveErrors == 1 {
					s.rt.Log.Warnf("Status update error: %v (suppressing until recovered)", err)
				}
				continue
			}
			if consecutiveErrors > 0 {
				s.rt.Log.Infof("Status updates recovered after %d errors", consecutiveErrors)
			}
			consecutiveErrors = 0
		}
	}
}

func (s *Scanner) statusRows() []store.WorkerStatus {
	var rows []store.WorkerStatus
	for _, w := range s.tracker.Snapshot() {
		if w.Username == "" {
			continue
		}
		rows = append(rows, store.WorkerStatus{
			Username:     w.Username,
			WorkerName:   workerName(s.config.StatusName, w.Index),
			RunID:        s.runID,
			Success:      w.Success,
			Fail:         w.Fail,
			NoItems:      w.NoItems,
			Skip:         w.Skip,
			Captcha:      w.Captcha,
			Message:      w.Message,
			LastModified: w.LastModified,
		})
	}
	return rows
}
