package scanner

import (
	"sync"
	"time"

	"github.com/paulbellamy/ratecounter"

	"github.com/locplace/mapscan/pkg/api"
)

// Result is the outcome of one scan task as the worker status reports it.
type Result string

// Scan results.
const (
	ResultSuccess Result = "success"
	ResultNoItems Result = "no_items"
	ResultFail    Result = "fail"
	ResultSkip    Result = "skip"
	ResultCaptcha Result = "captcha"
)

// workerStatus is what one worker is doing and how it has fared.
type workerStatus struct {
	index        int
	username     string
	message      string
	success      int64
	fail         int64
	noItems      int64
	skip         int64
	captcha      int64
	scans        *ratecounter.RateCounter
	lastModified time.Time
}

// StatusTracker keeps the status of every worker.
// It is safe for concurrent use by multiple goroutines.
type StatusTracker struct {
	mu      sync.RWMutex
	workers []*workerStatus
	now     func() time.Time
}

// NewStatusTracker creates a tracker for n workers.
func NewStatusTracker(n int) *StatusTracker {
	t := &StatusTracker{now: time.Now}
	for i := 0; i < n; i++ {
		t.workers = append(t.workers, &workerStatus{
			index: i,
			scans: ratecounter.NewRateCounter(time.Minute),
		})
	}
	return t
}

func (t *StatusTracker) worker(i int) *workerStatus {
	if i < 0 || i >= len(t.workers) {
		return nil
	}
	return t.workers[i]
}

// SetAccount records which account worker i is using.
func (t *StatusTracker) SetAccount(i int, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w := t.worker(i); w != nil {
		w.username = username
		w.lastModified = t.now()
	}
}

// SetMessage records what worker i is doing.
func (t *StatusTracker) SetMessage(i int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w := t.worker(i); w != nil {
		w.message = message
		w.lastModified = t.now()
	}
}

// Record counts a finished task of worker i.
func (t *StatusTracker) Record(i int, r Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.worker(i)
	if w == nil {
		return
	}
	switch r {
	case ResultSuccess:
		w.success++
		w.scans.Incr(1)
	case ResultNoItems:
		w.noItems++
		w.scans.Incr(1)
	case ResultFail:
		w.fail++
	case ResultSkip:
		w.skip++
	case ResultCaptcha:
		w.captcha++
	}
	w.lastModified = t.now()
}

// Snapshot returns a copy of every worker's status.
func (t *StatusTracker) Snapshot() []api.WorkerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]api.WorkerInfo, 0, len(t.workers))
	for _, w := range t.workers {
		out = append(out, api.WorkerInfo{
			Index:        w.index,
			Username:     w.username,
			Message:      w.message,
			Success:      w.success,
			Fail:         w.fail,
			NoItems:      w.noItems,
			Skip:         w.skip,
			Captcha:      w.captcha,
			ScansPerMin:  w.scans.Rate(),
			LastModified: w.lastModified,
		})
	}
	return out
}

// Totals sums the counters of all workers.
func (t *StatusTracker) Totals() map[Result]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	totals := make(map[Result]int64)
	for _, w := range t.workers {
		totals[ResultSuccess] += w.success
		totals[ResultNoItems] += w.noItems
		totals[ResultFail] += w.fail
		totals[ResultSkip] += w.skip
		totals[ResultCaptcha] += w.captcha
	}
	return totals
}
