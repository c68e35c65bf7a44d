package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/captcha"
	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/internal/rpc"
	"github.com/locplace/mapscan/internal/scheduler"
)

// arrivalGrace is added to a spawn's appearance before scanning it.
const arrivalGrace = 10 * time.Second

// attempt is the result of one try at a task.
type attempt struct {
	result Result // empty when the task was dropped without scanning
	retry  bool
	login  bool
}

// Worker scans tasks one at a time with whichever identity the pool lends
// it.
type Worker struct {
	ID      int
	Subset  string
	s       *Scanner
	log     *zap.SugaredLogger
	limiter *rate.Limiter
}

func newWorker(index int, s *Scanner) *Worker {
	limit := rate.Inf
	if s.config.ScanDelay > 0 {
		limit = rate.Every(s.config.ScanDelay)
	}
	subset := account.DefaultSubset
	if index < len(s.subsets) {
		subset = s.subsets[index]
	}
	return &Worker{
		ID:      index,
		Subset:  subset,
		s:       s,
		log:     s.rt.Log.With("worker", workerName(s.config.StatusName, index)),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func workerName(statusName string, index int) string {
	return fmt.Sprintf("%s_%d", statusName, index)
}

// Run starts the worker loop. It blocks until the context is canceled or
// shutdown was initiated.
func (w *Worker) Run(ctx context.Context) {
	w.log.Infof("[Worker %d] Started", w.ID)
	w.s.tracker.SetMessage(w.ID, "Starting")

	// Shutdown stops waiting for new tasks but lets a running one finish.
	nextCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.s.shutdownCh:
			cancel()
		case <-nextCtx.Done():
		}
	}()

	if err := w.stagger(nextCtx); err != nil {
		return
	}

	for {
		w.s.tracker.SetMessage(w.ID, "Waiting for item from queue")
		task, ok := w.s.rt.Tasks.Next(nextCtx)
		if !ok {
			select {
			case <-w.s.shutdownCh:
				w.log.Infof("[Worker %d] Shutdown signal received, exiting", w.ID)
			default:
				w.log.Infof("[Worker %d] Stopped", w.ID)
			}
			return
		}

		// Post-cycle pacing: consecutive loop starts are at least ScanDelay
		// apart.
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		// The pause may have started while pacing.
		if w.s.rt.Tasks.Paused() {
			w.log.Debugf("[Worker %d] Scanning paused, dropping %.6f,%.6f",
				w.ID, task.Waypoint.Coord.Lat, task.Waypoint.Coord.Lng)
			continue
		}
		w.process(ctx, task)
	}
}

// stagger spreads the initial logins; the first worker starts at once.
func (w *Worker) stagger(ctx context.Context) error {
	if w.ID == 0 {
		return nil
	}
	delay := time.Duration((float64(w.ID) + (rand.Float64()-0.5)/2) * float64(time.Second))
	w.log.Debugf("[Worker %d] Delaying startup for %s", w.ID, delay.Round(10*time.Millisecond))
	return w.s.rt.Clock.Sleep(ctx, delay)
}

// process runs a task, retrying it with linear backoff until it succeeds,
// is abandoned, or runs out of retries.
func (w *Worker) process(ctx context.Context, task scheduler.ScanTask) {
	for {
		start := w.s.rt.Clock.Now()
		a := w.scan(ctx, task)
		w.record(a, start)

		if !a.retry || ctx.Err() != nil {
			return
		}
		if task.Attempts >= w.s.config.ScanRetries {
			w.log.Warnf("[Worker %d] Abandoning location %.6f,%.6f after %d attempts",
				w.ID, task.Waypoint.Coord.Lat, task.Waypoint.Coord.Lng, task.Attempts+1)
			return
		}

		delay := w.s.config.ScanDelay * time.Duration(1+task.Attempts)
		task.Attempts++
		if w.s.metrics != nil {
			w.s.metrics.TaskRetries.Inc()
		}
		w.log.Infof("[Worker %d] Retrying location %.6f,%.6f in %s (attempt %d/%d)",
			w.ID, task.Waypoint.Coord.Lat, task.Waypoint.Coord.Lng, delay, task.Attempts, w.s.config.ScanRetries)
		if err := w.s.rt.Clock.Sleep(ctx, delay); err != nil {
			return
		}
		if w.s.rt.Tasks.Paused() {
			return
		}
	}
}

func (w *Worker) record(a attempt, start time.Time) {
	if a.result == "" {
		return
	}
	w.s.tracker.Record(w.ID, a.result)
	if w.s.metrics != nil {
		w.s.metrics.Scans.WithLabelValues(string(a.result)).Inc()
		w.s.metrics.ScanDuration.WithLabelValues(string(a.result), BoolLabel(a.login)).
			Observe(w.s.rt.Clock.Now().Sub(start).Seconds())
	}
}

// scan makes one attempt at task.
func (w *Worker) scan(ctx context.Context, task scheduler.ScanTask) attempt {
	s := w.s
	clock := s.rt.Clock
	wp := task.Waypoint
	coord := wp.Coord

	if wp.Appears > 0 {
		if !w.waitUntil(ctx, time.Unix(wp.Appears, 0).Add(arrivalGrace), coord) {
			return attempt{}
		}
		if late := clock.Now().Sub(time.Unix(wp.Appears, 0)); late > FreshnessLimit {
			w.message("Can't keep up, skipping %.6f,%.6f (%s late)", coord.Lat, coord.Lng, late.Round(time.Second))
			w.log.Warnf("[Worker %d] Can't keep up, skipping %.6f,%.6f (%s late)", w.ID, coord.Lat, coord.Lng, late.Round(time.Second))
			return attempt{result: ResultSkip}
		}
	}
	if wp.Disappears > 0 && clock.Now().After(time.Unix(wp.Disappears, 0).Add(-s.config.MinSecondsLeft)) {
		w.message("Too late for location %.6f,%.6f; skipping", coord.Lat, coord.Lng)
		w.log.Infof("[Worker %d] Too late for location %.6f,%.6f; skipping", w.ID, coord.Lat, coord.Lng)
		return attempt{result: ResultSkip}
	}

	id := w.acquire(ctx, coord)
	if id == nil {
		return attempt{}
	}
	s.tracker.SetAccount(w.ID, id.Username)
	log := w.log.With("username", id.Username)

	outcome := account.OutcomeOK
	var rest time.Duration
	defer func() {
		if rest > 0 {
			s.rt.Pool.Rest(id, rest)
			return
		}
		s.rt.Pool.Release(id, outcome)
	}()

	client := s.clientFor(id)
	client.SetProxy(s.rt.Pool.AssignProxy(id, false))
	pos := coord
	if s.config.Jitter {
		pos = geo.Jitter(coord, s.config.JitterMetres, nil)
		log.Debugf("Jittered to %.6f,%.6f", pos.Lat, pos.Lng)
	}
	client.SetPosition(pos)

	w.message("Searching at %.6f,%.6f", coord.Lat, coord.Lng)
	log.Infow("Searching", "lat", coord.Lat, "lng", coord.Lng, "step", wp.Step)

	loggedIn, err := s.checkLogin(ctx, client, id, log)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return attempt{login: loggedIn}
		case errors.Is(err, ErrTooManyLoginAttempts):
			rest = s.config.LongHold
			w.message("Account %s exceeded login attempts, resting for %s", id.Username, rest)
			log.Errorf("Account %s exceeded login attempts, resting for %s: %v", id.Username, rest, err)
			w.rested("login")
			return attempt{result: ResultFail, login: loggedIn}
		default:
			return w.failed(log, id, &outcome, "login", err, loggedIn)
		}
	}

	resp, err := w.call(ctx, client, id, log, mapRequest(id, pos))
	if err != nil {
		if ctx.Err() != nil {
			return attempt{login: loggedIn}
		}
		return w.failed(log, id, &outcome, "scan", err, loggedIn)
	}

	if id.ChallengeURL != "" {
		return w.challenged(ctx, client, id, log, &outcome, loggedIn)
	}

	var objs rpc.MapObjects
	ok, err := resp.Decode(rpc.MethodGetMapObjects, &objs)
	if err == nil && !ok {
		err = fmt.Errorf("%w: no map objects", rpc.ErrUnexpectedResponse)
	}
	if err != nil {
		return w.failed(log, id, &outcome, "parse", err, loggedIn)
	}

	parsed := s.parser.Parse(&objs, coord, clock.Now(), w.encounterFunc(ctx, client, id, pos, log))
	if parsed.Seen == 0 {
		log.Warnf("Bad scan. Parsing found absolutely nothing using account %s", id.Username)
	}
	if s.config.ArenaInfo {
		w.refreshArenas(ctx, client, id, pos, log, &parsed)
	}
	s.forward(parsed)

	id.Failures = 0
	w.message("Search at %.6f,%.6f completed with %d finds", coord.Lat, coord.Lng, parsed.Seen)
	if parsed.Seen == 0 {
		return attempt{result: ResultNoItems, login: loggedIn}
	}
	return attempt{result: ResultSuccess, login: loggedIn}
}

// failed handles a failed attempt. Banned identities are put away at once;
// others go to cooldown after MaxFailures consecutive failures.
func (w *Worker) failed(log *zap.SugaredLogger, id *account.Identity, outcome *account.Outcome, step string, err error, login bool) attempt {
	if errors.Is(err, rpc.ErrBanned) {
		*outcome = account.OutcomeBanned
		w.message("Account %s is banned", id.Username)
		log.Errorw("Account is banned", "step", step, "error", err)
		w.rested("banned")
		return attempt{result: ResultFail, retry: true, login: login}
	}

	id.Failures++
	w.message("%s failed: %v", step, err)
	log.Warnw("Scan attempt failed", "step", step, "failures", id.Failures, "error", err)
	if w.s.config.MaxFailures > 0 && id.Failures >= w.s.config.MaxFailures {
		*outcome = account.OutcomeFailed
		log.Warnf("Account %s failed more than %d scans; possibly bad account. Switching accounts...",
			id.Username, w.s.config.MaxFailures)
		w.rested("failures")
	}
	return attempt{result: ResultFail, retry: true, login: login}
}

// challenged hands an identity that was served a challenge to the captcha
// handler. Unless the challenge is solved inline, the task is abandoned.
func (w *Worker) challenged(ctx context.Context, client rpc.Client, id *account.Identity, log *zap.SugaredLogger, outcome *account.Outcome, login bool) attempt {
	decision := captcha.Hold
	if w.s.rt.Captcha != nil {
		decision = w.s.rt.Captcha.Handle(ctx, client, id)
	}

	var label string
	switch decision {
	case captcha.Solved:
		label = "solved"
		log.Infof("Account %s solved its captcha, rescanning", id.Username)
	case captcha.Cooldown:
		label = "cooldown"
		*outcome = account.OutcomeFailed
		w.rested("captcha")
	default:
		label = "hold"
		*outcome = account.OutcomeCaptcha
		w.message("Account %s has encountered a captcha", id.Username)
	}
	if w.s.metrics != nil {
		w.s.metrics.CaptchaDecision.WithLabelValues(label).Inc()
	}
	return attempt{result: ResultCaptcha, retry: decision == captcha.Solved, login: login}
}

// acquire borrows an identity that can reach coord, waiting for the speed
// gate or for a busy identity to come back. It gives up on pause or
// cancellation.
func (w *Worker) acquire(ctx context.Context, coord geo.Coordinate) *account.Identity {
	logged := false
	for {
		id, wait := w.s.rt.Pool.Acquire(w.Subset, coord)
		if id != nil {
			return id
		}
		if wait <= 0 || wait > time.Second {
			wait = time.Second
		}
		if !logged {
			w.message("Waiting for an account that can reach %.6f,%.6f", coord.Lat, coord.Lng)
			w.log.Debugf("[Worker %d] No account available for %.6f,%.6f", w.ID, coord.Lat, coord.Lng)
			logged = true
		}
		if err := w.s.rt.Clock.Sleep(ctx, wait); err != nil {
			return nil
		}
		if w.s.rt.Tasks.Paused() {
			return nil
		}
	}
}

// waitUntil sleeps until at. It returns false if scanning was paused or ctx
// ended meanwhile.
func (w *Worker) waitUntil(ctx context.Context, at time.Time, coord geo.Coordinate) bool {
	clock := w.s.rt.Clock
	first := true
	for {
		remain := at.Sub(clock.Now())
		if remain <= 0 {
			return true
		}
		if w.s.rt.Tasks.Paused() {
			return false
		}
		w.message("Early for %.6f,%.6f; waiting %s...", coord.Lat, coord.Lng, remain.Round(time.Second))
		if first {
			w.log.Infof("[Worker %d] Early for %.6f,%.6f; waiting %s...", w.ID, coord.Lat, coord.Lng, remain.Round(time.Second))
			first = false
		}
		if err := clock.Sleep(ctx, min(remain, time.Second)); err != nil {
			return false
		}
	}
}

// call sends req through the retry wrapper and folds companion results into
// the identity.
func (w *Worker) call(ctx context.Context, client rpc.Client, id *account.Identity, log *zap.SugaredLogger, req rpc.Request) (*rpc.Response, error) {
	var resp *rpc.Response
	err := w.s.retrier(client, id, log).Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = client.Call(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := rpc.Absorb(id, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (w *Worker) message(format string, args ...any) {
	w.s.tracker.SetMessage(w.ID, fmt.Sprintf(format, args...))
}

func (w *Worker) rested(reason string) {
	if w.s.metrics != nil {
		w.s.metrics.AccountsRested.WithLabelValues(reason).Inc()
	}
}

func mapRequest(id *account.Identity, pos geo.Coordinate) rpc.Request {
	return rpc.NewRequest(id, rpc.Call{
		Method: rpc.MethodGetMapObjects,
		Params: map[string]any{
			"latitude":  pos.Lat,
			"longitude": pos.Lng,
		},
	}, rpc.CommonCompanions...)
}
