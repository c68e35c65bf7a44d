// Package webhook forwards observations to external subscribers in batched
// frames, suppressing messages that repeat what a sink already received.
package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"go.uber.org/zap"

	"github.com/locplace/mapscan/pkg/api"
)

// Sink receives frames of messages.
type Sink interface {
	Name() string
	Send(ctx context.Context, frame []api.WebhookMessage) error
}

// Config holds fan-out configuration.
type Config struct {
	FrameInterval  time.Duration
	LFUSize        int
	Timeout        time.Duration // per-sink send timeout
	QueueThreshold int           // queue length that counts as backed up
	Types          []Kind        // kinds to forward; empty forwards all
}

// DefaultConfig returns the default fan-out configuration.
func DefaultConfig() Config {
	return Config{
		FrameInterval:  500 * time.Millisecond,
		LFUSize:        2500,
		Timeout:        time.Second,
		QueueThreshold: 100,
	}
}

// Metrics receives fan-out counters. Any method may be a no-op.
type Metrics interface {
	Forwarded(kind Kind)
	Suppressed(kind Kind)
	FrameSent(sink string, size int, err error)
}

type event struct {
	kind    Kind
	payload map[string]any
}

// Fanout deduplicates and batches messages for all sinks. Enqueue never
// blocks and never drops; a slow sink only makes the queue grow.
type Fanout struct {
	config  Config
	sinks   []Sink
	log     *zap.SugaredLogger
	metrics Metrics
	now     func() time.Time
	types   map[Kind]bool

	qmu    sync.Mutex
	queue  []event
	notify chan struct{}

	cacheMu sync.Mutex
	caches  map[Kind]gcache.Cache

	frame      []api.WebhookMessage
	frameFirst time.Time
	overSince  time.Time
}

// New creates a fan-out over sinks.
func New(config Config, sinks []Sink, logger *zap.SugaredLogger) *Fanout {
	def := DefaultConfig()
	if config.FrameInterval <= 0 {
		config.FrameInterval = def.FrameInterval
	}
	if config.LFUSize <= 0 {
		config.LFUSize = def.LFUSize
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.QueueThreshold <= 0 {
		config.QueueThreshold = def.QueueThreshold
	}
	f := &Fanout{
		config: config,
		sinks:  sinks,
		log:    logger,
		now:    time.Now,
		notify: make(chan struct{}, 1),
		caches: make(map[Kind]gcache.Cache),
	}
	if len(config.Types) > 0 {
		f.types = make(map[Kind]bool, len(config.Types))
		for _, k := range config.Types {
			f.types[k] = true
		}
	}
	return f
}

// SetMetrics wires a metrics receiver.
func (f *Fanout) SetMetrics(m Metrics) { f.metrics = m }

// SetClock replaces the time source. Used by tests.
func (f *Fanout) SetClock(now func() time.Time) { f.now = now }

// Enabled reports whether any sink is configured.
func (f *Fanout) Enabled() bool { return f != nil && len(f.sinks) > 0 }

// Wants reports whether messages of kind are forwarded at all.
func (f *Fanout) Wants(kind Kind) bool {
	if !f.Enabled() {
		return false
	}
	return f.types == nil || f.types[kind]
}

// Enqueue queues a message for the sinks.
func (f *Fanout) Enqueue(kind Kind, payload map[string]any) {
	if !f.Wants(kind) {
		return
	}
	f.qmu.Lock()
	f.queue = append(f.queue, event{kind: kind, payload: payload})
	f.qmu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued messages.
func (f *Fanout) Len() int {
	f.qmu.Lock()
	defer f.qmu.Unlock()
	return len(f.queue)
}

// Run processes the queue until ctx is canceled, then sends what is left.
func (f *Fanout) Run(ctx context.Context) {
	f.log.Infof("Webhook fan-out started: sinks=%d, frame_interval=%s", len(f.sinks), f.config.FrameInterval)

	timer := time.NewTimer(f.config.FrameInterval)
	defer timer.Stop()

	for {
		f.checkBackpressure()
		if ev, ok := f.pop(); ok {
			f.process(ev)
			f.maybeFlush(ctx)
			continue
		}
		f.maybeFlush(ctx)

		timer.Reset(f.config.FrameInterval)
		select {
		case <-ctx.Done():
			f.drain()
			f.log.Info("Webhook fan-out stopped")
			return
		case <-f.notify:
		case <-timer.C:
		}
	}
}

func (f *Fanout) pop() (event, bool) {
	f.qmu.Lock()
	defer f.qmu.Unlock()
	if len(f.queue) == 0 {
		return event{}, false
	}
	ev := f.queue[0]
	f.queue[0] = event{}
	f.queue = f.queue[1:]
	return ev, true
}

// process dedups ev and adds it to the current frame.
func (f *Fanout) process(ev event) {
	if !f.accept(ev.kind, ev.payload) {
		if f.metrics != nil {
			f.metrics.Suppressed(ev.kind)
		}
		return
	}
	if f.metrics != nil {
		f.metrics.Forwarded(ev.kind)
	}
	if len(f.frame) == 0 {
		f.frameFirst = f.now()
	}
	f.frame = append(f.frame, api.WebhookMessage{Type: string(ev.kind), Message: ev.payload})
}

// accept reports whether payload is new or changed, and remembers it.
func (f *Fanout) accept(kind Kind, payload map[string]any) bool {
	id, ok := identifier(kind, payload)
	if !ok {
		return true
	}

	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	cache, ok := f.caches[kind]
	if !ok {
		cache = newSeenCache(f.config.LFUSize)
		f.caches[kind] = cache
	}
	old, seen := lastSeen(cache, id)
	cache.Set(id, payload) //nolint:errcheck // only fails with a loader
	return !seen || keyFieldsChanged(kind, old, payload)
}

func (f *Fanout) maybeFlush(ctx context.Context) {
	if len(f.frame) == 0 || f.now().Sub(f.frameFirst) < f.config.FrameInterval {
		return
	}
	f.flush(ctx)
}

// drain sends everything still queued once the fan-out is stopping.
func (f *Fanout) drain() {
	ctx := context.Background()
	for {
		ev, ok := f.pop()
		if !ok {
			break
		}
		f.process(ev)
	}
	if len(f.frame) > 0 {
		f.flush(ctx)
	}
}

// flush sends the frame to every sink in parallel and starts a new frame.
func (f *Fanout) flush(ctx context.Context) {
	frame := f.frame
	f.frame = nil

	var wg sync.WaitGroup
	for _, s := range f.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.config.Timeout)
			defer cancel()
			err := s.Send(sendCtx, frame)
			if err != nil {
				f.log.Debugf("Webhook %s: failed to send %d messages: %v", s.Name(), len(frame), err)
			}
			if f.metrics != nil {
				f.metrics.FrameSent(s.Name(), len(frame), err)
			}
		}(s)
	}
	wg.Wait()
}

// checkBackpressure warns when the queue stays above the threshold for
// longer than 5*100/threshold seconds.
func (f *Fanout) checkBackpressure() {
	n := f.Len()
	if n <= f.config.QueueThreshold {
		f.overSince = time.Time{}
		return
	}
	now := f.now()
	if f.overSince.IsZero() {
		f.overSince = now
		return
	}
	lifetime := time.Duration(float64(5*time.Second) * 100 / float64(f.config.QueueThreshold))
	if now.Sub(f.overSince) > lifetime {
		f.log.Warnf("Webhook queue is > %d (@%d); try increasing wh_timeout or lowering wh_frame_interval", f.config.QueueThreshold, n)
		f.overSince = now
	}
}
