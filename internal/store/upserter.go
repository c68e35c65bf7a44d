package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// QueueWarning is the backlog above which the upserter warns on every write.
const QueueWarning = 50

// Writer persists a batch of observations.
type Writer interface {
	WriteBatch(ctx context.Context, b Batch) error
}

// Upserter is the single consumer of the persistence queue. Enqueue never
// blocks.
type Upserter struct {
	writer     Writer
	log        *zap.SugaredLogger
	errorPause time.Duration

	mu     sync.Mutex
	queue  []Batch
	notify chan struct{}
}

// NewUpserter creates an upserter writing through w.
func NewUpserter(w Writer, logger *zap.SugaredLogger) *Upserter {
	return &Upserter{
		writer:     w,
		log:        logger,
		errorPause: 5 * time.Second,
		notify:     make(chan struct{}, 1),
	}
}

// Enqueue adds a batch to the queue. Empty batches are ignored.
func (u *Upserter) Enqueue(b Batch) {
	if b.Len() == 0 {
		return
	}
	u.mu.Lock()
	u.queue = append(u.queue, b)
	u.mu.Unlock()

	select {
	case u.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of batches waiting to be written.
func (u *Upserter) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.queue)
}

func (u *Upserter) pop() (Batch, int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.queue) == 0 {
		return Batch{}, 0, false
	}
	b := u.queue[0]
	u.queue[0] = Batch{}
	u.queue = u.queue[1:]
	return b, len(u.queue), true
}

// Run writes queued batches until the context is canceled, then flushes
// what is left.
func (u *Upserter) Run(ctx context.Context) {
	u.log.Info("Upserter started")

	for {
		select {
		case <-ctx.Done():
			u.flush(ctx)
			u.log.Info("Upserter stopped")
			return
		default:
		}

		b, remaining, ok := u.pop()
		if !ok {
			select {
			case <-ctx.Done():
			case <-u.notify:
			}
			continue
		}

		if err := u.write(ctx, b, remaining); err != nil {
			u.log.Errorf("Upserter error: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(u.errorPause):
			}
		}
	}
}

func (u *Upserter) write(ctx context.Context, b Batch, remaining int) error {
	start := time.Now()
	if err := u.writer.WriteBatch(ctx, b); err != nil {
		return err
	}
	u.log.Debugf("Upserted %d records (upsert queue remaining: %d) in %s", b.Len(), remaining, time.Since(start))
	if remaining > QueueWarning {
		u.log.Warnf("DB queue is > %d (@%d); the database is not keeping up", QueueWarning, remaining)
	}
	return nil
}

// flush writes the remaining batches with a short grace period.
func (u *Upserter) flush(ctx context.Context) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for {
		b, remaining, ok := u.pop()
		if !ok {
			return
		}
		if err := u.write(fctx, b, remaining); err != nil {
			u.log.Errorf("Upserter dropped %d batches on shutdown: %v", remaining+1, err)
			return
		}
	}
}
