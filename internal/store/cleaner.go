package store

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Janitor removes stale rows.
type Janitor interface {
	Clean(ctx context.Context, purgeAfter time.Duration) (Cleanup, error)
}

// Cleaner periodically cleans the database.
type Cleaner struct {
	DB         Janitor
	Interval   time.Duration
	PurgeAfter time.Duration
	Log        *zap.SugaredLogger
	// Runs, if set, counts cleaning cycles.
	Runs prometheus.Counter
}

// Run starts the cleaner loop. It blocks until the context is canceled.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	c.Log.Infof("Cleaner started: interval=%s, purge_after=%s", c.Interval, c.PurgeAfter)

	for {
		select {
		case <-ctx.Done():
			c.Log.Info("Cleaner stopped")
			return
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

func (c *Cleaner) runOnce(ctx context.Context) {
	if c.Runs != nil {
		c.Runs.Inc()
	}
	start := time.Now()
	res, err := c.DB.Clean(ctx, c.PurgeAfter)
	if err != nil {
		c.Log.Errorf("Cleaner error: %v", err)
		return
	}
	if res.Spawns > 0 {
		c.Log.Infof("Purged %d old spawns", res.Spawns)
	}
	c.Log.Infow("Regular database cleaning complete",
		"worker_status", res.WorkerStatus,
		"lures", res.Lures,
		"tokens", res.Tokens,
		"took", time.Since(start))
}
