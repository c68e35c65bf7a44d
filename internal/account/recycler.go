package account

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Recycler periodically returns rested identities to the pool.
type Recycler struct {
	Pool     *Pool
	Interval time.Duration
	Log      *zap.SugaredLogger
}

// Run starts the recycler loop. It blocks until the context is canceled.
func (r *Recycler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	r.Log.Infof("Account recycler started: interval=%s", r.Interval)

	for {
		select {
		case <-ctx.Done():
			r.Log.Info("Account recycler stopped")
			return
		case <-ticker.C:
			recycled, resting := r.Pool.Recycle()
			if recycled > 0 {
				r.Log.Infof("Account recycler returned %d accounts to the pool", recycled)
			}
			if resting > 0 {
				r.Log.Infof("%d accounts still resting", resting)
			}
		}
	}
}
