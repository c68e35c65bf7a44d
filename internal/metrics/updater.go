package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/locplace/mapscan/internal/account"
)

// Queue is anything with a depth.
type Queue interface {
	Len() int
}

// IdentityCounter reports how many identities are in each state.
type IdentityCounter interface {
	Counts() map[account.State]int
}

// Pauser reports whether scanning is paused.
type Pauser interface {
	Paused() bool
}

// UpdaterConfig holds configuration for the metrics updater.
type UpdaterConfig struct {
	Interval time.Duration
}

// Sources are what the updater samples. Any of them may be nil.
type Sources struct {
	DB         *pgxpool.Pool
	Scan       Queue
	Store      Queue
	Webhooks   Queue
	Captcha    Queue
	Identities IdentityCounter
	Scheduler  Pauser
}

// Updater periodically updates gauge metrics.
type Updater struct {
	src    Sources
	config UpdaterConfig
	log    *zap.SugaredLogger
}

// NewUpdater creates a new metrics updater.
func NewUpdater(src Sources, config UpdaterConfig, logger *zap.SugaredLogger) *Updater {
	if config.Interval <= 0 {
		config.Interval = 15 * time.Second
	}
	return &Updater{src: src, config: config, log: logger}
}

// Run starts the updater loop. It blocks until the context is canceled.
func (u *Updater) Run(ctx context.Context) {
	u.log.Infof("Metrics updater started: interval=%s", u.config.Interval)

	// Update immediately on start
	u.update()

	ticker := time.NewTicker(u.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.log.Info("Metrics updater stopped")
			return
		case <-ticker.C:
			u.update()
		}
	}
}

func (u *Updater) update() {
	setQueue("scan", u.src.Scan)
	setQueue("db", u.src.Store)
	setQueue("webhook", u.src.Webhooks)

	if u.src.Captcha != nil {
		CaptchaHeld.Set(float64(u.src.Captcha.Len()))
	}

	if u.src.Identities != nil {
		counts := u.src.Identities.Counts()
		for _, s := range []account.State{
			account.StateIdle, account.StateInUse, account.StateCaptcha,
			account.StateBanned, account.StateCooldown,
		} {
			Identities.WithLabelValues(s.String()).Set(float64(counts[s]))
		}
	}

	if u.src.Scheduler != nil {
		paused := 0.0
		if u.src.Scheduler.Paused() {
			paused = 1
		}
		ScanningPaused.Set(paused)
	}

	// Update pool stats
	if u.src.DB != nil {
		poolStats := u.src.DB.Stat()
		DBPoolTotalConns.Set(float64(poolStats.TotalConns()))
		DBPoolAcquiredConns.Set(float64(poolStats.AcquiredConns()))
		DBPoolIdleConns.Set(float64(poolStats.IdleConns()))
		DBPoolMaxConns.Set(float64(poolStats.MaxConns()))
	}
}

func setQueue(name string, q Queue) {
	if q == nil {
		return
	}
	QueueDepth.WithLabelValues(name).Set(float64(q.Len()))
}
