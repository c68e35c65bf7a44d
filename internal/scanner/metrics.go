package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all scanner Prometheus metrics.
type Metrics struct {
	// Phase durations
	ScanDuration  *prometheus.HistogramVec
	LoginDuration *prometheus.HistogramVec

	// Distribution metrics
	ObservationsPerScan prometheus.Histogram

	// Counters
	Scans           *prometheus.CounterVec
	Observations    *prometheus.CounterVec
	TaskRetries     prometheus.Counter
	Encounters      prometheus.Counter
	ArenaDetails    prometheus.Counter
	AccountsRested  *prometheus.CounterVec
	CaptchaDecision *prometheus.CounterVec
}

// NewMetrics creates and registers scanner metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_scan_duration_seconds",
			Help:    "Time spent on one scan task, login included.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"result", "login"}), // result: Result values; login: "yes", "no"

		LoginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_login_duration_seconds",
			Help:    "Time spent logging in, including the warm-up sequence.",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 15, 30, 60, 120},
		}, []string{"result"}), // result: "success", "error"

		ObservationsPerScan: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_observations_per_scan",
			Help:    "Distribution of entities seen per scan.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),

		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_scans_total",
			Help: "Total number of scan tasks by result.",
		}, []string{"result"}),

		Observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_observations_total",
			Help: "Total number of new observations forwarded, by kind.",
		}, []string{"kind"}), // kind: "spawn", "stop", "arena", "raid"

		TaskRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_task_retries_total",
			Help: "Total number of scan task retries.",
		}),

		Encounters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_encounters_total",
			Help: "Total number of successful encounter calls.",
		}),

		ArenaDetails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_arena_details_total",
			Help: "Total number of arena detail refreshes.",
		}),

		AccountsRested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_accounts_rested_total",
			Help: "Total number of times an account was taken out of rotation.",
		}, []string{"reason"}), // reason: "login", "failures", "banned", "captcha"

		CaptchaDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_captcha_decisions_total",
			Help: "Total number of captcha decisions taken by workers.",
		}, []string{"decision"}), // decision: "solved", "hold", "cooldown"
	}

	registry.MustRegister(
		m.ScanDuration,
		m.LoginDuration,
		m.ObservationsPerScan,
		m.Scans,
		m.Observations,
		m.TaskRetries,
		m.Encounters,
		m.ArenaDetails,
		m.AccountsRested,
		m.CaptchaDecision,
	)

	return m
}

// BoolLabel returns "yes" or "no" for boolean labels.
func BoolLabel(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
