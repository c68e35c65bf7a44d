// Package metrics provides the process-wide Prometheus metrics.
//
// # Metric Types
//
// ## Gauges (State)
//
// These reflect queue depths, identity states and database pool usage,
// refreshed periodically by the Updater (default: every 15 seconds).
//
// ## Counters (Events)
//
// These increment as webhook messages and frames flow and as HTTP requests
// are served. Use rate(counter[5m]) for throughput.
//
// Scan-level metrics live with the workers in the scanner package.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/locplace/mapscan/internal/webhook"
)

// Build information, set at compile time.
var (
	Version = "dev"
	Commit  = "unknown"
)

// ========================================
// GAUGES - State (periodic snapshot)
// ========================================

var (
	// QueueDepth is the number of items waiting in each internal queue.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mapscan_queue_depth",
		Help: "Number of items waiting in an internal queue (gauge).",
	}, []string{"queue"}) // queue: "scan", "db", "webhook"

	// Identities is the number of identities in each state.
	Identities = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mapscan_identities",
		Help: "Number of identities by state (gauge).",
	}, []string{"state"})

	// CaptchaHeld is the number of identities waiting for a captcha token.
	CaptchaHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapscan_captcha_held",
		Help: "Number of identities parked until their challenge is verified (gauge).",
	})

	// ScanningPaused is 1 while scanning is paused.
	ScanningPaused = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapscan_scanning_paused",
		Help: "1 while scanning is paused, 0 otherwise.",
	})
)

// Database pool metrics.
var (
	DBPoolTotalConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapscan_db_pool_total_conns",
		Help: "Total number of connections in the database pool.",
	})

	DBPoolAcquiredConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapscan_db_pool_acquired_conns",
		Help: "Number of currently acquired database connections.",
	})

	DBPoolIdleConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapscan_db_pool_idle_conns",
		Help: "Number of idle database connections in the pool.",
	})

	DBPoolMaxConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapscan_db_pool_max_conns",
		Help: "Maximum number of connections allowed in the pool.",
	})
)

// ========================================
// COUNTERS - Events (real-time)
// ========================================

var (
	// WebhookForwardedTotal counts messages that passed deduplication.
	WebhookForwardedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapscan_webhook_forwarded_total",
		Help: "Total number of webhook messages queued for delivery, by kind (counter).",
	}, []string{"kind"})

	// WebhookSuppressedTotal counts messages dropped as duplicates.
	WebhookSuppressedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapscan_webhook_suppressed_total",
		Help: "Total number of webhook messages dropped as duplicates, by kind (counter).",
	}, []string{"kind"})

	// WebhookFramesTotal counts frames sent to each sink.
	WebhookFramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapscan_webhook_frames_total",
		Help: "Total number of webhook frames sent, by sink and result (counter).",
	}, []string{"sink", "result"}) // result: "ok", "error"

	// WebhookFrameSize tracks messages per frame.
	WebhookFrameSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapscan_webhook_frame_size",
		Help:    "Number of messages per webhook frame.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
	})

	// CleanerRunsTotal counts cleaner execution cycles.
	CleanerRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapscan_cleaner_runs_total",
		Help: "Total number of database cleaner cycles (counter).",
	})
)

// ========================================
// HTTP Metrics
// ========================================

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapscan_http_requests_total",
		Help: "Total number of HTTP requests by method, path, and status code.",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapscan_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "path"})

	// HTTPRequestsInFlight tracks concurrent request count.
	HTTPRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapscan_http_requests_in_flight",
		Help: "Number of HTTP requests currently being processed.",
	})
)

// ========================================
// Build Info
// ========================================

var (
	// BuildInfo exports build information as a metric.
	BuildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mapscan_build_info",
		Help: "Build information with version and commit labels. Value is always 1.",
	}, []string{"version", "commit"})
)

// Register registers all metrics with registry.
func Register(registry prometheus.Registerer) {
	// Gauges
	registry.MustRegister(QueueDepth)
	registry.MustRegister(Identities)
	registry.MustRegister(CaptchaHeld)
	registry.MustRegister(ScanningPaused)

	// DB pool
	registry.MustRegister(DBPoolTotalConns)
	registry.MustRegister(DBPoolAcquiredConns)
	registry.MustRegister(DBPoolIdleConns)
	registry.MustRegister(DBPoolMaxConns)

	// Counters
	registry.MustRegister(WebhookForwardedTotal)
	registry.MustRegister(WebhookSuppressedTotal)
	registry.MustRegister(WebhookFramesTotal)
	registry.MustRegister(WebhookFrameSize)
	registry.MustRegister(CleanerRunsTotal)

	// HTTP
	registry.MustRegister(HTTPRequestsTotal)
	registry.MustRegister(HTTPRequestDuration)
	registry.MustRegister(HTTPRequestsInFlight)

	// Build info
	registry.MustRegister(BuildInfo)
	BuildInfo.WithLabelValues(Version, Commit).Set(1)
}

// Webhooks feeds the webhook fan-out counters. It implements
// webhook.Metrics.
type Webhooks struct{}

var _ webhook.Metrics = Webhooks{}

// Forwarded counts a message queued for delivery.
func (Webhooks) Forwarded(kind webhook.Kind) {
	WebhookForwardedTotal.WithLabelValues(string(kind)).Inc()
}

// Suppressed counts a duplicate.
func (Webhooks) Suppressed(kind webhook.Kind) {
	WebhookSuppressedTotal.WithLabelValues(string(kind)).Inc()
}

// FrameSent counts a frame delivery attempt.
func (Webhooks) FrameSent(sink string, size int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	WebhookFramesTotal.WithLabelValues(sink, result).Inc()
	WebhookFrameSize.Observe(float64(size))
}

// StatusLabel returns the label value for an HTTP status code.
func StatusLabel(code int) string {
	if code == 0 {
		code = 200
	}
	return strconv.Itoa(code)
}
