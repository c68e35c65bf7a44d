// Package server provides the operator HTTP surface: health, metrics,
// scan control and manual captcha tokens.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/internal/metrics"
	"github.com/locplace/mapscan/internal/scheduler"
	"github.com/locplace/mapscan/pkg/api"
)

// Control is the scheduler surface operators drive.
type Control interface {
	Pause()
	Resume()
	SetLocation(c geo.Coordinate)
	Status() scheduler.Status
}

// TokenStore accepts manually solved captcha tokens.
type TokenStore interface {
	InsertToken(ctx context.Context, token string) error
}

// Identities reports identity states.
type Identities interface {
	Counts() map[account.State]int
}

// Workers reports worker status.
type Workers interface {
	Workers() []api.WorkerInfo
}

// Queue is anything with a depth.
type Queue interface {
	Len() int
}

// Config holds server configuration.
type Config struct {
	AdminAPIKey string
	// Gatherer serves /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

// Deps are the components the handlers act on. Tokens, Identities, Workers
// and Captcha may be nil.
type Deps struct {
	Control    Control
	Tokens     TokenStore
	Identities Identities
	Workers    Workers
	Captcha    Queue
	Log        *zap.SugaredLogger
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config, deps Deps) http.Handler {
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(metrics.Middleware)

	h := &handlers{deps: deps}

	// Operator routes (authenticated with API key)
	r.Group(func(r chi.Router) {
		r.Use(AdminAuth(cfg.AdminAPIKey))
		r.Route("/control", func(r chi.Router) {
			r.Post("/pause", h.pause)
			r.Post("/resume", h.resume)
			r.Post("/location", h.setLocation)
			r.Get("/status", h.status)
		})
		r.Post("/captcha/tokens", h.addToken)
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok")) // Error is client disconnect, can't recover
	})

	return r
}
