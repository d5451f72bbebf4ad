package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wisbric/apitracker/internal/kv"
)

// Deps bundles the mounted domain handlers. Built by internal/app and
// passed to NewServer; fields are kept separate from ServerConfig so each
// handler can be nil during partial wiring (tests, future endpoints).
type Deps struct {
	Register    http.HandlerFunc
	SubmitLog   http.Handler
	UsageDaily  http.Handler
	UsageTop    http.Handler
	UsageStream http.HandlerFunc
}

// ServerConfig holds the settings NewServer needs beyond its dependencies.
type ServerConfig struct {
	CORSAllowedOrigins []string
}

// Server holds the HTTP server dependencies.
type Server struct {
	Router    *chi.Mux
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	KV        *kv.Gateway
	Metrics   *prometheus.Registry
	startedAt time.Time
}

// NewServer assembles the chi router: global middleware, health/readiness/
// metrics endpoints, and the mounted domain handlers in deps. Auth and rate
// limiting are applied by the caller as middleware already present on the
// handlers in deps (see internal/app.Run).
func NewServer(cfg ServerConfig, logger *slog.Logger, db *pgxpool.Pool, gateway *kv.Gateway, metricsReg *prometheus.Registry, deps Deps) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		KV:        gateway,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/api/health", s.handleHealth)
	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/api", func(r chi.Router) {
		if deps.Register != nil {
			r.Post("/register", deps.Register)
		}
		if deps.SubmitLog != nil {
			r.Method(http.MethodPost, "/logs", deps.SubmitLog)
		}
		if deps.UsageDaily != nil {
			r.Method(http.MethodGet, "/usage/daily", deps.UsageDaily)
		}
		if deps.UsageTop != nil {
			r.Method(http.MethodGet, "/usage/top", deps.UsageTop)
		}
		if deps.UsageStream != nil {
			r.Get("/usage/stream", deps.UsageStream)
		}
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// healthResponse carries the resilience-layer degraded flag in addition
// to the plain status string, so operators see circuit-breaker state
// without scraping /metrics.
type healthResponse struct {
	Status   string `json:"status"`
	Degraded bool   `json:"degraded"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	degraded := s.KV.Degraded()
	status := "ok"
	if degraded {
		status = "degraded"
	}
	Respond(w, http.StatusOK, healthResponse{Status: status, Degraded: degraded})
}

// handleHealthz is a trivial liveness probe: no dependency checks, just
// confirmation the process is serving requests.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database not ready")
		return
	}

	if err := s.KV.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: kv gateway ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "kv gateway not ready")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
