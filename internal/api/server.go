// Package api exposes the sync trigger and single-connection sync endpoints.
package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ServerOption configures the HTTP router.
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares   []func(http.Handler) http.Handler
	triggerToken  string
	metrics       http.Handler
	readiness     Pinger
	requestLogger bool
}

// WithMiddlewares adds middleware applied to every route.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithTriggerToken requires "Authorization: Bearer <token>" on the sync routes.
// An empty token leaves them open.
func WithTriggerToken(token string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.triggerToken = token
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metrics = h
	}
}

// WithReadiness makes /readyz ping p.
func WithReadiness(p Pinger) ServerOption {
	return func(cfg *serverConfig) {
		cfg.readiness = p
	}
}

// WithRequestLogging logs every request at debug level.
func WithRequestLogging() ServerOption {
	return func(cfg *serverConfig) {
		cfg.requestLogger = true
	}
}

func NewServer(runner SyncRunner, logger *slog.Logger, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if cfg.requestLogger {
		r.Use(LoggingMiddleware(logger))
	}
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	h := &handlers{runner: runner, readiness: cfg.readiness, logger: logger}

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(bearerAuth(cfg.triggerToken))
		r.Post("/syncs/run", h.runSyncs)
		r.Post("/connections/{connectionID}/sync", h.syncConnection)
	})

	return r
}

// LoggingMiddleware logs method, path, status and latency of each request.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				WriteError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
