package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/STRATINT/connectors/internal/auth"
	"github.com/STRATINT/connectors/internal/metrics"
	"log/slog"
)

// HealthChecker reports whether the service's dependencies are reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RouterConfig wires the connectors API.
type RouterConfig struct {
	Lifecycle Lifecycle
	Auth      auth.Config
	Metrics   *metrics.Collector
	Health    HealthChecker
	Logger    *slog.Logger
}

// NewRouter builds the connectors API: unauthenticated health and metrics
// endpoints, and the connector routes behind bearer authentication.
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	r.Use(cfg.Metrics.InstrumentHandler)

	r.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler(cfg.Health, cfg.Logger)).Methods(http.MethodGet)

	authenticated := r.NewRoute().Subrouter()
	authenticated.Use(auth.Middleware(cfg.Auth, cfg.Logger))
	NewHandler(cfg.Lifecycle, cfg.Logger).AddHandlers(authenticated)

	return r
}

func healthHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.HealthCheck(ctx); err != nil {
			logger.Warn("health check failed", "error", err)
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
