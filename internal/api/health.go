package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db      Pinger
	sandbox Pinger
	timeout time.Duration
}

// NewHealthHandler creates a health handler. sandbox may be nil.
func NewHealthHandler(db, sandbox Pinger, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{db: db, sandbox: sandbox, timeout: timeout}
}

// Check pings every dependency and returns the per-check results.
func (h *HealthHandler) Check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	healthy := true
	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "check", "database", "error", err)
		checks["database"] = "unreachable"
		healthy = false
	} else {
		checks["database"] = "ok"
	}
	if h.sandbox != nil {
		if err := h.sandbox.Ping(ctx); err != nil {
			slog.Warn("Health check degraded", "check", "sandbox", "error", err)
			checks["sandbox"] = "unreachable"
		} else {
			checks["sandbox"] = "ok"
		}
	}
	return checks, healthy
}

// Health returns the health status of the API and its dependencies. Only the
// database decides the status code; a lost sandbox host degrades the report.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	checks, healthy := h.Check(r.Context())
	status := "healthy"
	code := http.StatusOK
	switch {
	case !healthy:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case checks["sandbox"] == "unreachable":
		status = "degraded"
	}
	JSON(w, code, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
