package api

import (
	"log/slog"
	"net/http"

	"github.com/wheelhouse/rentpay/internal/health"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	checkers []health.Checker
}

// NewHealthHandlers creates health endpoint handlers. checkers may be empty
// for deployments with no external dependencies.
func NewHealthHandlers(checkers ...health.Checker) *HealthHandlers {
	return &HealthHandlers{checkers: checkers}
}

// Health handles GET /health. Liveness only: the process is up.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready. Every registered dependency must answer.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	healthy := true

	for _, c := range h.checkers {
		if err := c.Check(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "readiness check failed", "check", c.Name(), "error", err)
			checks[c.Name()] = "unavailable"
			healthy = false
			continue
		}
		checks[c.Name()] = "ok"
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, r, status, map[string]any{"status": overall, "checks": checks})
}
