package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/sembalun/guard/pkg/http"
)

// Pinger is satisfied by the database pool and the Redis client wrapper
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports liveness and dependency reachability
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler takes named dependencies to probe; nil entries are skipped
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	filtered := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			filtered[name] = p
		}
	}
	return &HealthHandler{checks: filtered}
}

// HealthResponse is the /health body
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health returns 200 when every dependency answers, 503 otherwise
// @Router /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for name, p := range h.checks {
		if err := p.HealthCheck(ctx); err != nil {
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	pkghttp.WriteJSON(w, status, resp)
}
