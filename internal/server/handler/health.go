package handler

import (
	"net/http"
	"time"
)

// HealthHandler reports liveness plus which run mode this process carries,
// so a probe against a split serve/worker deployment can tell the two apart.
type HealthHandler struct {
	mode      string
	startedAt time.Time
}

func NewHealthHandler(mode string, startedAt time.Time) *HealthHandler {
	return &HealthHandler{mode: mode, startedAt: startedAt}
}

// HealthCheck handles GET /api/health. Always open, no auth.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
