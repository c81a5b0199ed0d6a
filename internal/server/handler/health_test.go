package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler("full", time.Now().Add(-90*time.Second))
	rr := httptest.NewRecorder()
	h.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if body["mode"] != "full" {
		t.Errorf("mode = %v, want full", body["mode"])
	}
	if up, ok := body["uptime_seconds"].(float64); !ok || up < 90 {
		t.Errorf("uptime_seconds = %v, want >= 90", body["uptime_seconds"])
	}
}
