package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name      string
		allowed   []string
		origin    string
		wantAllow bool
	}{
		{"empty list allows any", nil, "https://forum.example.com", true},
		{"listed origin", []string{"https://forum.example.com"}, "https://forum.example.com", true},
		{"case-insensitive match", []string{"https://Forum.Example.com"}, "https://forum.example.com", true},
		{"wildcard", []string{"*"}, "https://other.example.com", true},
		{"unlisted origin", []string{"https://forum.example.com"}, "https://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.allowed)(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			got := rr.Header().Get("Access-Control-Allow-Origin")
			if tt.wantAllow && got != tt.origin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.origin)
			}
			if !tt.wantAllow && got != "" {
				t.Errorf("Allow-Origin = %q, want unset", got)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(nil)(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/api/lotteries", nil)
	req.Header.Set("Origin", "https://forum.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rr.Code)
	}
	if methods := rr.Header().Get("Access-Control-Allow-Methods"); methods != "GET, POST, PUT, OPTIONS" {
		t.Errorf("Allow-Methods = %q", methods)
	}
}

func TestLoggingCapturesStatus(t *testing.T) {
	h := Logging(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/lotteries/1", nil))

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		path   string
		header func(*http.Request)
		want   int
	}{
		{"disabled when no key", "", "/api/lotteries", nil, http.StatusOK},
		{"missing token", "s3cret", "/api/lotteries", nil, http.StatusUnauthorized},
		{"api key header", "s3cret", "/api/lotteries", func(r *http.Request) {
			r.Header.Set("X-API-Key", "s3cret")
		}, http.StatusOK},
		{"bearer token", "s3cret", "/api/lotteries", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer s3cret")
		}, http.StatusOK},
		{"wrong token", "s3cret", "/api/lotteries", func(r *http.Request) {
			r.Header.Set("X-API-Key", "nope")
		}, http.StatusUnauthorized},
		{"health always open", "s3cret", "/api/health", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Auth(tt.key)(okHandler())
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != nil {
				tt.header(req)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}
