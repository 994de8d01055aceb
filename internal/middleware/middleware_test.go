package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/R3E-Network/tokenization_layer/internal/logging"
)

func TestRateLimiter_PerUser(t *testing.T) {
	rl := NewRateLimiter(1, 2, logging.NewNop())
	handler := rl.Handler(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/v1/actions", nil)
		req = req.WithContext(logging.WithUserID(req.Context(), "user-1"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("first requests = %v, want within burst", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want %d", codes[2], http.StatusTooManyRequests)
	}

	req := httptest.NewRequest("GET", "/v1/actions", nil)
	req = req.WithContext(logging.WithUserID(req.Context(), "user-2"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other user = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, logging.NewNop())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rl.now = func() time.Time { return base }
	rl.getLimiter("idle")
	rl.now = func() time.Time { return base.Add(time.Hour) }
	rl.getLimiter("active")

	if removed := rl.Cleanup(10 * time.Minute); removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if _, ok := rl.limiters["active"]; !ok {
		t.Error("active limiter was removed")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	if got := clientIP(req); got != "10.1.2.3" {
		t.Errorf("clientIP() = %q, want 10.1.2.3", got)
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.example.com", ".example.org"}).Handler(okHandler())

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://app.example.com", true},
		{"https://issuer.example.org", true},
		{"https://evil-example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/v1/actions", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		got := rec.Header().Get("Access-Control-Allow-Origin") != ""
		if got != tt.allowed {
			t.Errorf("origin %q allowed = %v, want %v", tt.origin, got, tt.allowed)
		}
	}

	req := httptest.NewRequest(http.MethodOptions, "/v1/verifications/pincode", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodDelete) {
		t.Errorf("allow methods = %q, want DELETE", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "X-Action-ID") {
		t.Errorf("expose headers = %q, want X-Action-ID", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/v1/actions", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("plain OPTIONS = %d, want it passed through", rec.Code)
	}
}

func TestTracingMiddleware(t *testing.T) {
	var traceID string
	handler := NewTracingMiddleware(logging.NewNop()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = logging.GetTraceID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest("GET", "/v1/actions", nil)
	req.Header.Set("X-Trace-ID", "trace-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if traceID != "trace-abc" {
		t.Errorf("trace ID = %q, want trace-abc", traceID)
	}
	if rec.Header().Get("X-Trace-ID") != "trace-abc" {
		t.Error("trace ID not echoed")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/actions", nil))
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Error("trace ID not generated")
	}

	for _, bad := range []string{"trace\nforged=1", strings.Repeat("a", maxTraceIDLen+1)} {
		req := httptest.NewRequest("GET", "/v1/actions", nil)
		req.Header.Set("X-Trace-ID", bad)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Trace-ID"); got == bad || got == "" {
			t.Errorf("trace ID %q should be replaced, got %q", bad, got)
		}
	}
}

func TestResponseWriter_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	var _ http.Flusher = rw
	var _ http.Hijacker = rw

	rw.Flush()
	if !rec.Flushed {
		t.Error("Flush not passed through")
	}

	if _, _, err := rw.Hijack(); err == nil {
		t.Error("Hijack on recorder should fail")
	}
}

func TestMetricsMiddleware(t *testing.T) {
	handler := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusTeapot)
	}
}
