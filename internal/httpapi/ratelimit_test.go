package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenLimiterBurst(t *testing.T) {
	l := newTokenLimiter(60, 3)

	for i := 0; i < 3; i++ {
		if !l.allow("1.2.3.4") {
			t.Fatalf("request %d within burst denied", i+1)
		}
	}
	if l.allow("1.2.3.4") {
		t.Fatal("request past burst allowed")
	}
	if !l.allow("5.6.7.8") {
		t.Fatal("separate key throttled by another key's burst")
	}
}

func TestTokenLimiterRefills(t *testing.T) {
	l := newTokenLimiter(600, 1)

	if !l.allow("1.2.3.4") {
		t.Fatal("first request denied")
	}
	if l.allow("1.2.3.4") {
		t.Fatal("second immediate request allowed")
	}
	l.bucket["1.2.3.4"].last = time.Now().Add(-time.Second)
	if !l.allow("1.2.3.4") {
		t.Fatal("bucket did not refill")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 60, IPBurst: 1})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "1.2.3.4:5000"

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("first request status %d, want 200", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status %d, want 429", resp.Code)
	}
}

func TestClientIPPrefersForwardedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := clientIP(req); got != "203.0.113.9" {
		t.Fatalf("clientIP = %q, want 203.0.113.9", got)
	}

	req.Header.Del("X-Forwarded-For")
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("clientIP = %q, want 10.0.0.1", got)
	}
}
