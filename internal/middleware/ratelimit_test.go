package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimitPerUser(t *testing.T) {
	instance, err := NewLimiter("2-M")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	handler := RateLimit(instance)(http.HandlerFunc(okHandler))

	for i := 0; i < 2; i++ {
		if rr := serveAs(handler, "alice"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := serveAs(handler, "alice")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected remaining header: %q", rr.Header().Get("X-RateLimit-Remaining"))
	}
	if rr := serveAs(handler, "bob"); rr.Code != http.StatusOK {
		t.Fatalf("other users are not throttled, got %d", rr.Code)
	}
}

func TestRateLimitFallsBackToIP(t *testing.T) {
	instance, err := NewLimiter("1-H")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	handler := RateLimit(instance)(http.HandlerFunc(okHandler))

	send := func(addr string) int {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send("10.0.0.1:5000"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := send("10.0.0.1:5001"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for same host, got %d", code)
	}
	if code := send("10.0.0.2:5000"); code != http.StatusOK {
		t.Fatalf("expected 200 for another host, got %d", code)
	}
}

func TestNewLimiterRejectsBadFormat(t *testing.T) {
	if _, err := NewLimiter("lots"); err == nil {
		t.Fatalf("expected error")
	}
}
