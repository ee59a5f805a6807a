package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_AllowsBurstThenRejects(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("192.168.1.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow("192.168.1.1") {
		t.Error("4th request should be rejected")
	}
	if !limiter.Allow("192.168.1.2") {
		t.Error("other IPs have their own bucket")
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("10.0.0.1")
	limiter.Allow("10.0.0.1")
	if limiter.Allow("10.0.0.1") {
		t.Fatal("bucket should be empty")
	}

	now = now.Add(30 * time.Second)
	if !limiter.Allow("10.0.0.1") {
		t.Error("one token should have refilled after half a window")
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	limiter := NewRateLimiter(10, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		limiter.Allow(fmt.Sprintf("172.16.0.%d", i))
	}
	if limiter.Size() != 50 {
		t.Fatalf("Expected 50 entries, got %d", limiter.Size())
	}

	now = now.Add(2 * time.Minute)
	limiter.Allow("10.0.0.1")
	limiter.Cleanup()

	if limiter.Size() != 1 {
		t.Errorf("Expected only the active entry after cleanup, got %d", limiter.Size())
	}
}

func TestRateLimiter_SizeBoundedWithoutExplicitCleanup(t *testing.T) {
	limiter := NewRateLimiter(10, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 300; i++ {
		limiter.Allow(fmt.Sprintf("10.1.%d.%d", i/256, i%256))
	}
	now = now.Add(2 * time.Minute)
	limiter.Allow("10.0.0.1")

	if limiter.Size() > 50 {
		t.Errorf("Map size (%d) suggests idle entries are never dropped", limiter.Size())
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req.RemoteAddr = "192.168.1.10:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("Expected [200 429], got %v", codes)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "10.0.0.5:1234"
	if ip := GetClientIP(req); ip != "10.0.0.5" {
		t.Errorf("Expected RemoteAddr host, got %s", ip)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if ip := GetClientIP(req); ip != "10.0.0.5" {
		t.Errorf("Forwarded header must not override RemoteAddr, got %s", ip)
	}
}

func TestRateLimiter_MiddlewareIgnoresRotatingForwardedFor(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req.RemoteAddr = "198.51.100.20:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, codes)
		}
	}
	if limiter.Size() != 1 {
		t.Errorf("Expected one bucket for one peer, got %d", limiter.Size())
	}
}
