package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFixedWindowLimiter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl := NewFixedWindowLimiter(3, 15*time.Minute).WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !rl.Allow("client-a") {
			t.Fatalf("request %d rejected inside the budget", i+1)
		}
	}
	if rl.Allow("client-a") {
		t.Fatal("fourth request allowed inside the window")
	}
	if rl.Remaining("client-a") != 0 {
		t.Errorf("Remaining = %d, want 0", rl.Remaining("client-a"))
	}

	// Other keys have their own budget
	if !rl.Allow("client-b") {
		t.Fatal("unrelated key rejected")
	}

	// A fresh window restores the budget
	now = now.Add(15 * time.Minute)
	if !rl.Allow("client-a") {
		t.Fatal("request rejected after the window elapsed")
	}
	if rl.Remaining("client-a") != 2 {
		t.Errorf("Remaining = %d after window reset, want 2", rl.Remaining("client-a"))
	}
}

func TestFixedWindowLimiterReset(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl := NewFixedWindowLimiter(3, 15*time.Minute).WithClock(func() time.Time { return now })

	rl.Allow("client-a")
	want := now.Add(15 * time.Minute)
	if got := rl.Reset("client-a"); !got.Equal(want) {
		t.Errorf("Reset = %v, want %v", got, want)
	}
}

// Swapping the clock while the cleanup goroutine and callers are reading it
// must be safe. Run with -race.
func TestFixedWindowLimiterClockSwapConcurrent(t *testing.T) {
	rl := NewFixedWindowLimiter(3, 15*time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			rl.Allow("client-a")
			rl.Remaining("client-a")
		}
	}()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		rl.WithClock(func() time.Time { return base })
	}
	<-done
}

func rateLimitedHandler(limit int, period time.Duration) http.Handler {
	rl := NewAuthRateLimiter(limit, period)
	return rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestLimitMiddleware(t *testing.T) {
	handler := rateLimitedHandler(3, 15*time.Minute)

	do := func(addr, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		rec := do("198.51.100.1:4000", "/api/v1/auth/login")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "3" {
			t.Errorf("X-RateLimit-Limit = %q, want 3", rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	rec := do("198.51.100.1:4000", "/api/v1/auth/login")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over-budget status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}

	// Same address, different source port: still the same client
	rec = do("198.51.100.1:5999", "/api/v1/auth/login")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("different port escaped the limit, status = %d", rec.Code)
	}

	// Different endpoint has an independent budget
	rec = do("198.51.100.1:4000", "/api/v1/auth/signup")
	if rec.Code != http.StatusOK {
		t.Fatalf("separate endpoint shared the budget, status = %d", rec.Code)
	}

	// Different client is unaffected
	rec = do("203.0.113.9:4000", "/api/v1/auth/login")
	if rec.Code != http.StatusOK {
		t.Fatalf("other client was limited, status = %d", rec.Code)
	}
}
