package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ilaygozlan/crypto-advisor-api/internal/auth"
	"github.com/ilaygozlan/crypto-advisor-api/internal/metrics"
)

// FixedWindowLimiter is an in-memory fixed-window rate limiter. Each key gets
// a counter that resets when its window elapses. It protects the password
// hasher from being driven as a DoS amplifier, so it runs before any
// credential work happens.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

// NewFixedWindowLimiter creates a limiter allowing limit requests per key per
// period
func NewFixedWindowLimiter(limit int, period time.Duration) *FixedWindowLimiter {
	rl := &FixedWindowLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}

	go rl.cleanup()

	return rl
}

// WithClock overrides the limiter clock. Test hook; the cleanup goroutine
// reads the clock under the same lock, so the swap must hold it too.
func (rl *FixedWindowLimiter) WithClock(now func() time.Time) *FixedWindowLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.now = now
	return rl
}

// Allow reports whether a request is allowed for the given key and consumes
// one slot if so
func (rl *FixedWindowLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.period {
		rl.windows[key] = &window{start: now, count: 1}
		return true
	}

	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Remaining returns the number of remaining requests for a key in the current
// window
func (rl *FixedWindowLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || rl.now().Sub(w.start) >= rl.period {
		return rl.limit
	}
	remaining := rl.limit - w.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset returns the time at which the key's current window ends
func (rl *FixedWindowLimiter) Reset(key string) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok {
		return rl.now()
	}
	return w.start.Add(rl.period)
}

// cleanup periodically drops windows that have lapsed
func (rl *FixedWindowLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := rl.now()
		for key, w := range rl.windows {
			if now.Sub(w.start) >= rl.period {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}

// AuthRateLimiter applies the fixed-window limiter to the authentication
// endpoints, keyed by client address and endpoint class.
type AuthRateLimiter struct {
	limiter *FixedWindowLimiter
	limit   int
}

// NewAuthRateLimiter creates a rate limiter for the signup and login
// endpoint class
func NewAuthRateLimiter(limit int, period time.Duration) *AuthRateLimiter {
	return &AuthRateLimiter{
		limiter: NewFixedWindowLimiter(limit, period),
		limit:   limit,
	}
}

// Limit is the middleware enforcing the per-client attempt budget
func (rl *AuthRateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientAddr(r) + "|" + r.URL.Path

		if !rl.limiter.Allow(key) {
			metrics.RateLimitedTotal.WithLabelValues(r.URL.Path).Inc()
			rl.writeRateLimited(w, rl.limiter.Reset(key))
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.limiter.Remaining(key)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.limiter.Reset(key).Unix(), 10))

		next.ServeHTTP(w, r)
	})
}

// writeRateLimited writes a 429 Too Many Requests response
func (rl *AuthRateLimiter) writeRateLimited(w http.ResponseWriter, resetTime time.Time) {
	retryAfter := int64(time.Until(resetTime).Seconds())
	if retryAfter < 0 {
		retryAfter = 0
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	w.WriteHeader(http.StatusTooManyRequests)

	response := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    auth.CodeRateLimited,
			Message: "Too many attempts. Please try again later.",
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// clientAddr extracts the client address without the ephemeral port, so all
// connections from one host share a budget. RealIP middleware has already
// folded X-Forwarded-For / X-Real-IP into RemoteAddr.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
