package handlers

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/example/diary-sync/internal/platform/api"
	"github.com/example/diary-sync/internal/platform/auth"
	"github.com/example/diary-sync/internal/platform/httpserver"
)

// RateLimiter is a token bucket per caller. Authenticated requests are
// keyed by user id, anonymous ones by client address.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a rate limiter with the given rate (req/s) and burst size.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
}

// allow reports whether key may proceed and, if not, how long until a
// token is available.
func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), last: now}
		rl.buckets[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	b.tokens += elapsed * rl.rate
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.last = now

	if b.tokens < 1 {
		if rl.rate <= 0 {
			return false, time.Minute
		}
		return false, time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
	}
	b.tokens--
	return true, 0
}

func clientKey(r *http.Request) string {
	if uid, ok := auth.UserIDFromContext(r.Context()); ok && uid != "" {
		return "user:" + uid
	}
	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = fwd
	}
	return "ip:" + ip
}

// Middleware rejects callers over their budget with 429 and Retry-After.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, wait := rl.allow(clientKey(r)); !ok {
			secs := int(wait.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			rid := httpserver.RequestIDFromContext(r.Context())
			api.RateLimited(w, "RATE_LIMITED", "Too many requests", rid, map[string]any{"retry_after_seconds": secs})
			return
		}
		next.ServeHTTP(w, r)
	})
}
