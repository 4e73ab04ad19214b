package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for dropping buckets of clients that stopped sending requests.
const (
	defaultCleanupEvery = 5 * time.Minute
	defaultStaleAfter   = 10 * time.Minute
)

// rateLimiter applies a token bucket per client IP. Idle buckets are
// evicted inline during allow calls, so the limiter needs no background
// goroutine and no shutdown.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientBucket
	limit        rate.Limit
	burst        int
	cleanupEvery time.Duration
	staleAfter   time.Duration
	lastCleanup  time.Time
}

// clientBucket pairs one client's token bucket with its last activity.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter creates a limiter refilling r tokens per second per
// client, with burst as both the bucket capacity and the initial allowance.
func newRateLimiter(r float64, burst int) *rateLimiter {
	return &rateLimiter{
		clients:      make(map[string]*clientBucket),
		limit:        rate.Limit(r),
		burst:        burst,
		cleanupEvery: defaultCleanupEvery,
		staleAfter:   defaultStaleAfter,
		lastCleanup:  time.Now(),
	}
}

// allow takes one token from ip's bucket, creating the bucket on first
// sight. Returns false when the bucket is empty.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.evictStale(now)

	b, ok := rl.clients[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

// evictStale drops buckets idle for longer than staleAfter. Runs at most
// once per cleanupEvery; the caller holds the mutex.
func (rl *rateLimiter) evictStale(now time.Time) {
	if now.Sub(rl.lastCleanup) < rl.cleanupEvery {
		return
	}
	for ip, b := range rl.clients {
		if now.Sub(b.lastSeen) > rl.staleAfter {
			delete(rl.clients, ip)
		}
	}
	rl.lastCleanup = now
}

// rateLimitMiddleware rejects requests from clients that exhausted their
// token bucket with 429 and a Retry-After hint.
func rateLimitMiddleware(rl *rateLimiter, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !rl.allow(ip) {
				logger.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "Too many requests", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client IP the limiter keys on.
//
// With trustProxy, X-Real-IP is consulted first, then the first hop of
// X-Forwarded-For. Both are validated with net.ParseIP so a forged header
// cannot inject arbitrary strings as limiter keys. Without trustProxy only
// RemoteAddr is used.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
				return ip.String()
			}
		}

		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			raw := xff
			if first, _, ok := strings.Cut(xff, ","); ok {
				raw = first
			}
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
