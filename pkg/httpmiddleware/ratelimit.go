package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	// Max requests allowed per Window.
	Max int
	// Window is the sliding window length.
	Window time.Duration
	// KeyFunc derives the limiting key from a request; the client IP when nil.
	KeyFunc func(*http.Request) string
}

// window holds the request counts of two adjacent window-aligned buckets.
// The previous bucket's count is weighted by its remaining overlap with the
// sliding window, which smooths the boundary a fixed-window counter has.
type window struct {
	start     time.Time
	count     int
	prevCount int
}

type limiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	clients map[string]*window
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	return &limiter{cfg: cfg, clients: make(map[string]*window)}
}

func (l *limiter) take(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	bucket := now.Truncate(l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.clients[key]
	if !exists {
		w = &window{start: bucket}
		l.clients[key] = w
	}

	switch {
	case bucket.Equal(w.start):
	case bucket.Sub(w.start) == l.cfg.Window:
		w.prevCount = w.count
		w.count = 0
		w.start = bucket
	default:
		w.prevCount = 0
		w.count = 0
		w.start = bucket
	}

	weight := 1 - now.Sub(w.start).Seconds()/l.cfg.Window.Seconds()
	estimate := float64(w.prevCount)*weight + float64(w.count)
	resetAt = w.start.Add(l.cfg.Window)

	if estimate >= float64(l.cfg.Max) {
		return 0, resetAt, false
	}

	w.count++
	remaining = l.cfg.Max - int(estimate) - 1
	if remaining < 0 {
		remaining = 0
	}
	return remaining, resetAt, true
}

func (l *limiter) evictStale(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.clients {
		if now.Sub(w.start) >= 2*l.cfg.Window {
			delete(l.clients, key)
		}
	}
}

// RateLimit enforces a per-key sliding window limit. Rejected requests get a
// 429 with a Retry-After header; every response carries X-RateLimit-Limit,
// X-RateLimit-Remaining and X-RateLimit-Reset. State for idle clients is never
// evicted; prefer RateLimitWithCleanup on long-running servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware()
}

// RateLimitWithCleanup is RateLimit plus a background goroutine, stopped by
// ctx, that evicts clients idle for two full windows.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.evictStale(now)
			}
		}
	}()
	return l.middleware()
}

func (l *limiter) middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, resetAt, ok := l.take(l.cfg.KeyFunc(r), time.Now())

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !ok {
				retry := int(math.Ceil(time.Until(resetAt).Seconds()))
				if retry < 0 {
					retry = 0
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"code":429,"message":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the forwarding headers set by the edge proxy and falls back
// to the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
