package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Take(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 3, Window: time.Minute})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, _, ok := l.take("client", base.Add(time.Duration(i)*time.Second))
		require.True(t, ok, "request %d", i+1)
	}

	remaining, resetAt, ok := l.take("client", base.Add(3*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, base.Add(time.Minute), resetAt)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _, ok := l.take("a", now)
	require.True(t, ok)
	_, _, ok = l.take("a", now)
	require.False(t, ok)

	_, _, ok = l.take("b", now)
	assert.True(t, ok)
}

func TestLimiter_SlidingWindowCarriesPreviousCount(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 10, Window: time.Minute})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Fill the first window completely.
	for i := 0; i < 10; i++ {
		_, _, ok := l.take("client", base.Add(time.Second))
		require.True(t, ok)
	}

	// At the window boundary the previous count still weighs in fully.
	_, _, ok := l.take("client", base.Add(time.Minute))
	assert.False(t, ok)

	// Near the end of the next window the previous count has mostly decayed.
	_, _, ok = l.take("client", base.Add(2*time.Minute-time.Second))
	assert.True(t, ok)
}

func TestLimiter_StaleWindowResets(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _, ok := l.take("client", base)
	require.True(t, ok)
	_, _, ok = l.take("client", base.Add(time.Second))
	require.False(t, ok)

	// Two full windows later the client starts fresh.
	_, _, ok = l.take("client", base.Add(3*time.Minute))
	assert.True(t, ok)
}

func TestLimiter_EvictStale(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 5, Window: time.Minute})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.take("old", base)
	l.take("fresh", base.Add(2*time.Minute))
	l.evictStale(base.Add(2*time.Minute))

	l.mu.Lock()
	_, oldKept := l.clients["old"]
	_, freshKept := l.clients["fresh"]
	l.mu.Unlock()
	assert.False(t, oldKept)
	assert.True(t, freshKept)
}

func TestRateLimit_Middleware(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7:51000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := do()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	rec = do()
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, rec.Body.String())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:40120"
	assert.Equal(t, "198.51.100.4", clientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", "192.0.2.1, 203.0.113.9")
	assert.Equal(t, "192.0.2.1", clientIP(req))
}
