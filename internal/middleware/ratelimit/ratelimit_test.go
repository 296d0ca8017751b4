package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var noon = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTakeRefillsOverTime(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 2})
	defer l.Stop()
	now := noon
	l.now = func() time.Time { return now }

	ok, _ := l.Take("a")
	assert.True(t, ok)
	ok, _ = l.Take("a")
	assert.True(t, ok)
	ok, wait := l.Take("a")
	assert.False(t, ok)
	assert.InDelta(t, float64(30*time.Second), float64(wait), float64(time.Millisecond))

	ok, _ = l.Take("b")
	assert.True(t, ok, "clients have their own buckets")

	now = now.Add(30 * time.Second)
	ok, _ = l.Take("a")
	assert.True(t, ok, "one token back after half a minute")
	ok, _ = l.Take("a")
	assert.False(t, ok)
}

func TestRejectedTakeSpendsNothing(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, Burst: 1})
	defer l.Stop()
	now := noon
	l.now = func() time.Time { return now }

	ok, _ := l.Take("a")
	assert.True(t, ok)
	for range 5 {
		ok, _ = l.Take("a")
		assert.False(t, ok)
	}
	now = now.Add(time.Second)
	ok, _ = l.Take("a")
	assert.True(t, ok)
}

func TestSweepDropsIdleClients(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 5, IdleTTL: time.Minute})
	defer l.Stop()
	now := noon
	l.now = func() time.Time { return now }

	l.Take("a")
	now = now.Add(30 * time.Second)
	l.Take("b")
	now = now.Add(45 * time.Second)
	l.sweep()
	assert.Equal(t, 1, l.Clients())
}

func TestMiddlewareWrites429WithRetryAfter(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 1})
	defer l.Stop()
	l.now = func() time.Time { return noon }
	h := l.Middleware(func(*http.Request) string { return "a" }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 30, retryAfterSeconds(29*time.Second+time.Millisecond))
}
