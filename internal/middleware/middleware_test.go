package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ComUnity/access-gate/internal/client"
	"github.com/ComUnity/access-gate/internal/telemetry"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func hit(h http.Handler, remote string) int {
	req := httptest.NewRequest(http.MethodPost, "/_gate/pitch/submit", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiterMemory(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(LimiterConfig{RatePerInterval: 2, Interval: time.Minute, Burst: 2})
	rl.now = func() time.Time { return now }
	h := rl.Handler(ok)

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1235"))
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1236"))

	// separate client, separate bucket
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1234"))

	now = now.Add(30 * time.Second)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1237"))
}

func TestRateLimiterRetryAfter(t *testing.T) {
	rl := NewRateLimiter(LimiterConfig{RatePerInterval: 1, Interval: time.Minute, Burst: 1})
	h := rl.Handler(ok)
	hit(h, "10.0.0.1:1")

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:2"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimiterRedisWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := client.WrapRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer rc.Close()

	rl := NewRateLimiter(LimiterConfig{RatePerInterval: 2, Interval: time.Minute, Burst: 2, Redis: rc, KeyPrefix: "gate:rl:"})
	rl.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 30, 0, time.UTC) }
	h := rl.Handler(ok)

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:2"))
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:3"))
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1"))
}

func TestRateLimiterRedisDownFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := client.WrapRedis(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	defer rc.Close()
	mr.Close()

	rl := NewRateLimiter(LimiterConfig{RatePerInterval: 1, Interval: time.Minute, Redis: rc})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	rl.Handler(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-RateLimit-Degraded"))
}

func TestTLSEnhancer(t *testing.T) {
	h := TLSEnhancer(TLSConfig{
		HSTSMaxAge:            63072000,
		IncludeSubdomains:     true,
		ContentSecurityPolicy: "default-src 'self'",
		ExcludedPaths:         []string{"/healthz"},
		TrustProxyHeader:      true,
	})(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/deck", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
	assert.Empty(t, rec.Header().Get("Content-Security-Policy"))

	req := httptest.NewRequest(http.MethodGet, "/deck", nil)
	req.TLS = &tls.ConnectionState{}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "max-age=63072000; includeSubDomains", rec.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "default-src 'self'", rec.Header().Get("Content-Security-Policy"))

	req = httptest.NewRequest(http.MethodGet, "/deck", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Empty(t, rec.Header().Get("X-Content-Type-Options"))
}

type capture struct{ events []any }

func (c *capture) Publish(ev any) { c.events = append(c.events, ev) }

func TestRequestAuditPublishes(t *testing.T) {
	pub := &capture{}
	h := chimw.RequestID(NewRequestAuditMW(pub).Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/deck?utm=x", nil))

	require.Len(t, pub.events, 1)
	ev := pub.events[0].(telemetry.RequestAuditEvent)
	assert.Equal(t, http.StatusTeapot, ev.Status)
	assert.Equal(t, "/deck", ev.Path)
	assert.Equal(t, http.MethodGet, ev.Method)
	assert.NotEmpty(t, ev.RequestID)
}

func TestRequestAuditDefaultsStatus(t *testing.T) {
	pub := &capture{}
	h := NewRequestAuditMW(pub).Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hi"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Len(t, pub.events, 1)
	assert.Equal(t, http.StatusOK, pub.events[0].(telemetry.RequestAuditEvent).Status)
}
