package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ComUnity/access-gate/internal/client"
	"github.com/ComUnity/access-gate/internal/config"
	"github.com/ComUnity/access-gate/internal/util/logger"
)

const maxMemoryBuckets = 10000

type LimiterConfig struct {
	RatePerInterval int
	Interval        time.Duration
	Burst           int

	// Redis switches to a shared fixed window per interval.
	Redis     *client.RedisClient
	KeyPrefix string
}

func LimiterConfigFrom(c config.RateLimitConfig, rc *client.RedisClient, keyPrefix string) LimiterConfig {
	return LimiterConfig{
		RatePerInterval: c.RatePerInterval,
		Interval:        c.Interval,
		Burst:           c.Burst,
		Redis:           rc,
		KeyPrefix:       keyPrefix + "rl:",
	}
}

// RateLimiter throttles requests per client IP. chi's RealIP middleware is
// expected upstream so RemoteAddr already reflects the client.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     LimiterConfig
	buckets map[string]*tokenBucket
	now     func() time.Time
}

func NewRateLimiter(cfg LimiterConfig) *RateLimiter {
	if cfg.RatePerInterval <= 0 {
		cfg.RatePerInterval = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RatePerInterval
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:"
	}
	return &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)

		if rl.cfg.Redis != nil {
			ok, err := rl.redisAllow(r, key)
			if err != nil {
				logger.Warnf("rate limit degraded: %v", err)
				w.Header().Set("X-RateLimit-Degraded", "true")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				rl.reject(w)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if !rl.bucket(key).allow(rl.now()) {
			rl.reject(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) reject(w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(int(rl.cfg.Interval.Seconds())))
	http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
}

func (rl *RateLimiter) redisAllow(r *http.Request, key string) (bool, error) {
	window := rl.now().UnixNano() / int64(rl.cfg.Interval)
	k := rl.cfg.KeyPrefix + key + ":" + strconv.FormatInt(window, 10)
	n, err := rl.cfg.Redis.IncrementWithTTL(r.Context(), k, rl.cfg.Interval)
	if err != nil {
		return false, err
	}
	return n <= int64(rl.cfg.Burst), nil
}

func (rl *RateLimiter) bucket(key string) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[key]; ok {
		return b
	}
	if len(rl.buckets) >= maxMemoryBuckets {
		rl.sweepLocked()
	}
	b := newBucket(rl.cfg.RatePerInterval, rl.cfg.Interval, rl.cfg.Burst, rl.now())
	rl.buckets[key] = b
	return b
}

// sweepLocked drops buckets that have refilled completely.
func (rl *RateLimiter) sweepLocked() {
	now := rl.now()
	for k, b := range rl.buckets {
		if b.idle(now) {
			delete(rl.buckets, k)
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(rate int, interval time.Duration, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		capacity:   float64(burst),
		tokens:     float64(burst),
		refillRate: float64(rate) / interval.Seconds(),
		lastRefill: now,
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *tokenBucket) idle(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	return b.tokens >= b.capacity
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}
