// internal/client/redis_client.go
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ComUnity/access-gate/internal/util/logger"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RedisConfig defines configuration for Redis client
type RedisConfig struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisClient wraps redis.Client with tracing and command stats.
type RedisClient struct {
	*redis.Client
	mu     sync.Mutex
	closed bool
	stats  *redisStats
}

type redisStats struct {
	commands atomic.Uint64
	misses   atomic.Uint64
	errors   atomic.Uint64
	timeouts atomic.Uint64
}

// RedisStats is a point-in-time copy of the client counters.
type RedisStats struct {
	Commands uint64 `json:"commands"`
	Misses   uint64 `json:"misses"`
	Errors   uint64 `json:"errors"`
	Timeouts uint64 `json:"timeouts"`
}

// NewRedisClient connects to cfg.URL and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	} else {
		opts.PoolSize = 10 * runtime.GOMAXPROCS(0)
	}
	opts.DialTimeout = orDuration(cfg.DialTimeout, 5*time.Second)
	opts.ReadTimeout = orDuration(cfg.ReadTimeout, 3*time.Second)
	opts.WriteTimeout = orDuration(cfg.WriteTimeout, 3*time.Second)
	opts.OnConnect = func(ctx context.Context, cn *redis.Conn) error {
		logger.Debugf("New Redis connection established to %s", opts.Addr)
		return nil
	}

	rc := WrapRedis(redis.NewClient(opts))

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rc, nil
}

// WrapRedis instruments an existing client.
func WrapRedis(c *redis.Client) *RedisClient {
	rc := &RedisClient{Client: c, stats: &redisStats{}}
	c.AddHook(&instrumentHook{tracer: otel.Tracer("redis"), stats: rc.stats})
	return rc
}

// Close terminates the Redis client connection
func (c *RedisClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	logger.Infof("Closing Redis client")
	return c.Client.Close()
}

// HealthCheck verifies Redis connectivity
func (c *RedisClient) HealthCheck(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Stats returns current Redis client statistics
func (c *RedisClient) Stats() RedisStats {
	return RedisStats{
		Commands: c.stats.commands.Load(),
		Misses:   c.stats.misses.Load(),
		Errors:   c.stats.errors.Load(),
		Timeouts: c.stats.timeouts.Load(),
	}
}

// IncrementWithTTL atomically increments a key and sets TTL if not set
func (c *RedisClient) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	val, err := incrWithTTL.Run(ctx, c.Client, []string{key}, int(ttl.Seconds())).Int64()
	if err != nil {
		return 0, fmt.Errorf("incrementWithTTL failed: %w", err)
	}
	return val, nil
}

var incrWithTTL = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false then
  redis.call("SET", KEYS[1], 0, "EX", ARGV[1])
end
return redis.call("INCR", KEYS[1])
`)

type instrumentHook struct {
	tracer trace.Tracer
	stats  *redisStats
}

func (h *instrumentHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *instrumentHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		ctx, span := h.tracer.Start(ctx, "redis."+cmd.Name(), trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.String("db.system", "redis")))
		defer span.End()

		err := next(ctx, cmd)
		h.record(span, err)
		return err
	}
}

func (h *instrumentHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		ctx, span := h.tracer.Start(ctx, "redis.pipeline", trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.String("db.system", "redis"), attribute.Int("db.redis.num_cmd", len(cmds))))
		defer span.End()

		err := next(ctx, cmds)
		h.record(span, err)
		return err
	}
}

func (h *instrumentHook) record(span trace.Span, err error) {
	h.stats.commands.Add(1)
	switch {
	case err == nil:
	case errors.Is(err, redis.Nil):
		h.stats.misses.Add(1)
	case redis.HasErrorPrefix(err, "NOSCRIPT"):
		// scripts fall back from EVALSHA to EVAL
	default:
		h.stats.errors.Add(1)
		if isTimeoutError(err) {
			h.stats.timeouts.Add(1)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func isTimeoutError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
