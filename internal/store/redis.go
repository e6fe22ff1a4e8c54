package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps flags server-side under a per-visitor key prefix.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

// Set writes key with the store ttl; a zero ttl never expires.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// RedisProvider scopes a RedisStore to the visitor id cookie.
type RedisProvider struct {
	Client    redis.Cmdable
	KeyPrefix string
	TTL       time.Duration
	Visitors  VisitorCookie
}

func (p *RedisProvider) ForRequest(w http.ResponseWriter, r *http.Request) FlagStore {
	id := p.Visitors.Ensure(w, r)
	return NewRedisStore(p.Client, p.KeyPrefix+id+":", p.TTL)
}
