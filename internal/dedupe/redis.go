package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard shares claims between instances with SET NX.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisGuard(client redis.UniversalClient, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = "aquaguard:guard"
	}
	return &RedisGuard{client: client, prefix: prefix}
}

func (g *RedisGuard) key(k string) string {
	return g.prefix + ":" + k
}

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := g.client.SetNX(ctx, g.key(key), time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis guard acquire %s: %w", key, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.key(key)).Err(); err != nil {
		return fmt.Errorf("redis guard release %s: %w", key, err)
	}
	return nil
}
