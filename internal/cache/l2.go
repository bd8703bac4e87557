package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quotecore/quotecore/internal/domain"
)

// Level2 is the shared KV tier contract. Get reports the remaining TTL so the
// multi-level policy can derive a promotion TTL that never outlives the L2
// entry.
type Level2 interface {
	Get(ctx context.Context, key string) (payload []byte, remaining time.Duration, ok bool, err error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, glob string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// L2Config configures the Redis tier.
type L2Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// RedisL2 implements Level2 on go-redis with bounded pooling and short
// connect timeouts.
type RedisL2 struct {
	client *redis.Client
	log    zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// NewRedisL2 dials the shared keyspace.
func NewRedisL2(cfg L2Config, log zerolog.Logger) *RedisL2 {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})
	return &RedisL2{client: client, log: log.With().Str("component", "cache_l2").Logger()}
}

// NewRedisL2FromClient wraps an existing client; used by tests with redismock.
func NewRedisL2FromClient(client *redis.Client, log zerolog.Logger) *RedisL2 {
	return &RedisL2{client: client, log: log.With().Str("component", "cache_l2").Logger()}
}

// Get fetches the payload and its remaining TTL in one round trip each.
func (r *RedisL2) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.misses.Add(1)
			return nil, 0, false, nil
		}
		r.errs.Add(1)
		return nil, 0, false, domain.E(domain.KindCacheUnavailable, "l2 get "+key, err)
	}

	remaining, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		r.errs.Add(1)
		return nil, 0, false, domain.E(domain.KindCacheUnavailable, "l2 ttl "+key, err)
	}
	if remaining < 0 {
		// Key without expiry; treat as a short-lived hit so promotion stays bounded.
		remaining = time.Minute
	}

	r.hits.Add(1)
	return payload, remaining, true, nil
}

// Set writes the payload with an explicit TTL. Writes without TTL are not
// allowed through this tier.
func (r *RedisL2) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return domain.E(domain.KindInputInvalid, fmt.Sprintf("l2 set %s: non-positive ttl %v", key, ttl))
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		r.errs.Add(1)
		return domain.E(domain.KindCacheUnavailable, "l2 set "+key, err)
	}
	return nil
}

// Delete removes the given keys.
func (r *RedisL2) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.errs.Add(1)
		return domain.E(domain.KindCacheUnavailable, "l2 delete", err)
	}
	return nil
}

// DeletePattern removes keys matching a glob via SCAN, never KEYS, and
// returns the number removed.
func (r *RedisL2) DeletePattern(ctx context.Context, glob string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, glob, 200).Result()
		if err != nil {
			r.errs.Add(1)
			return removed, domain.E(domain.KindCacheUnavailable, "l2 scan "+glob, err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				r.errs.Add(1)
				return removed, domain.E(domain.KindCacheUnavailable, "l2 delete "+glob, err)
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Ping checks connectivity.
func (r *RedisL2) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return domain.E(domain.KindCacheUnavailable, "l2 ping", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisL2) Close() error { return r.client.Close() }
