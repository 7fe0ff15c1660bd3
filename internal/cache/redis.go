package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the Redis connection used for deduplication.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	TTL         time.Duration
	DialTimeout time.Duration
}

// RedisDeduper records keys with SET NX so several bot replicas share one
// view of delivered updates.
type RedisDeduper struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

var _ Deduper = (*RedisDeduper)(nil)

// NewRedisDeduper connects lazily; the first Seen call dials.
func NewRedisDeduper(cfg RedisConfig) *RedisDeduper {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "helpdesk:update:"
	}
	return &RedisDeduper{
		client: redis.NewClient(&redis.Options{
			Addr:        cfg.Addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: dial,
			MaxRetries:  1,
		}),
		keyPrefix: prefix,
		ttl:       cfg.TTL,
	}
}

// Seen implements Deduper.
func (r *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.keyPrefix+key, 1, r.ttl).Result()
	if err != nil {
		dedupChecks.WithLabelValues("redis", "error").Inc()
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		dedupChecks.WithLabelValues("redis", "duplicate").Inc()
		return true, nil
	}
	dedupChecks.WithLabelValues("redis", "fresh").Inc()
	return false, nil
}

// Ping checks connectivity.
func (r *RedisDeduper) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *RedisDeduper) Close() error {
	return r.client.Close()
}
