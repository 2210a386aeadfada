package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash that holds the index when no key is configured.
const DefaultRedisKey = "pickindex:names"

// RedisIndex is an IndexBackend stored as one redis hash (field = name).
type RedisIndex struct {
	rdb *redis.Client
	key string
}

// OpenRedisIndex connects to addr and verifies the connection with PING.
func OpenRedisIndex(ctx context.Context, addr, password string, db int, key string) (*RedisIndex, error) {
	if key == "" {
		key = DefaultRedisKey
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	sub("db").Info("connected redis index", "addr", addr, "db", db, "key", key)
	return &RedisIndex{rdb: rdb, key: key}, nil
}

func (r *RedisIndex) Get(ctx context.Context, name string) (string, error) {
	pc, err := r.rdb.HGet(ctx, r.key, name).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis hget: %w", err)
	}
	return pc, nil
}

func (r *RedisIndex) Set(ctx context.Context, name, pickcode string) error {
	if err := r.rdb.HSet(ctx, r.key, name, pickcode).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (r *RedisIndex) Has(ctx context.Context, name string) (bool, error) {
	ok, err := r.rdb.HExists(ctx, r.key, name).Result()
	if err != nil {
		return false, fmt.Errorf("redis hexists: %w", err)
	}
	return ok, nil
}

func (r *RedisIndex) Len(ctx context.Context) (int, error) {
	n, err := r.rdb.HLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hlen: %w", err)
	}
	return int(n), nil
}

func (r *RedisIndex) Close() error {
	return r.rdb.Close()
}
