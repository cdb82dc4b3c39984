package credentials

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisClient is the slice of Redis the backend uses.
type redisClient interface {
	mget(ctx context.Context, keys ...string) ([]interface{}, error)
	replace(ctx context.Context, keys []string, pairs []interface{}) error
	del(ctx context.Context, keys ...string) error
}

type goRedisClient struct {
	rdb redis.UniversalClient
}

func (c goRedisClient) mget(ctx context.Context, keys ...string) ([]interface{}, error) {
	return c.rdb.MGet(ctx, keys...).Result()
}

// replace deletes every key and sets pairs inside one MULTI/EXEC.
func (c goRedisClient) replace(ctx context.Context, keys []string, pairs []interface{}) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		if len(pairs) > 0 {
			pipe.MSet(ctx, pairs...)
		}
		return nil
	})
	return err
}

func (c goRedisClient) del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// RedisBackend stores each key as <prefix>:<key>.
type RedisBackend struct {
	client redisClient
	prefix string
}

// NewRedisBackend wraps an existing go-redis client.
func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	return newRedisBackend(goRedisClient{rdb: rdb}, prefix)
}

func newRedisBackend(client redisClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "schooladmin:session"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) Read(ctx context.Context) (map[string]string, error) {
	results, err := r.client.mget(ctx, r.keys()...)
	if err != nil {
		return nil, fmt.Errorf("redis MGET failed: %w", err)
	}

	values := make(map[string]string, len(AllKeys))
	for i, key := range AllKeys {
		if i >= len(results) || results[i] == nil {
			continue
		}
		if s, ok := results[i].(string); ok {
			values[key] = s
		}
	}
	return values, nil
}

func (r *RedisBackend) Write(ctx context.Context, values map[string]string) error {
	pairs := make([]interface{}, 0, len(values)*2)
	for _, key := range AllKeys {
		if v, ok := values[key]; ok {
			pairs = append(pairs, r.key(key), v)
		}
	}
	if err := r.client.replace(ctx, r.keys(), pairs); err != nil {
		return fmt.Errorf("redis transaction failed: %w", err)
	}
	return nil
}

func (r *RedisBackend) Clear(ctx context.Context) error {
	if err := r.client.del(ctx, r.keys()...); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}

func (r *RedisBackend) Name() string {
	return "redis(" + r.prefix + ")"
}

func (r *RedisBackend) key(name string) string {
	return r.prefix + ":" + name
}

func (r *RedisBackend) keys() []string {
	keys := make([]string, len(AllKeys))
	for i, name := range AllKeys {
		keys[i] = r.key(name)
	}
	return keys
}
