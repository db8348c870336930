package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores cache entries in Redis.
type RedisBackend struct {
	client *redis.Client
}

// NewRedis connects to the Redis instance named by url, e.g.
// "redis://localhost:6379/0". The connection is verified with a ping.
func NewRedis(ctx context.Context, url string, dialTimeout time.Duration) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if dialTimeout > 0 {
		opts.DialTimeout = dialTimeout
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisBackend{client: client}, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisBackend) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (r *RedisBackend) Len(ctx context.Context) (int64, error) {
	return r.client.DBSize(ctx).Result()
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) Close() error { return r.client.Close() }

// Open returns a Redis backend when url is set and reachable, and otherwise
// falls back to the in-process store so the pipeline keeps working without
// external infrastructure.
func Open(ctx context.Context, url string, dialTimeout time.Duration, logger *slog.Logger) Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		logger.Info("cache: no redis configured, using in-process store")
		return NewMemory()
	}
	backend, err := NewRedis(ctx, url, dialTimeout)
	if err != nil {
		logger.Warn("cache: redis unreachable, falling back to in-process store",
			"url", url, "error", err)
		return NewMemory()
	}
	logger.Info("cache: connected to redis", "url", url)
	return backend
}
