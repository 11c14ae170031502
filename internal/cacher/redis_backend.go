package cacher

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// negativeMarker is stored as the value for a negative cache entry in Redis,
// since the backend otherwise only round-trips record JSON bytes.
const negativeMarker = "\x00negative\x00"

// RedisBackend adapts a go-redis client to the Cacher Backend interface,
// per spec.md §4.3's optional Redis-compatible shared cache and §6's
// cache.redis config key.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend parses dsn (a redis:// URL) and returns a Backend wired to
// it, grounded on the go-redis/v9 usage pattern present in the retrieved
// example pack (GravSpace-GravSpace, SharedCode-sop).
func NewRedisBackend(dsn string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return &RedisBackend{client: redis.NewClient(opts)}, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, bool, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, err
	}
	if string(val) == negativeMarker {
		return nil, true, true, nil
	}
	return val, false, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, data []byte, negative bool) error {
	if negative {
		return b.client.Set(ctx, key, negativeMarker, 0).Err()
	}
	return b.client.Set(ctx, key, data, 0).Err()
}

func (b *RedisBackend) Unset(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// FlushAll issues Redis's FLUSHDB, per spec.md §4.3's "clearCache issues a
// FLUSHDB-equivalent" requirement.
func (b *RedisBackend) FlushAll(ctx context.Context) error {
	return b.client.FlushDB(ctx).Err()
}
