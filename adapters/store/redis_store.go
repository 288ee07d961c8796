package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/powgate/core"
	"github.com/redis/go-redis/v9"
)

// compareAndSwapScript swaps a value only if it is unchanged, keeping its TTL
var compareAndSwapScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2], 'KEEPTTL')
	return 1
end
return 0
`)

// RedisStore is a Redis implementation of the KeyValueStore interface
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "powgate:",
	}
}

// Set stores a key with a value and expiration time
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w: %v", core.ErrStoreFailure, err)
	}
	return nil
}

// SetNX stores a key only if it does not exist
func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set key: %w: %v", core.ErrStoreFailure, err)
	}
	return ok, nil
}

// Get retrieves a value by key
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w: %v", core.ErrStoreFailure, err)
	}
	return value, nil
}

// Take retrieves and deletes a value with GETDEL
func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.GetDel(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to take key: %w: %v", core.ErrStoreFailure, err)
	}
	return value, nil
}

// CompareAndSwap replaces a value only if it still equals prev
func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	n, err := compareAndSwapScript.Run(ctx, s.client, []string{s.prefix + key}, prev, next).Int()
	if err != nil {
		return false, fmt.Errorf("failed to swap key: %w: %v", core.ErrStoreFailure, err)
	}
	return n == 1, nil
}
