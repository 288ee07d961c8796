package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRevocations is a Redis implementation of the RevocationStore interface
type RedisRevocations struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRevocations creates a new Redis revocation list
func NewRedisRevocations(client redis.UniversalClient) *RedisRevocations {
	return &RedisRevocations{
		client: client,
		prefix: "powgate:revoked:",
	}
}

// InvalidateToken marks a token as invalidated in Redis
func (s *RedisRevocations) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if expiry <= 0 {
		expiry = time.Minute
	}
	if err := s.client.Set(ctx, s.prefix+tokenID, "1", expiry).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}
	return nil
}

// IsTokenInvalidated checks if a token is invalidated in Redis
func (s *RedisRevocations) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	val, err := s.client.Exists(ctx, s.prefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	return val > 0, nil
}
