package ports

import (
	"context"
	"time"
)

// KeyValueStore is transient shared storage with atomic conditional updates.
// Missing and expired keys return core.ErrNotFound.
type KeyValueStore interface {
	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Get returns the value stored under key
	Get(ctx context.Context, key string) ([]byte, error)
	// Take atomically returns and deletes the value stored under key
	Take(ctx context.Context, key string) ([]byte, error)
	// CompareAndSwap replaces the value under key with next only if it currently
	// equals prev. The remaining TTL is kept.
	CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error)
}

// RevocationStore tracks revoked session ids until their tokens expire
type RevocationStore interface {
	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
}
