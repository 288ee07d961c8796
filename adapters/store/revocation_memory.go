package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
)

// MemoryRevocations is an in-memory RevocationStore backed by bigcache.
// Entries are evicted by bigcache after lifeWindow; the stored expiry decides
// whether a revocation is still in effect before that.
type MemoryRevocations struct {
	cache *bigcache.BigCache
	now   func() time.Time
}

// NewMemoryRevocations creates a revocation list that keeps entries for at
// least lifeWindow, which should cover the longest session lifetime
func NewMemoryRevocations(lifeWindow time.Duration) (*MemoryRevocations, error) {
	cfg := bigcache.DefaultConfig(lifeWindow)
	cfg.CleanWindow = time.Minute
	cfg.Verbose = false
	cache, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create revocation cache: %w", err)
	}
	return &MemoryRevocations{cache: cache, now: time.Now}, nil
}

// InvalidateToken marks a token as invalidated
func (s *MemoryRevocations) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(s.now().Add(expiry).UnixNano()))
	if err := s.cache.Set(tokenID, buf[:]); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}
	return nil
}

// IsTokenInvalidated checks if a token is invalidated
func (s *MemoryRevocations) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	buf, err := s.cache.Get(tokenID)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	if len(buf) != 8 {
		return false, fmt.Errorf("corrupt revocation entry for %s", tokenID)
	}

	expiresAt := time.Unix(0, int64(binary.BigEndian.Uint64(buf)))
	return s.now().Before(expiresAt), nil
}

// Close releases the cache
func (s *MemoryRevocations) Close() error {
	return s.cache.Close()
}
