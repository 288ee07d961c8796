package store

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/layer-3/powgate/core"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of the KeyValueStore interface.
// Every operation holds the same mutex, which makes the conditional updates atomic.
type MemoryStore struct {
	data map[string]memoryEntry
	mu   sync.Mutex
	now  func() time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMemoryStore creates a new in-memory store. Expired entries are removed
// every sweepInterval; a non-positive interval disables the sweeper.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	return newMemoryStore(sweepInterval, time.Now)
}

func newMemoryStore(sweepInterval time.Duration, now func() time.Time) *MemoryStore {
	s := &MemoryStore{
		data: make(map[string]memoryEntry),
		now:  now,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweep(sweepInterval)
	} else {
		close(s.done)
	}
	return s
}

// Set stores a key with a value and expiration time
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = s.entry(value, ttl)
	return nil
}

// SetNX stores a key only if it is absent or expired
func (s *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.data[key] = s.entry(value, ttl)
	return true, nil
}

// Get retrieves a value by key
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil, core.ErrNotFound
	}
	return clone(e.value), nil
}

// Take retrieves and deletes a value by key
func (s *MemoryStore) Take(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil, core.ErrNotFound
	}
	delete(s.data, key)
	return e.value, nil
}

// CompareAndSwap replaces the value if it still equals prev, keeping the expiry
func (s *MemoryStore) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok || !bytes.Equal(e.value, prev) {
		return false, nil
	}
	e.value = clone(next)
	s.data[key] = e
	return true, nil
}

// Close stops the sweeper
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

// Len returns the number of entries, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *MemoryStore) entry(value []byte, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: clone(value)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	return e
}

// live must be called with mu held
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.data, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) sweep(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *MemoryStore) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.data {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.data, key)
		}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
