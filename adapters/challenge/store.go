// Package challenge keeps proof-of-work challenges in a KeyValueStore and
// consumes them with a compare-and-swap on the stored record.
package challenge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/powgate/core"
	"github.com/layer-3/powgate/ports"
)

const (
	keyPrefix       = "challenge:"
	latestKeyPrefix = "challenge:latest:"

	DefaultTTL   = 2 * time.Minute
	DefaultGrace = time.Minute
)

// Store implements ports.ChallengeStore
type Store struct {
	kv    ports.KeyValueStore
	ttl   time.Duration
	grace time.Duration
	now   func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithTTL sets how long a challenge is accepted
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithGrace sets how long an expired or consumed record is kept before the
// backing store may drop it
func WithGrace(grace time.Duration) Option {
	return func(s *Store) { s.grace = grace }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a challenge store on top of kv
func NewStore(kv ports.KeyValueStore, opts ...Option) *Store {
	s := &Store{
		kv:    kv,
		ttl:   DefaultTTL,
		grace: DefaultGrace,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue records a fresh unconsumed challenge for subject and makes it the
// latest one of the boundSession visit
func (s *Store) Issue(ctx context.Context, subject, boundSession string, difficulty int) (*core.Challenge, error) {
	if subject == "" {
		return nil, core.ErrMissingField
	}
	if difficulty < 0 || difficulty > core.MaxDifficulty {
		return nil, fmt.Errorf("difficulty %d out of range: %w", difficulty, core.ErrMalformedField)
	}

	challenge, err := core.NewChallenge(subject, difficulty, s.ttl, s.now())
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal challenge: %w", err)
	}

	retention := s.ttl + s.grace
	created, err := s.kv.SetNX(ctx, keyPrefix+challenge.ID, raw, retention)
	if err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}
	if !created {
		// 256 random bits collided; refuse rather than overwrite
		return nil, fmt.Errorf("challenge id collision: %w", core.ErrStoreFailure)
	}

	if err := s.kv.Set(ctx, latestKey(subject, boundSession), []byte(challenge.ID), retention); err != nil {
		return nil, fmt.Errorf("failed to index challenge: %w", err)
	}

	return challenge, nil
}

// Latest returns the id of the newest challenge issued for subject to the
// boundSession visit. Other visits never see it.
func (s *Store) Latest(ctx context.Context, subject, boundSession string) (string, error) {
	raw, err := s.kv.Get(ctx, latestKey(subject, boundSession))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", core.ErrChallengeNotFound
		}
		return "", fmt.Errorf("failed to resolve challenge: %w", err)
	}
	return string(raw), nil
}

// Peek returns the challenge if TryConsume would currently accept it, and
// leaves the record untouched
func (s *Store) Peek(ctx context.Context, id, subject string) (*core.Challenge, error) {
	_, challenge, err := s.load(ctx, id, subject, s.now())
	return challenge, err
}

// TryConsume validates the challenge against a single captured instant and
// flips it to consumed with a compare-and-swap on the exact bytes read.
func (s *Store) TryConsume(ctx context.Context, id, subject string) (*core.Challenge, error) {
	now := s.now()
	key := keyPrefix + id

	raw, challenge, err := s.load(ctx, id, subject, now)
	if err != nil {
		return nil, err
	}

	challenge.Consumed = true
	challenge.ConsumedAt = &now
	next, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal challenge: %w", err)
	}

	swapped, err := s.kv.CompareAndSwap(ctx, key, raw, next)
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	if !swapped {
		// The only transition a record can make is unconsumed -> consumed, or
		// disappearing after retention; either way this caller lost.
		return nil, core.ErrChallengeConsumed
	}

	return challenge, nil
}

// load reads the record and checks it is consumable at now
func (s *Store) load(ctx context.Context, id, subject string, now time.Time) ([]byte, *core.Challenge, error) {
	raw, err := s.kv.Get(ctx, keyPrefix+id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil, core.ErrChallengeNotFound
		}
		return nil, nil, fmt.Errorf("failed to load challenge: %w", err)
	}

	var challenge core.Challenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return nil, nil, fmt.Errorf("failed to decode challenge: %w", err)
	}

	if challenge.Subject != subject {
		return nil, nil, core.ErrSubjectMismatch
	}
	if challenge.Consumed {
		return nil, nil, core.ErrChallengeConsumed
	}
	if challenge.ExpiredAt(now) {
		return nil, nil, core.ErrChallengeExpired
	}
	return raw, &challenge, nil
}

func latestKey(subject, boundSession string) string {
	sum := sha256.Sum256([]byte(subject + "\x00" + boundSession))
	return latestKeyPrefix + hex.EncodeToString(sum[:])
}
