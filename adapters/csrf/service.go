// Package csrf issues anti-forgery tokens bound to a scope and a client visit.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/powgate/core"
	"github.com/layer-3/powgate/ports"
)

const (
	keyPrefix  = "csrf:"
	tokenBytes = 32

	DefaultTTL = 10 * time.Minute
)

type record struct {
	Scope     []byte    `json:"scope"`
	Session   []byte    `json:"session"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service implements ports.CSRFService on top of a KeyValueStore.
// Only digests of the token, scope and bound session are stored.
type Service struct {
	kv        ports.KeyValueStore
	ttl       time.Duration
	singleUse bool
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithTTL sets the token lifetime
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithSingleUse controls whether a token is burned on first validation
func WithSingleUse(singleUse bool) Option {
	return func(s *Service) { s.singleUse = singleUse }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a CSRF service. Tokens are single-use unless configured otherwise.
func NewService(kv ports.KeyValueStore, opts ...Option) *Service {
	s := &Service{
		kv:        kv,
		ttl:       DefaultTTL,
		singleUse: true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate issues a new token for scope and boundSession
func (s *Service) Generate(ctx context.Context, scope, boundSession string) (*core.CSRFToken, error) {
	if scope == "" || boundSession == "" {
		return nil, core.ErrMissingField
	}

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate csrf token: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(buf)

	now := s.now()
	rec := record{
		Scope:     digest(scope),
		Session:   digest(boundSession),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal csrf record: %w", err)
	}

	if err := s.kv.Set(ctx, key(value), raw, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store csrf token: %w", err)
	}

	return &core.CSRFToken{
		Value:        value,
		Scope:        scope,
		BoundSession: boundSession,
		IssuedAt:     rec.IssuedAt,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

// Validate checks value against scope and boundSession. Single-use tokens are
// removed by the lookup, so a failed validation also burns them.
func (s *Service) Validate(ctx context.Context, value, scope, boundSession string) error {
	if value == "" {
		return core.ErrCSRFMissing
	}
	if !wellFormed(value) {
		return core.ErrCSRFInvalid
	}

	now := s.now()
	var (
		raw []byte
		err error
	)
	if s.singleUse {
		raw, err = s.kv.Take(ctx, key(value))
	} else {
		raw, err = s.kv.Get(ctx, key(value))
	}
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.ErrCSRFInvalid
		}
		return fmt.Errorf("failed to load csrf token: %w", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("failed to decode csrf record: %w", err)
	}

	scopeOK := subtle.ConstantTimeCompare(rec.Scope, digest(scope))
	sessionOK := subtle.ConstantTimeCompare(rec.Session, digest(boundSession))
	if scopeOK&sessionOK != 1 {
		return core.ErrCSRFMismatch
	}
	if !now.Before(rec.ExpiresAt) {
		return core.ErrCSRFExpired
	}
	return nil
}

func wellFormed(value string) bool {
	if len(value) != base64.RawURLEncoding.EncodedLen(tokenBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(value)
	return err == nil
}

func digest(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

func key(value string) string {
	sum := sha256.Sum256([]byte(value))
	return keyPrefix + hex.EncodeToString(sum[:])
}
