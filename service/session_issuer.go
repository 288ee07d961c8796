package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/layer-3/powgate/core"
	"github.com/layer-3/powgate/internal/logutil"
	"github.com/layer-3/powgate/ports"
)

const DefaultSessionTTL = 24 * time.Hour

// SessionIssuer mints signed session tokens and tracks revocations
type SessionIssuer struct {
	tokenizer   ports.Tokenizer
	revocations ports.RevocationStore
	eventPub    ports.EventPublisher

	ttl time.Duration
	now func() time.Time
}

// NewSessionIssuer creates a session issuer. eventPub may be nil.
func NewSessionIssuer(
	tokenizer ports.Tokenizer,
	revocations ports.RevocationStore,
	eventPub ports.EventPublisher,
	ttl time.Duration,
) *SessionIssuer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionIssuer{
		tokenizer:   tokenizer,
		revocations: revocations,
		eventPub:    eventPub,
		ttl:         ttl,
		now:         time.Now,
	}
}

// TTL returns the lifetime of issued sessions
func (s *SessionIssuer) TTL() time.Duration {
	return s.ttl
}

// Issue creates a session for account and returns it with its signed token
func (s *SessionIssuer) Issue(ctx context.Context, account *core.Account) (*core.Session, string, error) {
	if account == nil || account.ID == "" {
		return nil, "", core.ErrInvalidAccount
	}

	// Truncated to the token's NumericDate precision
	now := s.now().Truncate(time.Second)
	session := &core.Session{
		ID:          uuid.New().String(),
		SubjectID:   account.ID,
		SubjectType: account.Type,
		Username:    account.Username,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.ttl),
	}

	token, err := s.tokenizer.SessionToToken(session)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create session token: %w", err)
	}

	return session, token, nil
}

// Validate returns the session carried by token if it is neither expired nor revoked
func (s *SessionIssuer) Validate(ctx context.Context, token string) (*core.Session, error) {
	session, err := s.tokenizer.TokenToSession(token)
	if err != nil {
		return nil, err
	}

	if session.ExpiredAt(s.now()) {
		return nil, core.ErrSessionExpired
	}

	revoked, err := s.revocations.IsTokenInvalidated(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check session revocation: %w", err)
	}
	if revoked {
		return nil, core.ErrSessionRevoked
	}

	return session, nil
}

// Revoke invalidates token until it would have expired anyway. Revoking an
// expired token is a no-op.
func (s *SessionIssuer) Revoke(ctx context.Context, token string) error {
	session, err := s.tokenizer.TokenToSession(token)
	if err != nil {
		if errors.Is(err, core.ErrSessionExpired) {
			return nil
		}
		return err
	}

	remaining := session.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return nil
	}

	if err := s.revocations.InvalidateToken(ctx, session.ID, remaining); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	sessionsRevoked.Inc()

	if s.eventPub == nil {
		return nil
	}
	// The revocation is already stored; other instances catch up through it
	if err := s.eventPub.PublishLogout(ctx, session.SubjectID, session.ID); err != nil {
		log := logutil.GetOrDefault(ctx)
		logutil.Err(log.Warn(), err).
			Str("session_id", session.ID).
			Msg("Failed to publish logout event")
	}

	return nil
}
