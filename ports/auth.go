package ports

import (
	"context"

	"github.com/layer-3/powgate/core"
)

// ChallengeStore issues proof-of-work challenges and consumes them at most once
type ChallengeStore interface {
	// Issue records a challenge for subject, requested from the client visit boundSession
	Issue(ctx context.Context, subject, boundSession string, difficulty int) (*core.Challenge, error)
	// Latest returns the id of the newest challenge issued for subject to boundSession
	Latest(ctx context.Context, subject, boundSession string) (string, error)
	// Peek returns a consumable challenge without consuming it
	Peek(ctx context.Context, id, subject string) (*core.Challenge, error)
	// TryConsume atomically validates and marks the challenge consumed
	TryConsume(ctx context.Context, id, subject string) (*core.Challenge, error)
}

// CSRFService issues and validates anti-forgery tokens
type CSRFService interface {
	Generate(ctx context.Context, scope, boundSession string) (*core.CSRFToken, error)
	Validate(ctx context.Context, value, scope, boundSession string) error
}

// AccountRepository is the read-only account store
type AccountRepository interface {
	GetByUsername(ctx context.Context, username string) (*core.Account, error)
}

// PasswordHasher hashes and verifies passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) bool
}

// CredentialVerifier checks a username/password pair
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (*core.Account, error)
}

// SessionIssuer mints, validates and revokes session tokens
type SessionIssuer interface {
	Issue(ctx context.Context, account *core.Account) (*core.Session, string, error)
	Validate(ctx context.Context, token string) (*core.Session, error)
	Revoke(ctx context.Context, token string) error
}
