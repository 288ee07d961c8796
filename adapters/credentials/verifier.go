package credentials

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/layer-3/powgate/core"
	"github.com/layer-3/powgate/internal/logutil"
	"github.com/layer-3/powgate/ports"
)

// Verifier implements ports.CredentialVerifier.
//
// Every call runs one argon2id and one bcrypt verification: the stored hash
// plus a decoy of the other family, or two decoys for an unknown username.
// Unknown users, argon2id accounts and legacy bcrypt accounts therefore cost
// the same.
type Verifier struct {
	accounts ports.AccountRepository
	hasher   ports.PasswordHasher

	bcryptCost  int
	argonDecoy  string
	bcryptDecoy string
}

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithBcryptCost sets the cost of the bcrypt decoy. It should match the cost
// of the legacy hashes still in the account store.
func WithBcryptCost(cost int) VerifierOption {
	return func(v *Verifier) { v.bcryptCost = cost }
}

// NewVerifier creates a verifier. It hashes a random password once per hash
// family to build the decoys.
func NewVerifier(accounts ports.AccountRepository, hasher ports.PasswordHasher, opts ...VerifierOption) (*Verifier, error) {
	v := &Verifier{
		accounts:   accounts,
		hasher:     hasher,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(v)
	}

	secret, err := core.RandomHex(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate decoy password: %w", err)
	}
	v.argonDecoy, err = hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash decoy password: %w", err)
	}
	legacy, err := bcrypt.GenerateFromPassword([]byte(secret), v.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash bcrypt decoy password: %w", err)
	}
	v.bcryptDecoy = string(legacy)

	return v, nil
}

// Verify returns the account when username and password match. Every
// mismatch, including an unknown username, is core.ErrInvalidCredentials.
func (v *Verifier) Verify(ctx context.Context, username, password string) (*core.Account, error) {
	account, lookupErr := v.accounts.GetByUsername(ctx, username)
	if lookupErr != nil && !errors.Is(lookupErr, core.ErrNotFound) {
		return nil, fmt.Errorf("failed to load account: %w", lookupErr)
	}

	target, companion := v.argonDecoy, v.bcryptDecoy
	if account != nil {
		target = account.PasswordHash
		if isBcrypt(target) {
			companion = v.argonDecoy
		}
	}

	ok, err := v.hasher.Verify(password, target)
	_, _ = v.hasher.Verify(password, companion)

	if err != nil {
		if account != nil {
			log := logutil.GetOrDefault(ctx)
			log.Error().
				Str("account_id", account.ID).
				Err(err).
				Msg("Stored password hash is unreadable")
		}
		return nil, core.ErrInvalidCredentials
	}
	if account == nil || !ok {
		return nil, core.ErrInvalidCredentials
	}

	return account, nil
}
