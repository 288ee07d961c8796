package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ChallengeIDBytes is the amount of randomness behind a challenge id (256 bits).
const ChallengeIDBytes = 32

// Challenge represents an outstanding proof-of-work challenge
type Challenge struct {
	ID         string     `json:"id"`          // Unguessable identifier, also the hash prefix
	Subject    string     `json:"subject"`     // Username the challenge was issued for
	Difficulty int        `json:"difficulty"`  // Required leading zero hex digits
	IssuedAt   time.Time  `json:"issued_at"`   // When the challenge was created
	ExpiresAt  time.Time  `json:"expires_at"`  // When the challenge stops being accepted
	Consumed   bool       `json:"consumed"`    // Set exactly once by a successful consumption
	ConsumedAt *time.Time `json:"consumed_at"` // When it was consumed
}

// NewChallenge creates an unconsumed challenge with a fresh random id
func NewChallenge(subject string, difficulty int, ttl time.Duration, now time.Time) (*Challenge, error) {
	id, err := RandomHex(ChallengeIDBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate challenge id: %w", err)
	}

	return &Challenge{
		ID:         id,
		Subject:    subject,
		Difficulty: difficulty,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}, nil
}

// ExpiredAt reports whether the challenge is no longer acceptable at t.
// The boundary is exclusive: a challenge is invalid at exactly ExpiresAt.
func (c *Challenge) ExpiredAt(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// Solution is what a client submits for a challenge. It is never persisted.
type Solution struct {
	Nonce string // Client chosen nonce, already stringified
	Hash  string // Client claimed hex SHA-256 of challenge id + nonce
}

// CSRFToken is an anti-forgery token bound to a scope and a client visit
type CSRFToken struct {
	Value        string
	Scope        string
	BoundSession string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// AccountType is the role of an account on the platform
type AccountType string

const (
	AccountTypeAdmin      AccountType = "admin"
	AccountTypePublisher  AccountType = "publisher"
	AccountTypeAdvertiser AccountType = "advertiser"
)

// Valid reports whether t is one of the known account types
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAdmin, AccountTypePublisher, AccountTypeAdvertiser:
		return true
	}
	return false
}

// Account is the read-only view of a stored credential
type Account struct {
	ID           string
	Username     string
	Type         AccountType
	PasswordHash string
}

// Session represents an authenticated session handed to a client
type Session struct {
	ID          string      // Unique session identifier, the token's jti
	SubjectID   string      // Account id
	SubjectType AccountType // Account role
	Username    string      // Account username
	IssuedAt    time.Time   // When the session was created
	ExpiresAt   time.Time   // When the session stops being valid
}

// ExpiredAt reports whether the session is expired at t
func (s *Session) ExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// RandomHex returns n random bytes hex encoded
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
