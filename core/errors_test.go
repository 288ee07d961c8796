package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", ErrMissingField, KindValidation},
		{"csrf", ErrCSRFInvalid, KindSecurityGate},
		{"pow", ErrInvalidProofOfWork, KindSecurityGate},
		{"consumed", ErrChallengeConsumed, KindSecurityGate},
		{"credentials", ErrInvalidCredentials, KindCredential},
		{"fmt wrapped", fmt.Errorf("gate: %w", ErrCSRFExpired), KindSecurityGate},
		{"oops wrapped", oops.Code("POW_INVALID").In("pow").With("username", "alice").Wrap(ErrInvalidProofOfWork), KindSecurityGate},
		{"plain", errors.New("redis down"), KindInternal},
		{"store", fmt.Errorf("challenge: %w", ErrStoreFailure), KindInternal},
		{"nil", nil, KindInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ValidationError", KindValidation.String())
	assert.Equal(t, "SecurityGateFailure", KindSecurityGate.String())
	assert.Equal(t, "CredentialFailure", KindCredential.String())
	assert.Equal(t, "InternalFailure", KindInternal.String())
}

func TestChallengeExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ch, err := NewChallenge("alice", 4, 2*time.Minute, now)
	assert.NoError(t, err)
	assert.Len(t, ch.ID, ChallengeIDBytes*2)
	assert.False(t, ch.ExpiredAt(now))
	assert.False(t, ch.ExpiredAt(ch.ExpiresAt.Add(-time.Nanosecond)))
	assert.True(t, ch.ExpiredAt(ch.ExpiresAt))
	assert.True(t, ch.ExpiredAt(ch.ExpiresAt.Add(time.Hour)))

	other, err := NewChallenge("alice", 4, 2*time.Minute, now)
	assert.NoError(t, err)
	assert.NotEqual(t, ch.ID, other.ID)
}
