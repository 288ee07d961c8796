package core

import "errors"

// Kind classifies an error for propagation to clients
type Kind int

const (
	// KindInternal covers storage outages, signing failures and anything unclassified
	KindInternal Kind = iota
	// KindValidation is a missing or malformed field, correctable by the client
	KindValidation
	// KindSecurityGate is a failed CSRF or proof-of-work check
	KindSecurityGate
	// KindCredential is a bad username/password pair
	KindCredential
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindSecurityGate:
		return "SecurityGateFailure"
	case KindCredential:
		return "CredentialFailure"
	default:
		return "InternalFailure"
	}
}

// Error is a classified sentinel error
type Error struct {
	kind Kind
	msg  string
}

func newError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind returns the error class
func (e *Error) Kind() Kind { return e.kind }

var (
	ErrMissingField    = newError(KindValidation, "missing required field")
	ErrMalformedField  = newError(KindValidation, "malformed field")
	ErrInvalidUsername = newError(KindValidation, "invalid username")

	ErrCSRFMissing  = newError(KindSecurityGate, "csrf token missing")
	ErrCSRFInvalid  = newError(KindSecurityGate, "csrf token invalid")
	ErrCSRFExpired  = newError(KindSecurityGate, "csrf token expired")
	ErrCSRFMismatch = newError(KindSecurityGate, "csrf token scope or session mismatch")

	ErrChallengeNotFound  = newError(KindSecurityGate, "challenge not found")
	ErrChallengeExpired   = newError(KindSecurityGate, "challenge expired")
	ErrChallengeConsumed  = newError(KindSecurityGate, "challenge already consumed")
	ErrSubjectMismatch    = newError(KindSecurityGate, "challenge subject mismatch")
	ErrInvalidProofOfWork = newError(KindSecurityGate, "invalid proof of work")

	ErrInvalidCredentials = newError(KindCredential, "invalid username or password")

	ErrSessionInvalid = newError(KindCredential, "session is invalid")
	ErrSessionExpired = newError(KindCredential, "session has expired")
	ErrSessionRevoked = newError(KindCredential, "session has been revoked")

	ErrNotFound       = errors.New("not found")
	ErrInvalidToken   = errors.New("invalid token")
	ErrStoreFailure   = errors.New("store operation failed")
	ErrInvalidHash    = errors.New("invalid password hash")
	ErrEmptyPassword  = errors.New("password cannot be empty")
	ErrInvalidAccount = errors.New("invalid account")
)

// KindOf classifies err by the first *Error in its chain.
// Errors without a classification are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}
