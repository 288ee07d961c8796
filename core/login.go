package core

import "time"

// LoginState is a step of the login handshake
type LoginState string

const (
	StateIdle                LoginState = "idle"
	StateChallengeIssued     LoginState = "challenge_issued"
	StateCSRFVerified        LoginState = "csrf_verified"
	StatePoWVerified         LoginState = "pow_verified"
	StateCredentialsVerified LoginState = "credentials_verified"
	StateSessionIssued       LoginState = "session_issued"
	StateRejected            LoginState = "rejected"
)

// Terminal reports whether no further transition is possible from s
func (s LoginState) Terminal() bool {
	return s == StateSessionIssued || s == StateRejected
}

// Gate names, used for audit events and metrics labels
const (
	GateValidation  = "validation"
	GateCSRF        = "csrf"
	GatePoW         = "pow"
	GateCredentials = "credentials"
	GateSession     = "session"
)

// AuditEvent describes a rejected login attempt
type AuditEvent struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`   // error class, see Kind.String
	Gate          string    `json:"gate"`   // gate that rejected the attempt
	Reason        string    `json:"reason"` // internal diagnostic code, never sent to clients
	Username      string    `json:"username"`
	ClientAddress string    `json:"client_address"`
	Timestamp     time.Time `json:"timestamp"`
}
