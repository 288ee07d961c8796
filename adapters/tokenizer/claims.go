package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims combines standard claims with session-specific ones
type SessionClaims struct {
	jwt.RegisteredClaims
	SubjectType string `json:"typ"`  // Account role
	Username    string `json:"name"` // Account username
}
