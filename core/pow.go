package core

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

// MaxDifficulty is the length of a hex encoded SHA-256 digest
const MaxDifficulty = sha256.Size * 2

// ErrNoSolution is returned by Solve when the iteration budget runs out
var ErrNoSolution = errors.New("no solution found")

// HashSolution returns the lowercase hex SHA-256 of id + nonce
func HashSolution(id, nonce string) string {
	sum := sha256.Sum256([]byte(id + nonce))
	return hex.EncodeToString(sum[:])
}

// LeadingZeroHex counts the leading '0' characters of a hex string
func LeadingZeroHex(h string) int {
	n := 0
	for n < len(h) && h[n] == '0' {
		n++
	}
	return n
}

// VerifyPoW recomputes the solution hash server side and checks it against the
// client claim and the difficulty. It has no side effects; single use is the
// challenge store's job.
func VerifyPoW(challenge *Challenge, difficulty int, nonce, claimedHash string) bool {
	if challenge == nil || challenge.ID == "" {
		return false
	}
	if difficulty < 0 || difficulty > MaxDifficulty {
		return false
	}

	computed := HashSolution(challenge.ID, nonce)
	claimed := strings.ToLower(claimedHash)

	// Both operands are evaluated before combining
	matches := subtle.ConstantTimeCompare([]byte(computed), []byte(claimed)) == 1
	enough := LeadingZeroHex(computed) >= difficulty

	return matches && enough
}

// Solve brute forces a nonce for challengeID, trying decimal nonces from 0.
// Expected work is 16^difficulty hashes.
func Solve(ctx context.Context, challengeID string, difficulty int, maxIterations int) (nonce string, hash string, err error) {
	if difficulty < 0 || difficulty > MaxDifficulty {
		return "", "", ErrMalformedField
	}

	prefix := strings.Repeat("0", difficulty)
	for i := 0; i < maxIterations; i++ {
		if i&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				return "", "", err
			}
		}
		candidate := strconv.Itoa(i)
		h := HashSolution(challengeID, candidate)
		if strings.HasPrefix(h, prefix) {
			return candidate, h, nil
		}
	}

	return "", "", ErrNoSolution
}
