// Package credentials verifies username/password pairs against stored accounts.
package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/layer-3/powgate/core"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Upper bounds on the cost parameters read from stored hashes
const (
	maxArgon2Memory = 256 * 1024 // KiB
	maxArgon2Time   = 16
	maxBcryptCost   = 14
)

// Argon2Params are the argon2id cost parameters used for new hashes
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultArgon2Params follow the OWASP recommendation
var DefaultArgon2Params = Argon2Params{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	SaltLen: 16,
	KeyLen:  32,
}

// Hasher produces argon2id PHC strings and verifies argon2id and legacy bcrypt hashes
type Hasher struct {
	params Argon2Params
}

// NewHasher creates a hasher with the given parameters
func NewHasher(params Argon2Params) *Hasher {
	return &Hasher{params: params}
}

// Hash produces an argon2id hash of the password
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", core.ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encodedHash.
// A malformed hash is an error, a mismatch is (false, nil).
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	if isBcrypt(encodedHash) {
		cost, err := bcrypt.Cost([]byte(encodedHash))
		if err != nil {
			return false, fmt.Errorf("%w: %v", core.ErrInvalidHash, err)
		}
		if cost > maxBcryptCost {
			return false, fmt.Errorf("%w: bcrypt cost %d above %d", core.ErrInvalidHash, cost, maxBcryptCost)
		}

		err = bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", core.ErrInvalidHash, err)
		}
	}

	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("%w: unexpected format", core.ErrInvalidHash)
	}
	if parts[1] != "argon2id" {
		return false, fmt.Errorf("%w: unsupported algorithm %q", core.ErrInvalidHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("%w: unsupported version %d", core.ErrInvalidHash, version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrInvalidHash, err)
	}
	if threads == 0 || threads > 255 || time == 0 {
		return false, fmt.Errorf("%w: bad parameters", core.ErrInvalidHash)
	}
	if memory > maxArgon2Memory || time > maxArgon2Time {
		return false, fmt.Errorf("%w: cost m=%d,t=%d above limit", core.ErrInvalidHash, memory, time)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrInvalidHash, err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrInvalidHash, err)
	}
	if len(expected) == 0 || len(expected) > 1024 {
		return false, fmt.Errorf("%w: bad key length %d", core.ErrInvalidHash, len(expected))
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, uint8(threads), uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// NeedsUpgrade reports whether the hash should be replaced by an argon2id
// hash with the current parameters
func (h *Hasher) NeedsUpgrade(encodedHash string) bool {
	if !strings.HasPrefix(encodedHash, "$argon2id$") {
		return true
	}
	want := fmt.Sprintf("$m=%d,t=%d,p=%d$", h.params.Memory, h.params.Time, h.params.Threads)
	return !strings.Contains(encodedHash, want)
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}
