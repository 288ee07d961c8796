package credentials

import (
	"context"
	"fmt"
	"sync"

	"github.com/layer-3/powgate/core"
)

// MemoryRepository is an in-memory AccountRepository, used for static
// accounts from configuration and in tests
type MemoryRepository struct {
	mu         sync.RWMutex
	byUsername map[string]core.Account
}

// NewMemoryRepository creates a repository holding accounts
func NewMemoryRepository(accounts ...core.Account) (*MemoryRepository, error) {
	r := &MemoryRepository{byUsername: make(map[string]core.Account, len(accounts))}
	for _, a := range accounts {
		if err := r.Add(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add stores an account, rejecting duplicates and unknown account types
func (r *MemoryRepository) Add(account core.Account) error {
	if account.ID == "" || account.Username == "" || account.PasswordHash == "" {
		return fmt.Errorf("%w: id, username and password hash are required", core.ErrInvalidAccount)
	}
	if !account.Type.Valid() {
		return fmt.Errorf("%w: unknown account type %q", core.ErrInvalidAccount, account.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUsername[account.Username]; exists {
		return fmt.Errorf("%w: duplicate username %q", core.ErrInvalidAccount, account.Username)
	}
	r.byUsername[account.Username] = account
	return nil
}

// GetByUsername returns a copy of the account
func (r *MemoryRepository) GetByUsername(_ context.Context, username string) (*core.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.byUsername[username]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &account, nil
}
