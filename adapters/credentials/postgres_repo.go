package credentials

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/layer-3/powgate/core"
)

// Querier is the subset of pgxpool.Pool used by the repository
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements ports.AccountRepository on the accounts table
type PostgresRepository struct {
	pool Querier
}

// NewPostgresRepository creates a repository backed by pool
func NewPostgresRepository(pool Querier) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetByUsername retrieves an account by its exact username
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*core.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, account_type FROM accounts WHERE username = $1`,
		username)

	var (
		account     core.Account
		accountType string
	)
	err := row.Scan(&account.ID, &account.Username, &account.PasswordHash, &accountType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by username").
			Wrap(err)
	}

	account.Type = core.AccountType(accountType)
	if !account.Type.Valid() {
		return nil, oops.Code("ACCOUNT_INVALID_TYPE").
			With("account_id", account.ID).
			Wrapf(core.ErrInvalidAccount, "unknown account type %q", accountType)
	}
	return &account, nil
}
