package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"wasmscan/internal/models"
)

// ErrInsufficientCredits is returned by ChargeCredits when an account's
// balance cannot cover the charge.
var ErrInsufficientCredits = errors.New("insufficient credits")

// GetAccountByKeyHash resolves an API key (by its sha256 hex digest) to
// an account, nil when no account owns the key.
func (r *Repository) GetAccountByKeyHash(ctx context.Context, keyHash string) (*models.Account, error) {
	var a models.Account
	err := r.db.QueryRow(ctx,
		`SELECT id, name, api_key_hash, credits_remaining, created_at
		 FROM accounts WHERE api_key_hash = $1`,
		keyHash,
	).Scan(&a.ID, &a.Name, &a.APIKeyHash, &a.CreditsRemaining, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account and returns it.
func (r *Repository) CreateAccount(ctx context.Context, id, name, keyHash string, credits int64) (*models.Account, error) {
	var a models.Account
	err := r.db.QueryRow(ctx,
		`INSERT INTO accounts (id, name, api_key_hash, credits_remaining)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, api_key_hash, credits_remaining, created_at`,
		id, name, keyHash, credits,
	).Scan(&a.ID, &a.Name, &a.APIKeyHash, &a.CreditsRemaining, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ChargeCredits atomically deducts amount from an account and logs the
// usage. The conditional UPDATE is the balance check; a zero-row result
// means the balance was too low and nothing is charged.
func (r *Repository) ChargeCredits(ctx context.Context, accountID string, amount int64, endpoint string) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var remaining int64
	err = tx.QueryRow(ctx,
		`UPDATE accounts SET credits_remaining = credits_remaining - $2
		 WHERE id = $1 AND credits_remaining >= $2
		 RETURNING credits_remaining`,
		accountID, amount,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_usage (account_id, amount, endpoint) VALUES ($1, $2, $3)`,
		accountID, amount, endpoint); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return remaining, nil
}

// AddCredits tops up an account's balance and returns the new balance.
func (r *Repository) AddCredits(ctx context.Context, accountID string, amount int64) (int64, error) {
	var remaining int64
	err := r.db.QueryRow(ctx,
		`UPDATE accounts SET credits_remaining = credits_remaining + $2
		 WHERE id = $1 RETURNING credits_remaining`,
		accountID, amount,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.New("account not found")
	}
	return remaining, err
}
