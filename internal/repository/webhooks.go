package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"wasmscan/internal/models"
)

const webhookSubCols = `id, account_id, formula_type, target_address, formula, args, url, secret, active, last_output, COALESCE(last_block_height, 0), created_at`

func scanWebhookSubscription(row pgx.Row) (*models.WebhookSubscription, error) {
	var s models.WebhookSubscription
	err := row.Scan(&s.ID, &s.AccountID, &s.FormulaType, &s.TargetAddress, &s.Formula, &s.Args,
		&s.URL, &s.Secret, &s.Active, &s.LastOutput, &s.LastBlockHeight, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) CreateWebhookSubscription(ctx context.Context, s *models.WebhookSubscription) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO webhook_subscriptions
		    (id, account_id, formula_type, target_address, formula, args, url, secret, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		 RETURNING created_at`,
		s.ID, s.AccountID, s.FormulaType, s.TargetAddress, s.Formula, s.Args, s.URL, s.Secret,
	).Scan(&s.CreatedAt)
}

func (r *Repository) GetWebhookSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	return scanWebhookSubscription(r.db.QueryRow(ctx,
		`SELECT `+webhookSubCols+` FROM webhook_subscriptions WHERE id = $1`, id))
}

// ListWebhookSubscriptionsByAccount returns an account's subscriptions,
// newest first.
func (r *Repository) ListWebhookSubscriptionsByAccount(ctx context.Context, accountID string) ([]*models.WebhookSubscription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+webhookSubCols+` FROM webhook_subscriptions
		 WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	return collectWebhookSubscriptions(rows)
}

// ListActiveWebhookSubscriptions returns every subscription the monitor
// should evaluate.
func (r *Repository) ListActiveWebhookSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+webhookSubCols+` FROM webhook_subscriptions WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collectWebhookSubscriptions(rows)
}

func collectWebhookSubscriptions(rows pgx.Rows) ([]*models.WebhookSubscription, error) {
	defer rows.Close()
	var out []*models.WebhookSubscription
	for rows.Next() {
		var s models.WebhookSubscription
		if err := rows.Scan(&s.ID, &s.AccountID, &s.FormulaType, &s.TargetAddress, &s.Formula, &s.Args,
			&s.URL, &s.Secret, &s.Active, &s.LastOutput, &s.LastBlockHeight, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// SetWebhookSubscriptionActive flips a subscription on or off, scoped to
// its owning account.
func (r *Repository) SetWebhookSubscriptionActive(ctx context.Context, id, accountID string, active bool) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_subscriptions SET active = $3 WHERE id = $1 AND account_id = $2`,
		id, accountID, active)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteWebhookSubscription removes a subscription, scoped to its owning
// account.
func (r *Repository) DeleteWebhookSubscription(ctx context.Context, id, accountID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM webhook_subscriptions WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateWebhookSubscriptionValue records the value most recently seen
// (and delivered) for a subscription.
func (r *Repository) UpdateWebhookSubscriptionValue(ctx context.Context, id string, output []byte, blockHeight uint64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE webhook_subscriptions SET last_output = $2, last_block_height = $3 WHERE id = $1`,
		id, output, blockHeight)
	return err
}

// LogWebhookDelivery appends one delivery attempt to the audit log.
func (r *Repository) LogWebhookDelivery(ctx context.Context, d *models.WebhookDeliveryRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (id, subscription_id, block_height, output, succeeded, error)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))`,
		d.ID, d.SubscriptionID, d.BlockHeight, []byte(d.Output), d.Succeeded, d.Error)
	return err
}
