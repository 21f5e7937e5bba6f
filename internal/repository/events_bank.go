package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"wasmscan/internal/models"
)

// GetBankBalance returns the full-wallet balances snapshot for an
// address, provided the snapshot was taken at or below height. The
// snapshot table holds one row per address, bumped in place by the
// exporter, so an at-or-below miss means the snapshot is from the
// future relative to the queried block.
func (r *Repository) GetBankBalance(ctx context.Context, address string, height uint64) (*models.BankBalance, error) {
	var b models.BankBalance
	err := r.db.QueryRow(ctx,
		`SELECT address, balances, block_height, block_time_unix_ms
		 FROM bank_balances WHERE address = $1 AND block_height <= $2`,
		address, height,
	).Scan(&b.Address, &b.Balances, &b.BlockHeight, &b.BlockTimeUnixMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBankStateEvent returns the latest per-denom balance write for an
// address at or below height.
func (r *Repository) GetBankStateEvent(ctx context.Context, address, denom string, height uint64) (*models.BankStateEvent, error) {
	var ev models.BankStateEvent
	err := r.db.QueryRow(ctx,
		`SELECT address, denom, balance, block_height, block_time_unix_ms
		 FROM bank_state_events
		 WHERE address = $1 AND denom = $2 AND block_height <= $3
		 ORDER BY block_height DESC LIMIT 1`,
		address, denom, height,
	).Scan(&ev.Address, &ev.Denom, &ev.Balance, &ev.BlockHeight, &ev.BlockTimeUnixMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListBankStateEvents returns the latest balance write per denom for an
// address at or below height.
func (r *Repository) ListBankStateEvents(ctx context.Context, address string, height uint64) ([]*models.BankStateEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (denom) address, denom, balance, block_height, block_time_unix_ms
		 FROM bank_state_events
		 WHERE address = $1 AND block_height <= $2
		 ORDER BY denom, block_height DESC`,
		address, height)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.BankStateEvent
	for rows.Next() {
		var ev models.BankStateEvent
		if err := rows.Scan(&ev.Address, &ev.Denom, &ev.Balance, &ev.BlockHeight, &ev.BlockTimeUnixMs); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// ListSlashEvents returns a validator's slashes registered at or below
// height, most recent registration first.
func (r *Repository) ListSlashEvents(ctx context.Context, operatorAddress string, height uint64) ([]*models.StakingSlashEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT validator_operator_address, registered_block_height, registered_block_time_unix_ms,
		        infraction_block_height, slash_factor, amount_slashed, effective_fraction, staked_tokens_burned
		 FROM staking_slash_events
		 WHERE validator_operator_address = $1 AND registered_block_height <= $2
		 ORDER BY registered_block_height DESC`,
		operatorAddress, height)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.StakingSlashEvent
	for rows.Next() {
		var ev models.StakingSlashEvent
		if err := rows.Scan(&ev.ValidatorOperatorAddress, &ev.RegisteredBlockHeight, &ev.RegisteredBlockTimeUnixMs,
			&ev.InfractionBlockHeight, &ev.SlashFactor, &ev.AmountSlashed, &ev.EffectiveFraction, &ev.StakedTokensBurned); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// GetCommunityPool returns the most recent community pool snapshot at or
// below height.
func (r *Repository) GetCommunityPool(ctx context.Context, height uint64) (*models.CommunityPoolSnapshot, error) {
	var s models.CommunityPoolSnapshot
	err := r.db.QueryRow(ctx,
		`SELECT balances, block_height, block_time_unix_ms
		 FROM community_pool_snapshots
		 WHERE block_height <= $1
		 ORDER BY block_height DESC LIMIT 1`,
		height,
	).Scan(&s.Balances, &s.BlockHeight, &s.BlockTimeUnixMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetExtraction returns the latest named extraction for an address at or
// below height.
func (r *Repository) GetExtraction(ctx context.Context, address, name string, height uint64) (*models.Extraction, error) {
	var ex models.Extraction
	err := r.db.QueryRow(ctx,
		`SELECT address, name, data, COALESCE(tx_hash, ''), block_height, block_time_unix_ms
		 FROM extractions
		 WHERE address = $1 AND name = $2 AND block_height <= $3
		 ORDER BY block_height DESC LIMIT 1`,
		address, name, height,
	).Scan(&ex.Address, &ex.Name, &ex.Data, &ex.TxHash, &ex.BlockHeight, &ex.BlockTimeUnixMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ex, nil
}

const feegrantCols = `granter, grantee, allowance_data, COALESCE(allowance_type, ''), active, block_height, block_time_unix_ms`

// GetFeegrantAllowance returns the latest allowance row between a
// granter and grantee at or below height, revocations included.
func (r *Repository) GetFeegrantAllowance(ctx context.Context, granter, grantee string, height uint64) (*models.FeegrantAllowance, error) {
	var fa models.FeegrantAllowance
	err := r.db.QueryRow(ctx,
		`SELECT `+feegrantCols+` FROM feegrant_allowances
		 WHERE granter = $1 AND grantee = $2 AND block_height <= $3
		 ORDER BY block_height DESC LIMIT 1`,
		granter, grantee, height,
	).Scan(&fa.Granter, &fa.Grantee, &fa.AllowanceData, &fa.AllowanceType, &fa.Active, &fa.BlockHeight, &fa.BlockTimeUnixMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fa, nil
}

// ListFeegrantAllowances returns the allowances an address has granted
// or received: the latest row per counterparty, keeping only pairs whose
// latest row is still active.
func (r *Repository) ListFeegrantAllowances(ctx context.Context, address string, side models.FeegrantSide, height uint64) ([]*models.FeegrantAllowance, error) {
	var addrCol, peerCol string
	switch side {
	case models.FeegrantSideGranted:
		addrCol, peerCol = "granter", "grantee"
	case models.FeegrantSideReceived:
		addrCol, peerCol = "grantee", "granter"
	default:
		return nil, errors.New("unknown feegrant side " + string(side))
	}

	rows, err := r.db.Query(ctx,
		`SELECT * FROM (
		    SELECT DISTINCT ON (`+peerCol+`) `+feegrantCols+`
		    FROM feegrant_allowances
		    WHERE `+addrCol+` = $1 AND block_height <= $2
		    ORDER BY `+peerCol+`, block_height DESC
		 ) latest WHERE active`,
		address, height)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.FeegrantAllowance
	for rows.Next() {
		var fa models.FeegrantAllowance
		if err := rows.Scan(&fa.Granter, &fa.Grantee, &fa.AllowanceData, &fa.AllowanceType, &fa.Active, &fa.BlockHeight, &fa.BlockTimeUnixMs); err != nil {
			return nil, err
		}
		out = append(out, &fa)
	}
	return out, rows.Err()
}
