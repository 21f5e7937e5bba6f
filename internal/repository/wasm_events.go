package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"wasmscan/internal/models"
)

// globToLike translates the formula-facing glob syntax ('*' wildcard) to
// a SQL LIKE pattern, escaping LIKE metacharacters in the literal parts.
func globToLike(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteByte('%')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// likePrefix escapes a literal string for use as a LIKE prefix pattern.
func likePrefix(prefix string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(prefix) + "%"
}

const wasmStateCols = `contract_address, key, value, deleted, block_height, block_time_unix_ms`

func scanWasmStateEvent(row pgx.Row) (*models.WasmStateEvent, error) {
	var ev models.WasmStateEvent
	err := row.Scan(&ev.ContractAddress, &ev.Key, &ev.Value, &ev.Deleted, &ev.BlockHeight, &ev.BlockTimeUnixMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func collectWasmStateEvents(rows pgx.Rows) ([]*models.WasmStateEvent, error) {
	defer rows.Close()
	var out []*models.WasmStateEvent
	for rows.Next() {
		var ev models.WasmStateEvent
		if err := rows.Scan(&ev.ContractAddress, &ev.Key, &ev.Value, &ev.Deleted, &ev.BlockHeight, &ev.BlockTimeUnixMs); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// GetWasmStateEvent returns the most recent write to one storage key at
// or below height, tombstones included.
func (r *Repository) GetWasmStateEvent(ctx context.Context, contract, key string, height uint64) (*models.WasmStateEvent, error) {
	return scanWasmStateEvent(r.db.QueryRow(ctx,
		`SELECT `+wasmStateCols+` FROM wasm_state_events
		 WHERE contract_address = $1 AND key = $2 AND block_height <= $3
		 ORDER BY block_height DESC LIMIT 1`,
		contract, key, height))
}

// GetFirstWasmStateEvent returns the earliest live write to one storage
// key at or below height. valueMatch, when non-nil, is a JSONB
// containment predicate the stored value must satisfy.
func (r *Repository) GetFirstWasmStateEvent(ctx context.Context, contract, key string, height uint64, valueMatch []byte) (*models.WasmStateEvent, error) {
	query := `SELECT ` + wasmStateCols + ` FROM wasm_state_events
		 WHERE contract_address = $1 AND key = $2 AND block_height <= $3 AND NOT deleted`
	args := []any{contract, key, height}
	if valueMatch != nil {
		args = append(args, valueMatch)
		query += fmt.Sprintf(" AND value @> $%d::jsonb", len(args))
	}
	query += ` ORDER BY block_height ASC LIMIT 1`
	return scanWasmStateEvent(r.db.QueryRow(ctx, query, args...))
}

// ListWasmStateEventsByPrefix returns the latest write per storage key
// under a byte prefix at or below height. Tombstones are returned so the
// caller can apply shadowing.
func (r *Repository) ListWasmStateEventsByPrefix(ctx context.Context, contract, keyPrefix string, height uint64) ([]*models.WasmStateEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (key) `+wasmStateCols+` FROM wasm_state_events
		 WHERE contract_address = $1 AND key LIKE $2 AND block_height <= $3
		 ORDER BY key, block_height DESC`,
		contract, likePrefix(keyPrefix), height)
	if err != nil {
		return nil, err
	}
	return collectWasmStateEvents(rows)
}

// ListWasmStateEventsForKeys batch-loads the latest write per key for a
// mix of exact keys and key prefixes in a single query.
func (r *Repository) ListWasmStateEventsForKeys(ctx context.Context, contract string, keys, prefixes []string, height uint64) ([]*models.WasmStateEvent, error) {
	if len(keys) == 0 && len(prefixes) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, 1+len(prefixes))
	args := []any{contract, height}
	if len(keys) > 0 {
		args = append(args, keys)
		clauses = append(clauses, fmt.Sprintf("key = ANY($%d)", len(args)))
	}
	for _, p := range prefixes {
		args = append(args, likePrefix(p))
		clauses = append(clauses, fmt.Sprintf("key LIKE $%d", len(args)))
	}

	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (key) `+wasmStateCols+` FROM wasm_state_events
		 WHERE contract_address = $1 AND block_height <= $2 AND (`+strings.Join(clauses, " OR ")+`)
		 ORDER BY key, block_height DESC`,
		args...)
	if err != nil {
		return nil, err
	}
	return collectWasmStateEvents(rows)
}

// --- transformations ---

const transformationCols = `contract_address, name, value, block_height, block_time_unix_ms`

func collectTransformations(rows pgx.Rows) ([]*models.Transformation, error) {
	defer rows.Close()
	var out []*models.Transformation
	for rows.Next() {
		var t models.Transformation
		if err := rows.Scan(&t.ContractAddress, &t.Name, &t.Value, &t.BlockHeight, &t.BlockTimeUnixMs); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// ListTransformations returns the latest transformation per
// (contract, name) slot matching a name pattern at or below height. An
// empty contract matches any contract. '*' in nameLike (and whereName) is
// a wildcard; prefix appends an implicit trailing wildcard instead.
// Rows whose latest value is NULL are returned so callers can shadow.
func (r *Repository) ListTransformations(ctx context.Context, contract, nameLike string, prefix bool, whereName string, valueWhere []byte, height uint64) ([]*models.Transformation, error) {
	pattern := globToLike(nameLike)
	if prefix {
		pattern = likePrefix(nameLike)
	}

	args := []any{pattern, height}
	query := `SELECT DISTINCT ON (contract_address, name) ` + transformationCols + `
		 FROM wasm_state_transformations
		 WHERE name LIKE $1 AND block_height <= $2`
	if contract != "" {
		args = append(args, contract)
		query += fmt.Sprintf(" AND contract_address = $%d", len(args))
	}
	if whereName != "" {
		args = append(args, globToLike(whereName))
		query += fmt.Sprintf(" AND name LIKE $%d", len(args))
	}
	if valueWhere != nil {
		args = append(args, valueWhere)
		query += fmt.Sprintf(" AND value @> $%d::jsonb", len(args))
	}
	query += ` ORDER BY contract_address, name, block_height DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTransformations(rows)
}

// ListTransformationsForNames batch-loads the latest transformation per
// name for a mix of exact names and name prefixes on one contract.
func (r *Repository) ListTransformationsForNames(ctx context.Context, contract string, names, prefixes []string, height uint64) ([]*models.Transformation, error) {
	if len(names) == 0 && len(prefixes) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, 1+len(prefixes))
	args := []any{contract, height}
	if len(names) > 0 {
		args = append(args, names)
		clauses = append(clauses, fmt.Sprintf("name = ANY($%d)", len(args)))
	}
	for _, p := range prefixes {
		args = append(args, likePrefix(p))
		clauses = append(clauses, fmt.Sprintf("name LIKE $%d", len(args)))
	}

	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (name) `+transformationCols+` FROM wasm_state_transformations
		 WHERE contract_address = $1 AND block_height <= $2 AND (`+strings.Join(clauses, " OR ")+`)
		 ORDER BY name, block_height DESC`,
		args...)
	if err != nil {
		return nil, err
	}
	return collectTransformations(rows)
}

// GetFirstTransformation returns the earliest live transformation
// matching the pattern at or below height.
func (r *Repository) GetFirstTransformation(ctx context.Context, contract, nameLike, whereName string, height uint64) (*models.Transformation, error) {
	args := []any{globToLike(nameLike), height}
	query := `SELECT ` + transformationCols + ` FROM wasm_state_transformations
		 WHERE name LIKE $1 AND block_height <= $2 AND value IS NOT NULL`
	if contract != "" {
		args = append(args, contract)
		query += fmt.Sprintf(" AND contract_address = $%d", len(args))
	}
	if whereName != "" {
		args = append(args, globToLike(whereName))
		query += fmt.Sprintf(" AND name LIKE $%d", len(args))
	}
	query += ` ORDER BY block_height ASC LIMIT 1`

	var t models.Transformation
	err := r.db.QueryRow(ctx, query, args...).Scan(&t.ContractAddress, &t.Name, &t.Value, &t.BlockHeight, &t.BlockTimeUnixMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- wasm execution events ---

// ListWasmTxEvents returns a contract's execution events at or below
// height, most recent first. msgWhere, when non-nil, is a JSONB
// containment predicate on the execute msg; limit of 0 means no limit.
func (r *Repository) ListWasmTxEvents(ctx context.Context, contract string, msgWhere []byte, limit int, height uint64) ([]*models.WasmTxEvent, error) {
	args := []any{contract, height}
	query := `SELECT contract_address, sender, action, msg, funds, reply, tx_index, message_index, block_height, block_time_unix_ms
		 FROM wasm_tx_events
		 WHERE contract_address = $1 AND block_height <= $2`
	if msgWhere != nil {
		args = append(args, msgWhere)
		query += fmt.Sprintf(" AND msg @> $%d::jsonb", len(args))
	}
	query += ` ORDER BY block_height DESC, tx_index DESC, message_index DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WasmTxEvent
	for rows.Next() {
		var ev models.WasmTxEvent
		if err := rows.Scan(&ev.ContractAddress, &ev.Sender, &ev.Action, &ev.Msg, &ev.Funds, &ev.Reply,
			&ev.TxIndex, &ev.MessageIndex, &ev.BlockHeight, &ev.BlockTimeUnixMs); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
