package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wasmscan/internal/models"
)

const computationCols = `id, target_address, formula, args, block_height, block_time_unix_ms, latest_block_height_valid, output`

func scanComputation(row pgx.Row) (*models.Computation, error) {
	var c models.Computation
	err := row.Scan(&c.ID, &c.TargetAddress, &c.Formula, &c.Args, &c.BlockHeight,
		&c.BlockTimeUnixMs, &c.LatestBlockHeightValid, &c.Output)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertComputation stores a computation and its recorded dependencies,
// replacing any previous row for the same identity and block. The
// dependency side tables are rewritten wholesale; a re-evaluation may
// legitimately touch a different dependency set.
func (r *Repository) UpsertComputation(ctx context.Context, c *models.Computation) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO computations
		    (target_address, formula, args, block_height, block_time_unix_ms, latest_block_height_valid, output)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (target_address, formula, args, block_height) DO UPDATE SET
		    block_time_unix_ms = EXCLUDED.block_time_unix_ms,
		    latest_block_height_valid = EXCLUDED.latest_block_height_valid,
		    output = EXCLUDED.output
		 RETURNING id`,
		c.TargetAddress, c.Formula, c.Args, c.BlockHeight, c.BlockTimeUnixMs,
		c.LatestBlockHeightValid, []byte(c.Output),
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	for table, deps := range map[string][]models.Dependency{
		"computation_dependent_events":          c.DependentEvents,
		"computation_dependent_transformations": c.DependentTransformations,
	} {
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE computation_id = $1`, table), id); err != nil {
			return 0, err
		}
		if len(deps) == 0 {
			continue
		}
		batch := &pgx.Batch{}
		for _, dep := range deps {
			batch.Queue(
				fmt.Sprintf(`INSERT INTO %s (computation_id, key, prefix) VALUES ($1, $2, $3)`, table),
				id, dep.Key, dep.Prefix)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

// GetComputation returns the most recent stored computation at or below
// height for one identity, dependencies included.
func (r *Repository) GetComputation(ctx context.Context, targetAddress, formula, args string, height uint64) (*models.Computation, error) {
	c, err := scanComputation(r.db.QueryRow(ctx,
		`SELECT `+computationCols+` FROM computations
		 WHERE target_address = $1 AND formula = $2 AND args = $3 AND block_height <= $4
		 ORDER BY block_height DESC LIMIT 1`,
		targetAddress, formula, args, height))
	if err != nil || c == nil {
		return c, err
	}
	if err := r.loadDependencies(ctx, []*models.Computation{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// ListComputationsInRange returns stored computations for one identity
// with block height in (after, until], ascending, dependencies included.
func (r *Repository) ListComputationsInRange(ctx context.Context, targetAddress, formula, args string, after, until uint64) ([]*models.Computation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+computationCols+` FROM computations
		 WHERE target_address = $1 AND formula = $2 AND args = $3
		   AND block_height > $4 AND block_height <= $5
		 ORDER BY block_height ASC`,
		targetAddress, formula, args, after, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Computation
	for rows.Next() {
		var c models.Computation
		if err := rows.Scan(&c.ID, &c.TargetAddress, &c.Formula, &c.Args, &c.BlockHeight,
			&c.BlockTimeUnixMs, &c.LatestBlockHeightValid, &c.Output); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadDependencies(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateComputationValidity raises a computation's validity watermark to
// height. It never lowers it.
func (r *Repository) UpdateComputationValidity(ctx context.Context, id int64, height uint64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE computations
		 SET latest_block_height_valid = GREATEST(latest_block_height_valid, $2)
		 WHERE id = $1`,
		id, height)
	return err
}

func (r *Repository) loadDependencies(ctx context.Context, cs []*models.Computation) error {
	if len(cs) == 0 {
		return nil
	}
	byID := make(map[int64]*models.Computation, len(cs))
	ids := make([]int64, 0, len(cs))
	for _, c := range cs {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	for _, t := range []struct {
		table string
		dest  func(c *models.Computation, d models.Dependency)
	}{
		{"computation_dependent_events", func(c *models.Computation, d models.Dependency) {
			c.DependentEvents = append(c.DependentEvents, d)
		}},
		{"computation_dependent_transformations", func(c *models.Computation, d models.Dependency) {
			c.DependentTransformations = append(c.DependentTransformations, d)
		}},
	} {
		rows, err := r.db.Query(ctx,
			fmt.Sprintf(`SELECT computation_id, key, prefix FROM %s WHERE computation_id = ANY($1)`, t.table),
			ids)
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				id  int64
				dep models.Dependency
			)
			if err := rows.Scan(&id, &dep.Key, &dep.Prefix); err != nil {
				rows.Close()
				return err
			}
			if c, ok := byID[id]; ok {
				t.dest(c, dep)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}

// ListLatestComputations returns the most recent stored computation per
// identity, dependencies included. Used by the maintenance tools.
func (r *Repository) ListLatestComputations(ctx context.Context, limit int) ([]*models.Computation, error) {
	args := []any{}
	query := `SELECT DISTINCT ON (target_address, formula, args) ` + computationCols + `
		 FROM computations
		 ORDER BY target_address, formula, args, block_height DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Computation
	for rows.Next() {
		var c models.Computation
		if err := rows.Scan(&c.ID, &c.TargetAddress, &c.Formula, &c.Args, &c.BlockHeight,
			&c.BlockTimeUnixMs, &c.LatestBlockHeightValid, &c.Output); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadDependencies(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListComputationFormulas returns the distinct formula names present in
// the computation memo.
func (r *Repository) ListComputationFormulas(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT formula FROM computations ORDER BY formula`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// PruneComputationsBelow removes stored computations whose validity
// interval ended below height and returns the number of rows deleted.
// The dependency side tables cascade.
func (r *Repository) PruneComputationsBelow(ctx context.Context, height uint64) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM computations WHERE latest_block_height_valid < $1`, height)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteComputationsByFormula removes every stored computation for one
// formula name and returns the number of rows deleted. The dependency
// side tables cascade.
func (r *Repository) DeleteComputationsByFormula(ctx context.Context, formula string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM computations WHERE formula = $1`, formula)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
