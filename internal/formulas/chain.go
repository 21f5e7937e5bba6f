package formulas

import (
	"context"

	"wasmscan/internal/compute"
)

func registerChain(r *compute.Registry) {
	r.Register(&compute.Formula{
		Type: compute.FormulaTypeGeneric,
		Name: "chain/info",
		Docs: "Chain id and the evaluation block.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			return map[string]any{
				"chainId":     e.ChainID(),
				"blockHeight": e.Block().Height,
				"blockTime":   e.Date(),
			}, nil
		},
	})

	// Raw SQL aggregates over the whole database cannot be expressed as
	// tracked reads, so this one is dynamic: never persisted, no ranges.
	r.Register(&compute.Formula{
		Type:    compute.FormulaTypeGeneric,
		Name:    "chain/stats",
		Dynamic: true,
		Docs:    "Whole-database counters: contracts, state events, executions.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			rows, err := e.Query(ctx,
				`SELECT
				    (SELECT COUNT(*) FROM contracts) AS contracts,
				    (SELECT COUNT(*) FROM wasm_state_events WHERE block_height <= $1) AS state_events,
				    (SELECT COUNT(*) FROM wasm_tx_events WHERE block_height <= $1) AS executions`,
				e.Block().Height)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, nil
			}
			return rows[0], nil
		},
	})
}
