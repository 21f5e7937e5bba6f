package formulas

import (
	"context"

	"wasmscan/internal/compute"
)

func registerContract(r *compute.Registry) {
	r.Register(&compute.Formula{
		Type: compute.FormulaTypeContract,
		Name: "contract/info",
		Docs: "Registry row for the contract plus its configured code-id key.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			c, ok, err := e.GetContract(ctx, e.TargetAddress())
			if err != nil || !ok {
				return nil, err
			}
			out := map[string]any{
				"address":              c.Address,
				"codeId":               c.CodeID,
				"admin":                c.Admin,
				"creator":              c.Creator,
				"label":                c.Label,
				"instantiatedAtHeight": c.InstantiatedAtBlockHeight,
				"instantiatedAt":       c.InstantiatedAtBlockTimeUnixMs,
			}
			if key, ok, err := e.GetCodeIDKeyForContract(ctx, c.Address); err != nil {
				return nil, err
			} else if ok {
				out["codeIdKey"] = key
			}
			return out, nil
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeContract,
		Name: "contract/activity",
		Docs: "Recent executions against the contract, newest first. Args: limit, action.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			limit, err := intArg(e, "limit", 50)
			if err != nil {
				return nil, err
			}
			var msgWhere map[string]any
			if action, ok := e.Arg("action"); ok && action != "" {
				msgWhere = map[string]any{action: map[string]any{}}
			}
			events, err := e.GetTxEvents(ctx, e.TargetAddress(), msgWhere, limit)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(events))
			for _, ev := range events {
				out = append(out, map[string]any{
					"sender":      ev.Sender,
					"action":      ev.Action,
					"blockHeight": ev.BlockHeight,
					"blockTime":   ev.BlockTimeUnixMs,
				})
			}
			return out, nil
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeContract,
		Name: "contract/execution-count",
		Docs: "How many executions the contract has seen.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			events, err := e.GetTxEvents(ctx, e.TargetAddress(), nil, 0)
			if err != nil {
				return nil, err
			}
			return len(events), nil
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeContract,
		Name: "contract/extraction",
		Docs: "The latest named extraction for the contract. Args: name.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			name, err := e.RequiredArg("name")
			if err != nil {
				return nil, err
			}
			ex, ok, err := e.GetExtraction(ctx, e.TargetAddress(), name)
			if err != nil || !ok {
				return nil, err
			}
			return map[string]any{
				"name":        ex.Name,
				"data":        ex.Data,
				"txHash":      ex.TxHash,
				"blockHeight": ex.BlockHeight,
				"blockTime":   ex.BlockTimeUnixMs,
			}, nil
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeContract,
		Name: "contract/balances",
		Docs: "The contract's bank balances, denom -> amount.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			balances, ok, err := e.GetBalances(ctx, e.TargetAddress())
			if err != nil || !ok {
				return nil, err
			}
			return balances, nil
		},
	})
}
