package formulas

import (
	"context"

	"wasmscan/internal/compute"
)

func registerCw20(r *compute.Registry) {
	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "cw20/balance",
		CodeIDKeys: []string{CodeIDKeyCw20},
		Docs:       "Token balance of one address. Args: address.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			address, err := e.RequiredArg("address")
			if err != nil {
				return nil, err
			}
			v, ok, err := e.Get(ctx, e.TargetAddress(), "balance", address)
			if err != nil {
				return nil, err
			}
			if !ok {
				return "0", nil
			}
			return v, nil
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "cw20/token-info",
		CodeIDKeys: []string{CodeIDKeyCw20},
		Docs:       "The token_info state: name, symbol, decimals, total supply.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			v, ok, err := e.Get(ctx, e.TargetAddress(), "token_info")
			if err != nil || !ok {
				return nil, err
			}
			return v, nil
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "cw20/total-supply",
		CodeIDKeys: []string{CodeIDKeyCw20},
		Docs:       "Total supply, read from token_info.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			v, ok, err := e.Get(ctx, e.TargetAddress(), "token_info")
			if err != nil || !ok {
				return nil, err
			}
			info, ok := v.(map[string]any)
			if !ok {
				return nil, nil
			}
			return info["total_supply"], nil
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "cw20/all-balances",
		CodeIDKeys: []string{CodeIDKeyCw20},
		Docs:       "Every holder balance, address -> amount.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			return e.GetMap(ctx, e.TargetAddress(), compute.KeyTypeString, "balance")
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "cw20/holder-count",
		CodeIDKeys: []string{CodeIDKeyCw20},
		Docs:       "Number of addresses holding a live balance entry.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			balances, err := e.GetMap(ctx, e.TargetAddress(), compute.KeyTypeString, "balance")
			if err != nil {
				return nil, err
			}
			return len(balances), nil
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "cw20/date-created",
		CodeIDKeys: []string{CodeIDKeyCw20},
		Docs:       "Timestamp of the first token_info write, Unix milliseconds.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			at, ok, err := e.GetDateKeyFirstSet(ctx, e.TargetAddress(), "token_info")
			if err != nil || !ok {
				return nil, err
			}
			return at, nil
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "cw20/holder-since",
		CodeIDKeys: []string{CodeIDKeyCw20},
		Docs:       "Timestamp of an address's first balance entry. Args: address.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			address, err := e.RequiredArg("address")
			if err != nil {
				return nil, err
			}
			at, ok, err := e.GetDateKeyFirstSet(ctx, e.TargetAddress(), "balance", address)
			if err != nil || !ok {
				return nil, err
			}
			return at, nil
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "cw20/balance-last-updated",
		CodeIDKeys: []string{CodeIDKeyCw20},
		Docs:       "Timestamp of the latest write to an address's balance entry. Args: address.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			address, err := e.RequiredArg("address")
			if err != nil {
				return nil, err
			}
			at, ok, err := e.GetDateKeyModified(ctx, e.TargetAddress(), "balance", address)
			if err != nil || !ok {
				return nil, err
			}
			return at, nil
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "cw20/summary",
		CodeIDKeys: []string{CodeIDKeyCw20},
		Docs:       "token_info plus holder count, loaded in one batched read.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			contract := e.TargetAddress()
			err := e.Prefetch(ctx, contract,
				compute.PrefetchKey{Segments: []any{"token_info"}},
				compute.PrefetchKey{Segments: []any{"balance"}, Prefix: true},
			)
			if err != nil {
				return nil, err
			}
			info, _, err := e.Get(ctx, contract, "token_info")
			if err != nil {
				return nil, err
			}
			balances, err := e.GetMap(ctx, contract, compute.KeyTypeString, "balance")
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"tokenInfo":   info,
				"holderCount": len(balances),
			}, nil
		},
	})
}
