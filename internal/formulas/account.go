package formulas

import (
	"context"

	"wasmscan/internal/compute"
	"wasmscan/internal/models"
)

func registerAccount(r *compute.Registry) {
	r.Register(&compute.Formula{
		Type: compute.FormulaTypeAccount,
		Name: "bank/balance",
		Docs: "One denom balance for the account. Args: denom.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			denom, err := e.RequiredArg("denom")
			if err != nil {
				return nil, err
			}
			amount, ok, err := e.GetBalance(ctx, e.TargetAddress(), denom)
			if err != nil {
				return nil, err
			}
			if !ok {
				return "0", nil
			}
			return amount, nil
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeAccount,
		Name: "bank/balances",
		Docs: "Every denom balance for the account, denom -> amount.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			balances, ok, err := e.GetBalances(ctx, e.TargetAddress())
			if err != nil || !ok {
				return nil, err
			}
			return balances, nil
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeAccount,
		Name: "feegrant/allowance",
		Docs: "The latest allowance granted to the account by a granter. Args: granter.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			granter, err := e.RequiredArg("granter")
			if err != nil {
				return nil, err
			}
			fa, ok, err := e.GetFeegrantAllowance(ctx, granter, e.TargetAddress())
			if err != nil || !ok {
				return nil, err
			}
			return feegrantView(fa), nil
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeAccount,
		Name: "feegrant/has",
		Docs: "Whether an active allowance exists from a granter. Args: granter.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			granter, err := e.RequiredArg("granter")
			if err != nil {
				return nil, err
			}
			return e.HasFeegrantAllowance(ctx, granter, e.TargetAddress())
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeAccount,
		Name: "feegrant/granted",
		Docs: "Active allowances the account has granted, one per grantee.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			return feegrantList(ctx, e, models.FeegrantSideGranted)
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeAccount,
		Name: "feegrant/received",
		Docs: "Active allowances the account has received, one per granter.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			return feegrantList(ctx, e, models.FeegrantSideReceived)
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeAccount,
		Name: "gov/vote",
		Docs: "The account's latest vote on a proposal. Args: id.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			id, err := uint64Arg(e, "id")
			if err != nil {
				return nil, err
			}
			v, ok, err := e.GetProposalVote(ctx, id, e.TargetAddress())
			if err != nil || !ok {
				return nil, err
			}
			return map[string]any{
				"proposalId":  v.ProposalID,
				"vote":        v.Data,
				"blockHeight": v.BlockHeight,
				"blockTime":   v.BlockTimeUnixMs,
			}, nil
		},
	})
}

func feegrantList(ctx context.Context, e *compute.Env, side models.FeegrantSide) (any, error) {
	fas, err := e.GetFeegrantAllowances(ctx, e.TargetAddress(), side)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(fas))
	for _, fa := range fas {
		out = append(out, feegrantView(fa))
	}
	return out, nil
}

func feegrantView(fa *models.FeegrantAllowance) map[string]any {
	return map[string]any{
		"granter":     fa.Granter,
		"grantee":     fa.Grantee,
		"allowance":   fa.AllowanceData,
		"type":        fa.AllowanceType,
		"active":      fa.Active,
		"blockHeight": fa.BlockHeight,
		"blockTime":   fa.BlockTimeUnixMs,
	}
}
