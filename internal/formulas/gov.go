package formulas

import (
	"context"

	"wasmscan/internal/compute"
	"wasmscan/internal/models"
)

func registerGov(r *compute.Registry) {
	r.Register(&compute.Formula{
		Type: compute.FormulaTypeGeneric,
		Name: "gov/proposal",
		Docs: "The latest snapshot of one proposal. Args: id.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			id, err := uint64Arg(e, "id")
			if err != nil {
				return nil, err
			}
			p, ok, err := e.GetProposal(ctx, id)
			if err != nil || !ok {
				return nil, err
			}
			return proposalView(p), nil
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeGeneric,
		Name: "gov/proposals",
		Docs: "The latest snapshot of every proposal, by id. Args: ascending, limit, offset.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			limit, err := intArg(e, "limit", 0)
			if err != nil {
				return nil, err
			}
			offset, err := intArg(e, "offset", 0)
			if err != nil {
				return nil, err
			}
			ps, err := e.GetProposals(ctx, boolArg(e, "ascending"), limit, offset)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(ps))
			for _, p := range ps {
				out = append(out, proposalView(p))
			}
			return out, nil
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeGeneric,
		Name: "gov/proposal-count",
		Docs: "How many distinct proposals exist.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			return e.GetProposalCount(ctx)
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeGeneric,
		Name: "gov/proposal-votes",
		Docs: "The latest vote per voter on a proposal. Args: id, ascending, limit, offset.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			id, err := uint64Arg(e, "id")
			if err != nil {
				return nil, err
			}
			limit, err := intArg(e, "limit", 0)
			if err != nil {
				return nil, err
			}
			offset, err := intArg(e, "offset", 0)
			if err != nil {
				return nil, err
			}
			vs, err := e.GetProposalVotes(ctx, id, boolArg(e, "ascending"), limit, offset)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(vs))
			for _, v := range vs {
				out = append(out, map[string]any{
					"voter":       v.VoterAddress,
					"vote":        v.Data,
					"blockHeight": v.BlockHeight,
					"blockTime":   v.BlockTimeUnixMs,
				})
			}
			return out, nil
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeGeneric,
		Name: "gov/proposal-vote-count",
		Docs: "How many distinct voters have voted on a proposal. Args: id.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			id, err := uint64Arg(e, "id")
			if err != nil {
				return nil, err
			}
			return e.GetProposalVoteCount(ctx, id)
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeGeneric,
		Name: "community-pool/balances",
		Docs: "The community pool balances, denom -> amount.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			balances, ok, err := e.GetCommunityPoolBalances(ctx)
			if err != nil || !ok {
				return nil, err
			}
			return balances, nil
		},
	})
}

func proposalView(p *models.GovProposal) map[string]any {
	return map[string]any{
		"id":          p.ProposalID,
		"proposal":    p.Data,
		"blockHeight": p.BlockHeight,
		"blockTime":   p.BlockTimeUnixMs,
	}
}
