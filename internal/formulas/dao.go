package formulas

import (
	"context"
	"strconv"

	"wasmscan/internal/compute"
)

func registerDao(r *compute.Registry) {
	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "dao/config",
		CodeIDKeys: []string{CodeIDKeyDao},
		Docs:       "The DAO's config transformation.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			m, err := e.GetTransformationMatch(ctx, e.TargetAddress(), "config", nil)
			if err != nil || m == nil {
				return nil, err
			}
			return m.Value, nil
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "dao/proposals",
		CodeIDKeys: []string{CodeIDKeyDao},
		Docs:       "Every proposal transformation, id -> proposal.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			return e.GetTransformationMap(ctx, e.TargetAddress(), "proposal")
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "dao/proposal",
		CodeIDKeys: []string{CodeIDKeyDao},
		Docs:       "One proposal transformation. Args: id.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			id, err := uint64Arg(e, "id")
			if err != nil {
				return nil, err
			}
			m, err := e.GetTransformationMatch(ctx, e.TargetAddress(),
				"proposal:"+strconv.FormatUint(id, 10), nil)
			if err != nil || m == nil {
				return nil, err
			}
			return m.Value, nil
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "dao/proposal-count",
		CodeIDKeys: []string{CodeIDKeyDao},
		Docs:       "Number of live proposal transformations.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			proposals, err := e.GetTransformationMap(ctx, e.TargetAddress(), "proposal")
			if err != nil {
				return nil, err
			}
			return len(proposals), nil
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "dao/date-created",
		CodeIDKeys: []string{CodeIDKeyDao},
		Docs:       "Timestamp of the DAO's first config transformation.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			at, ok, err := e.GetDateFirstTransformed(ctx, e.TargetAddress(), "config", "")
			if err != nil || !ok {
				return nil, err
			}
			return at, nil
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "dao/proposal-status-since",
		CodeIDKeys: []string{CodeIDKeyDao},
		Docs:       "Timestamp a proposal first reached a status. Args: id, status.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			id, err := uint64Arg(e, "id")
			if err != nil {
				return nil, err
			}
			status, err := e.RequiredArg("status")
			if err != nil {
				return nil, err
			}
			at, ok, err := e.GetDateKeyFirstSetWithValueMatch(ctx, e.TargetAddress(),
				map[string]any{"status": status}, "proposals", id)
			if err != nil || !ok {
				return nil, err
			}
			return at, nil
		},
	})

	r.Register(&compute.Formula{
		Type:       compute.FormulaTypeContract,
		Name:       "dao/summary",
		CodeIDKeys: []string{CodeIDKeyDao},
		Docs:       "Config plus proposal count, loaded in one batched read.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			contract := e.TargetAddress()
			err := e.PrefetchTransformations(ctx, contract,
				compute.PrefetchName{Name: "config"},
				compute.PrefetchName{Name: "proposal", Prefix: true},
			)
			if err != nil {
				return nil, err
			}
			config, err := e.GetTransformationMatch(ctx, contract, "config", nil)
			if err != nil {
				return nil, err
			}
			proposals, err := e.GetTransformationMap(ctx, contract, "proposal")
			if err != nil {
				return nil, err
			}
			out := map[string]any{"proposalCount": len(proposals)}
			if config != nil {
				out["config"] = config.Value
			}
			return out, nil
		},
	})

	// Generic: every DAO on the chain, discovered through the config
	// transformation across contracts in the dao code-id sets.
	r.Register(&compute.Formula{
		Type: compute.FormulaTypeGeneric,
		Name: "dao/list",
		Docs: "Every DAO with a live config transformation. Args: limit.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			limit, err := intArg(e, "limit", 0)
			if err != nil {
				return nil, err
			}
			matches, err := e.GetTransformationMatches(ctx, "", "config", &compute.TransformationMatchOptions{
				CodeIDKeys: []string{CodeIDKeyDao},
				Limit:      limit,
			})
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(matches))
			for _, m := range matches {
				out = append(out, map[string]any{
					"address": m.ContractAddress,
					"config":  m.Value,
				})
			}
			return out, nil
		},
	})
}
