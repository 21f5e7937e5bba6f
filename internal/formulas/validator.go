package formulas

import (
	"context"

	"wasmscan/internal/compute"
)

func registerValidator(r *compute.Registry) {
	r.Register(&compute.Formula{
		Type: compute.FormulaTypeValidator,
		Name: "staking/slashes",
		Docs: "Every slash registered against the validator, newest first.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			events, err := e.GetSlashEvents(ctx, e.TargetAddress())
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(events))
			for _, ev := range events {
				out = append(out, map[string]any{
					"registeredBlockHeight": ev.RegisteredBlockHeight,
					"registeredBlockTime":   ev.RegisteredBlockTimeUnixMs,
					"infractionBlockHeight": ev.InfractionBlockHeight,
					"slashFactor":           ev.SlashFactor,
					"amountSlashed":         ev.AmountSlashed,
					"effectiveFraction":     ev.EffectiveFraction,
					"stakedTokensBurned":    ev.StakedTokensBurned,
				})
			}
			return out, nil
		},
	})

	r.Register(&compute.Formula{
		Type: compute.FormulaTypeValidator,
		Name: "staking/slash-count",
		Docs: "Number of slashes registered against the validator.",
		Compute: func(ctx context.Context, e *compute.Env) (any, error) {
			events, err := e.GetSlashEvents(ctx, e.TargetAddress())
			if err != nil {
				return nil, err
			}
			return len(events), nil
		},
	})
}
