package compute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"wasmscan/internal/models"
)

// Options configures evaluations of one formula against one target. The
// same Options value drives every cursor evaluation of a range.
type Options struct {
	Store         EventStore
	Formula       *Formula
	ChainID       string
	TargetAddress string
	Args          map[string]string

	// LatestBlockHeight is the indexer tip. Open-ended validity intervals
	// are capped here: nothing can be proven about blocks not yet indexed.
	LatestBlockHeight uint64

	CodeIDSets            CodeIDSets
	BankHistoryCodeIDKeys []string

	// UseBlockDate pins the environment's Date to the evaluation block's
	// timestamp. Without it Date is the wall clock captured when the
	// environment is built, which only makes sense for an unpersisted
	// evaluation at the tip. Range evaluations always use block dates.
	UseBlockDate bool

	// OnFetch observes every positive read's row count. It must not
	// influence the computed value.
	OnFetch func(rowsFetched int)
}

// Outcome is one evaluation result together with its recorded dependencies
// and the interval [Block.Height, LatestBlockHeightValid] over which the
// value is provably unchanged. A nil Value records that the formula
// returned no value at that block.
type Outcome struct {
	Block                    models.Block
	Value                    any
	DependentEvents          []models.Dependency
	DependentTransformations []models.Dependency
	LatestBlockHeightValid   uint64
}

// Computation marshals the outcome into its persisted form.
func (out *Outcome) Computation(targetAddress, formula, args string) (*models.Computation, error) {
	var output json.RawMessage
	if out.Value != nil {
		b, err := json.Marshal(out.Value)
		if err != nil {
			return nil, fmt.Errorf("encode output: %w", err)
		}
		output = b
	}
	return &models.Computation{
		TargetAddress:            targetAddress,
		Formula:                  formula,
		Args:                     args,
		BlockHeight:              out.Block.Height,
		BlockTimeUnixMs:          out.Block.TimeUnixMs,
		LatestBlockHeightValid:   out.LatestBlockHeightValid,
		Output:                   output,
		DependentEvents:          out.DependentEvents,
		DependentTransformations: out.DependentTransformations,
	}, nil
}

// CanonicalArgs returns the canonical JSON encoding of formula arguments:
// keys sorted, no insignificant whitespace. Identical argument sets always
// encode identically, so the encoding is usable as a cache key component.
func CanonicalArgs(args map[string]string) string {
	if len(args) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(args)
	return string(b)
}

// preflight validates the target against the formula type before any
// evaluation work.
func preflight(ctx context.Context, o *Options) error {
	switch o.Formula.Type {
	case FormulaTypeContract:
		c, err := o.Store.GetContract(ctx, o.TargetAddress)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("%w: contract %s", ErrNotFound, o.TargetAddress)
		}
		if len(o.Formula.CodeIDKeys) > 0 {
			if _, ok := resolveCodeIDSet(o.CodeIDSets, o.Formula.CodeIDKeys)[c.CodeID]; !ok {
				return fmt.Errorf("%w: formula %s does not apply to contract %s", ErrNotApplicable, o.Formula.ID(), o.TargetAddress)
			}
		}
	case FormulaTypeValidator:
		v, err := o.Store.GetValidator(ctx, o.TargetAddress)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("%w: validator %s", ErrNotFound, o.TargetAddress)
		}
	}
	return nil
}

// evaluate runs the formula body once against a fresh environment and
// classifies any failure: store errors pass through unchanged, internal
// mismatches stay fatal, everything else is attributed to the formula.
func evaluate(ctx context.Context, o *Options, block models.Block) (any, *recorder, error) {
	env := newEnv(o, block)
	value, err := o.Formula.Compute(ctx, env)
	if err != nil {
		var te *transportError
		if errors.As(err, &te) {
			return nil, nil, te.err
		}
		if errors.Is(err, ErrTypeMismatch) {
			return nil, nil, err
		}
		return nil, nil, &FormulaError{Formula: o.Formula.ID(), Err: err}
	}
	return value, env.rec, nil
}

// Compute evaluates the formula at one block and derives the outcome's
// validity interval from its recorded dependencies.
func Compute(ctx context.Context, o *Options, block models.Block) (*Outcome, error) {
	if err := preflight(ctx, o); err != nil {
		return nil, err
	}

	value, rec, err := evaluate(ctx, o, block)
	if err != nil {
		return nil, err
	}

	deps := rec.dependencies()
	latestValid := block.Height
	if !o.Formula.Dynamic {
		next, ok, err := o.Store.NextDependencyChange(ctx, deps, block.Height, 0)
		if err != nil {
			return nil, err
		}
		switch {
		case ok:
			latestValid = next - 1
		case o.LatestBlockHeight > block.Height:
			latestValid = o.LatestBlockHeight
		}
	}

	events, transformations := SplitDependencies(deps)
	return &Outcome{
		Block:                    block,
		Value:                    value,
		DependentEvents:          events,
		DependentTransformations: transformations,
		LatestBlockHeightValid:   latestValid,
	}, nil
}

// ComputeRange evaluates the formula over [start, end] as a piecewise
// constant series. Instead of evaluating every block it evaluates at the
// range start, asks the store for the next height at which any recorded
// dependency changes, and jumps the cursor there; blocks in between are
// covered by the previous piece's validity interval. Any evaluation error
// fails the whole range.
func ComputeRange(ctx context.Context, o *Options, start, end models.Block) ([]*Outcome, error) {
	if o.Formula.Dynamic {
		return nil, fmt.Errorf("%w: dynamic formula %s cannot be computed over a range", ErrNotApplicable, o.Formula.ID())
	}
	if start.Height > end.Height {
		return nil, fmt.Errorf("%w: range start %d after end %d", ErrBadInput, start.Height, end.Height)
	}
	if !o.UseBlockDate {
		// Every piece of a range is a historical evaluation; a wall-clock
		// date would make the persisted outputs irreproducible.
		ro := *o
		ro.UseBlockDate = true
		o = &ro
	}
	if err := preflight(ctx, o); err != nil {
		return nil, err
	}

	var outcomes []*Outcome
	block := start
	for {
		value, rec, err := evaluate(ctx, o, block)
		if err != nil {
			return nil, err
		}
		deps := rec.dependencies()

		next, ok, err := o.Store.NextDependencyChange(ctx, deps, block.Height, end.Height)
		if err != nil {
			return nil, err
		}
		latestValid := end.Height
		if ok {
			latestValid = next - 1
		}

		events, transformations := SplitDependencies(deps)
		outcomes = append(outcomes, &Outcome{
			Block:                    block,
			Value:                    value,
			DependentEvents:          events,
			DependentTransformations: transformations,
			LatestBlockHeightValid:   latestValid,
		})
		if !ok {
			return outcomes, nil
		}

		nb, err := blockAtOrAfter(ctx, o.Store, next)
		if err != nil {
			return nil, err
		}
		if nb == nil || nb.Height > end.Height {
			return outcomes, nil
		}
		block = *nb
	}
}

// blockAtOrAfter resolves a height against the indexed block universe,
// preferring the exact block and falling back to the next indexed one.
func blockAtOrAfter(ctx context.Context, store EventStore, height uint64) (*models.Block, error) {
	b, err := store.GetBlock(ctx, height)
	if err != nil {
		return nil, err
	}
	if b != nil {
		return b, nil
	}
	return store.GetBlockAtOrAfter(ctx, height)
}
