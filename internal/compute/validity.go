package compute

import (
	"context"
	"encoding/json"

	"wasmscan/internal/models"
)

// UpdateValidityUpToBlockHeight tries to extend a stored computation's
// validity interval to height. It scans (LatestBlockHeightValid, height]
// for dependency changes: with none, the interval extends to height and
// the function reports true. When a change exists the computation is left
// unmodified and the function reports false; the caller decides where to
// recompute from. A height at or below the current interval is a no-op.
func UpdateValidityUpToBlockHeight(ctx context.Context, es EventStore, cs ComputationStore, c *models.Computation, height uint64) (bool, error) {
	if height <= c.LatestBlockHeightValid {
		return true, nil
	}

	deps := make([]models.Dependency, 0, len(c.DependentEvents)+len(c.DependentTransformations))
	deps = append(deps, c.DependentEvents...)
	deps = append(deps, c.DependentTransformations...)

	_, ok, err := es.NextDependencyChange(ctx, deps, c.LatestBlockHeightValid, height)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}

	if err := cs.UpdateComputationValidity(ctx, c.ID, height); err != nil {
		return false, err
	}
	c.LatestBlockHeightValid = height
	return true, nil
}

// ComputeAtBlock evaluates the formula at one block, serving from a
// stored computation when one covers the block (extending its validity
// interval first when the block lies just past it). A miss evaluates
// fresh without persisting: single-block results enter the memo only
// through range requests and the value monitor, which produce contiguous
// validity chains instead of scattered point rows. The bool reports a
// cache hit.
func ComputeAtBlock(ctx context.Context, o *Options, cs ComputationStore, block models.Block) (Piece, bool, error) {
	if cs != nil && !o.Formula.Dynamic {
		c, err := cs.GetComputation(ctx, o.TargetAddress, o.Formula.ID(), CanonicalArgs(o.Args), block.Height)
		if err != nil {
			return Piece{}, false, err
		}
		if c != nil {
			if c.LatestBlockHeightValid < block.Height {
				if _, err := UpdateValidityUpToBlockHeight(ctx, o.Store, cs, c, block.Height); err != nil {
					return Piece{}, false, err
				}
			}
			if c.LatestBlockHeightValid >= block.Height {
				return pieceFromComputation(c), true, nil
			}
		}
	}

	out, err := Compute(ctx, o, block)
	if err != nil {
		return Piece{}, false, err
	}
	piece, err := pieceFromOutcome(out)
	return piece, false, err
}

// Piece is one segment of a piecewise-constant series: the output computed
// at Block, provably unchanged through LatestBlockHeightValid. A nil
// Output records that the formula returned no value.
type Piece struct {
	Block                  models.Block    `json:"block"`
	Output                 json.RawMessage `json:"value"`
	LatestBlockHeightValid uint64          `json:"latest_block_height_valid"`
}

func pieceFromComputation(c *models.Computation) Piece {
	return Piece{
		Block:                  c.Block(),
		Output:                 c.Output,
		LatestBlockHeightValid: c.LatestBlockHeightValid,
	}
}

func pieceFromOutcome(out *Outcome) (Piece, error) {
	var output json.RawMessage
	if out.Value != nil {
		b, err := json.Marshal(out.Value)
		if err != nil {
			return Piece{}, err
		}
		output = b
	}
	return Piece{
		Block:                  out.Block,
		Output:                 output,
		LatestBlockHeightValid: out.LatestBlockHeightValid,
	}, nil
}

// chainContinuous reports whether consecutive stored computations tile the
// height axis with no gap: each piece must start exactly one block after
// the previous piece's validity ends.
func chainContinuous(chain []*models.Computation) bool {
	for i := 1; i < len(chain); i++ {
		if chain[i].BlockHeight != chain[i-1].LatestBlockHeightValid+1 {
			return false
		}
	}
	return true
}

// ComputeRangeWithCache serves a range request from stored computations
// when they tile the whole range, extending the tail's validity or
// recomputing only the missing suffix when they almost do, and falling
// back to a full recompute otherwise. Freshly computed pieces are
// persisted before the result returns; a failed range persists nothing.
func ComputeRangeWithCache(ctx context.Context, o *Options, cs ComputationStore, start, end models.Block) ([]Piece, error) {
	formula := o.Formula.ID()
	args := CanonicalArgs(o.Args)

	first, err := cs.GetComputation(ctx, o.TargetAddress, formula, args, start.Height)
	if err != nil {
		return nil, err
	}
	if first == nil {
		return computeAndPersistRange(ctx, o, cs, formula, args, start, end)
	}

	rest, err := cs.ListComputationsInRange(ctx, o.TargetAddress, formula, args, start.Height, end.Height)
	if err != nil {
		return nil, err
	}
	chain := append([]*models.Computation{first}, rest...)
	if !chainContinuous(chain) {
		return computeAndPersistRange(ctx, o, cs, formula, args, start, end)
	}

	pieces := make([]Piece, 0, len(chain))
	for _, c := range chain {
		pieces = append(pieces, pieceFromComputation(c))
	}

	tail := chain[len(chain)-1]
	if tail.LatestBlockHeightValid >= end.Height {
		return pieces, nil
	}

	extended, err := UpdateValidityUpToBlockHeight(ctx, o.Store, cs, tail, end.Height)
	if err != nil {
		return nil, err
	}
	pieces[len(pieces)-1].LatestBlockHeightValid = tail.LatestBlockHeightValid
	if extended {
		return pieces, nil
	}

	// A dependency changed past the tail. Recompute from the tail's own
	// block so every change height lands on a piece boundary; the first
	// outcome re-proves the tail and only refreshes its validity, the
	// rest are new pieces.
	outcomes, err := ComputeRange(ctx, o, tail.Block(), end)
	if err != nil {
		return nil, err
	}
	if len(outcomes) == 0 {
		return pieces, nil
	}
	if v := outcomes[0].LatestBlockHeightValid; v > tail.LatestBlockHeightValid {
		if err := cs.UpdateComputationValidity(ctx, tail.ID, v); err != nil {
			return nil, err
		}
		tail.LatestBlockHeightValid = v
		pieces[len(pieces)-1].LatestBlockHeightValid = v
	}
	for _, out := range outcomes[1:] {
		piece, err := persistOutcome(ctx, cs, o.TargetAddress, formula, args, out)
		if err != nil {
			return nil, err
		}
		pieces = append(pieces, piece)
	}
	return pieces, nil
}

func computeAndPersistRange(ctx context.Context, o *Options, cs ComputationStore, formula, args string, start, end models.Block) ([]Piece, error) {
	outcomes, err := ComputeRange(ctx, o, start, end)
	if err != nil {
		return nil, err
	}
	pieces := make([]Piece, 0, len(outcomes))
	for _, out := range outcomes {
		piece, err := persistOutcome(ctx, cs, o.TargetAddress, formula, args, out)
		if err != nil {
			return nil, err
		}
		pieces = append(pieces, piece)
	}
	return pieces, nil
}

func persistOutcome(ctx context.Context, cs ComputationStore, targetAddress, formula, args string, out *Outcome) (Piece, error) {
	c, err := out.Computation(targetAddress, formula, args)
	if err != nil {
		return Piece{}, err
	}
	if _, err := cs.UpsertComputation(ctx, c); err != nil {
		return Piece{}, err
	}
	return pieceFromComputation(c), nil
}
