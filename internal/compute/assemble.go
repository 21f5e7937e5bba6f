package compute

import (
	"encoding/json"

	"wasmscan/internal/models"
)

// RangeSample is one point of a projected series. At carries the grid
// coordinate (a height or a Unix-millisecond timestamp) for stepped
// projections and is zero for raw piece output; Block is the block the
// sampled piece was computed at.
type RangeSample struct {
	At    uint64          `json:"at,omitempty"`
	Block models.Block    `json:"block"`
	Value json.RawMessage `json:"value"`
}

// SamplesFromPieces returns the raw piecewise series, one sample per piece.
func SamplesFromPieces(pieces []Piece) []RangeSample {
	out := make([]RangeSample, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, RangeSample{Block: p.Block, Value: p.Output})
	}
	return out
}

// SampleAtBlockSteps projects the series onto a height grid: one sample at
// start, one every step blocks, and one at end regardless of alignment.
// Each grid height resolves to the piece in effect at that height. Pieces
// must be ascending by block height; step must be positive.
func SampleAtBlockSteps(pieces []Piece, start, end, step uint64) []RangeSample {
	var out []RangeSample
	idx := 0
	emit := func(h uint64) {
		for idx+1 < len(pieces) && pieces[idx+1].Block.Height <= h {
			idx++
		}
		if len(pieces) == 0 || pieces[idx].Block.Height > h {
			return
		}
		out = append(out, RangeSample{At: h, Block: pieces[idx].Block, Value: pieces[idx].Output})
	}
	for h := start; h < end; h += step {
		emit(h)
	}
	emit(end)
	return out
}

// SampleAtTimeSteps projects the series onto a Unix-millisecond grid, with
// the same boundary handling as SampleAtBlockSteps. A grid time resolves
// to the piece whose block is the latest at or before it.
func SampleAtTimeSteps(pieces []Piece, start, end, step uint64) []RangeSample {
	var out []RangeSample
	idx := 0
	emit := func(t uint64) {
		for idx+1 < len(pieces) && pieces[idx+1].Block.TimeUnixMs <= t {
			idx++
		}
		if len(pieces) == 0 || pieces[idx].Block.TimeUnixMs > t {
			return
		}
		out = append(out, RangeSample{At: t, Block: pieces[idx].Block, Value: pieces[idx].Output})
	}
	for t := start; t < end; t += step {
		emit(t)
	}
	emit(end)
	return out
}
