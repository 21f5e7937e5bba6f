package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"wasmscan/internal/compute"
	"wasmscan/internal/models"
)

// fetchRowsPerCredit converts row-level fetch counts into credits: one
// credit per request plus one per started batch of fetched rows.
const fetchRowsPerCredit = 100

// computeParams are the reserved query parameters of /compute. Anything
// else in the query string is passed to the formula as an argument.
type computeParams struct {
	block  *uint64
	blocks *[2]uint64
	time   *uint64
	times  *[2]uint64

	blockStep uint64
	timeStep  uint64

	args map[string]string
}

func parseComputeParams(r *http.Request) (*computeParams, error) {
	p := &computeParams{args: make(map[string]string)}
	selectors := 0

	for key, vals := range r.URL.Query() {
		if len(vals) == 0 {
			continue
		}
		val := vals[0]
		switch key {
		case "block":
			n, err := parseUintParam(val)
			if err != nil {
				return nil, fmt.Errorf("block: %w", err)
			}
			p.block = &n
			selectors++
		case "blocks":
			start, end, err := parseRangeParam(val)
			if err != nil {
				return nil, fmt.Errorf("blocks: %w", err)
			}
			p.blocks = &[2]uint64{start, end}
			selectors++
		case "time":
			n, err := parseUintParam(val)
			if err != nil {
				return nil, fmt.Errorf("time: %w", err)
			}
			p.time = &n
			selectors++
		case "times":
			start, end, err := parseRangeParam(val)
			if err != nil {
				return nil, fmt.Errorf("times: %w", err)
			}
			p.times = &[2]uint64{start, end}
			selectors++
		case "blockStep":
			n, err := parseUintParam(val)
			if err != nil || n == 0 {
				return nil, fmt.Errorf("blockStep must be a positive integer")
			}
			p.blockStep = n
		case "timeStep":
			n, err := parseUintParam(val)
			if err != nil || n == 0 {
				return nil, fmt.Errorf("timeStep must be a positive integer")
			}
			p.timeStep = n
		default:
			p.args[key] = val
		}
	}

	if selectors > 1 {
		return nil, fmt.Errorf("block, blocks, time and times are mutually exclusive")
	}
	if p.blockStep > 0 && p.blocks == nil {
		return nil, fmt.Errorf("blockStep requires blocks")
	}
	if p.timeStep > 0 && p.times == nil {
		return nil, fmt.Errorf("timeStep requires times")
	}
	if p.blocks != nil && p.blocks[0] > p.blocks[1] {
		return nil, fmt.Errorf("blocks: start %d after end %d", p.blocks[0], p.blocks[1])
	}
	if p.times != nil && p.times[0] > p.times[1] {
		return nil, fmt.Errorf("times: start %d after end %d", p.times[0], p.times[1])
	}
	return p, nil
}

func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	p, err := parseComputeParams(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}

	formula, err := s.registry.Get(compute.FormulaType(vars["type"]), vars["formula"])
	if err != nil {
		writeComputeError(w, err)
		return
	}

	tip := s.tip.Current()
	if tip == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "chain state not available yet")
		return
	}

	target := strings.TrimSpace(vars["address"])
	if formula.Type == compute.FormulaTypeGeneric {
		target = compute.GenericTarget
	}

	var fetched int64
	acct := accountFrom(ctx)

	o := &compute.Options{
		Store:                 s.store,
		Formula:               formula,
		ChainID:               tip.ChainID,
		TargetAddress:         target,
		Args:                  p.args,
		LatestBlockHeight:     tip.LatestBlockHeight,
		CodeIDSets:            s.cfg.CodeIDKeys,
		BankHistoryCodeIDKeys: s.cfg.BankHistoryCodeIDKeys,
		// A pinned block or time is a historical evaluation and reads dates
		// from the block; the bare tip default evaluates "now".
		UseBlockDate: p.block != nil || p.time != nil || p.blocks != nil || p.times != nil,
	}
	if acct != nil {
		o.OnFetch = func(rows int) { fetched += int64(rows) }
	}

	if p.blocks != nil || p.times != nil {
		s.serveComputeRange(w, r, o, p, tip, acct, &fetched)
		return
	}

	blk, err := s.resolveSingleBlock(ctx, p, tip)
	if err != nil {
		writeComputeError(w, err)
		return
	}

	piece, cached, err := compute.ComputeAtBlock(ctx, o, s.store, *blk)
	if err != nil {
		writeComputeError(w, err)
		return
	}
	if !s.chargeForCompute(w, r, acct, fetched) {
		return
	}
	writeAPIResponse(w, safeRawJSON(piece.Output), map[string]interface{}{
		"block":                     piece.Block,
		"latest_block_height_valid": piece.LatestBlockHeightValid,
		"cached":                    cached,
	}, nil)
}

// resolveSingleBlock picks the evaluation block for a non-range request:
// the indexed block at or after the requested height, the block at or
// before the requested time, or the tip.
func (s *Server) resolveSingleBlock(ctx context.Context, p *computeParams, tip *models.State) (*models.Block, error) {
	switch {
	case p.block != nil:
		b, err := s.store.GetBlock(ctx, *p.block)
		if err != nil {
			return nil, err
		}
		if b == nil {
			b, err = s.store.GetBlockAtOrAfter(ctx, *p.block)
			if err != nil {
				return nil, err
			}
		}
		if b == nil {
			return nil, fmt.Errorf("%w: block %d not indexed", compute.ErrBadInput, *p.block)
		}
		return b, nil
	case p.time != nil:
		b, err := s.store.GetBlockForTime(ctx, *p.time)
		if err != nil {
			return nil, err
		}
		if b == nil {
			b, err = s.store.GetFirstBlock(ctx)
			if err != nil {
				return nil, err
			}
		}
		if b == nil {
			return nil, fmt.Errorf("%w: no blocks indexed", compute.ErrBadInput)
		}
		return b, nil
	default:
		b := tip.LatestBlock()
		return &b, nil
	}
}

func (s *Server) serveComputeRange(w http.ResponseWriter, r *http.Request, o *compute.Options,
	p *computeParams, tip *models.State, acct *models.Account, fetched *int64) {

	ctx := r.Context()

	var (
		start     *models.Block
		endHeight uint64
		err       error
	)
	if p.blocks != nil {
		start, err = s.store.GetBlock(ctx, p.blocks[0])
		if err == nil && start == nil {
			start, err = s.store.GetBlockAtOrAfter(ctx, p.blocks[0])
		}
		endHeight = p.blocks[1]
	} else {
		start, err = s.store.GetBlockForTime(ctx, p.times[0])
		if err == nil && start == nil {
			start, err = s.store.GetFirstBlock(ctx)
		}
		if err == nil {
			var eb *models.Block
			eb, err = s.store.GetBlockForTime(ctx, p.times[1])
			if eb != nil {
				endHeight = eb.Height
			}
		}
	}
	if err != nil {
		writeComputeError(w, err)
		return
	}
	if endHeight > tip.LatestBlockHeight {
		endHeight = tip.LatestBlockHeight
	}
	if start == nil || start.Height > endHeight {
		writeAPIResponse(w, []compute.RangeSample{}, map[string]interface{}{"pieces": 0}, nil)
		return
	}

	pieces, err := compute.ComputeRangeWithCache(ctx, o, s.store, *start, models.Block{Height: endHeight})
	if err != nil {
		writeComputeError(w, err)
		return
	}
	if !s.chargeForCompute(w, r, acct, *fetched) {
		return
	}

	var samples []compute.RangeSample
	switch {
	case p.blockStep > 0:
		samples = compute.SampleAtBlockSteps(pieces, p.blocks[0], endHeight, p.blockStep)
	case p.timeStep > 0:
		samples = compute.SampleAtTimeSteps(pieces, p.times[0], p.times[1], p.timeStep)
	default:
		samples = compute.SamplesFromPieces(pieces)
	}
	writeAPIResponse(w, samples, map[string]interface{}{
		"start_height": start.Height,
		"end_height":   endHeight,
		"pieces":       len(pieces),
	}, nil)
}

// chargeForCompute settles the request's credit cost against the calling
// account, writing the error response itself on failure. Anonymous
// requests pass through.
func (s *Server) chargeForCompute(w http.ResponseWriter, r *http.Request, acct *models.Account, fetched int64) bool {
	if acct == nil {
		return true
	}
	cost := int64(1) + fetched/fetchRowsPerCredit
	if _, err := s.accounts.ChargeCredits(r.Context(), acct.ID, cost, r.URL.Path); err != nil {
		writeComputeError(w, err)
		return false
	}
	return true
}
