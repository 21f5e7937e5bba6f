package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"wasmscan/internal/models"
)

// --- bank ---

// bankHistoryAllowed reports whether per-denom balance history may be read
// for an address. History rows exist only for contracts whose code id is
// in the configured tracking set; every other address answers from
// snapshots alone.
func (e *Env) bankHistoryAllowed(ctx context.Context, address string) (bool, error) {
	if len(e.bankHistory) == 0 {
		return false, nil
	}
	c, err := e.contractByAddress(ctx, address)
	if err != nil || c == nil {
		return false, err
	}
	_, ok := e.bankHistory[c.CodeID]
	return ok, nil
}

func balanceFromRows(rows []models.Dependable, denom, depKey string) (string, bool, error) {
	for _, row := range rows {
		switch b := row.(type) {
		case *models.BankBalance:
			amount, ok := b.Balances[denom]
			return amount, ok, nil
		case *models.BankStateEvent:
			if b.Denom == denom {
				return b.Balance, true, nil
			}
		default:
			return "", false, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, row, depKey)
		}
	}
	return "", false, nil
}

func balancesFromRows(rows []models.Dependable, depKey string) (map[string]string, bool, error) {
	if len(rows) == 0 {
		return nil, false, nil
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		switch b := row.(type) {
		case *models.BankBalance:
			for denom, amount := range b.Balances {
				out[denom] = amount
			}
		case *models.BankStateEvent:
			out[b.Denom] = b.Balance
		default:
			return nil, false, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, row, depKey)
		}
	}
	return out, true, nil
}

// GetBalance returns one denom balance for an address at the evaluation
// block. A full-wallet snapshot at or below the block is authoritative;
// only when no snapshot exists, and the address is a contract tracked for
// bank history, does the per-denom event history answer instead.
func (e *Env) GetBalance(ctx context.Context, address, denom string) (string, bool, error) {
	depKey := models.DependentKey(models.NamespaceBankBalance, address, denom)
	e.rec.record(depKey, false)

	if rows, ok := e.cache.exact[depKey]; ok {
		return balanceFromRows(rows, denom, depKey)
	}
	if rows, ok := e.cache.prefix[models.DependentKey(models.NamespaceBankBalance, address)]; ok {
		return balanceFromRows(rows, denom, depKey)
	}

	snap, err := e.store.GetBankBalance(ctx, address, e.block.Height)
	if err != nil {
		return "", false, &transportError{err}
	}
	if snap != nil {
		e.cache.putExact(depKey, []models.Dependable{snap})
		e.fetched(1)
		amount, ok := snap.Balances[denom]
		return amount, ok, nil
	}

	allowed, err := e.bankHistoryAllowed(ctx, address)
	if err != nil {
		return "", false, err
	}
	if !allowed {
		e.cache.putExact(depKey, nil)
		return "", false, nil
	}

	ev, err := e.store.GetBankStateEvent(ctx, address, denom, e.block.Height)
	if err != nil {
		return "", false, &transportError{err}
	}
	if ev == nil {
		e.cache.putExact(depKey, nil)
		return "", false, nil
	}
	e.cache.putExact(depKey, []models.Dependable{ev})
	e.fetched(1)
	return ev.Balance, true, nil
}

// GetBalances returns every denom balance for an address at the evaluation
// block, with the same snapshot-first resolution as GetBalance.
func (e *Env) GetBalances(ctx context.Context, address string) (map[string]string, bool, error) {
	depKey := models.DependentKey(models.NamespaceBankBalance, address)
	e.rec.record(depKey, true)

	if rows, ok := e.cache.getPrefix(depKey); ok {
		return balancesFromRows(rows, depKey)
	}

	var rows []models.Dependable
	snap, err := e.store.GetBankBalance(ctx, address, e.block.Height)
	if err != nil {
		return nil, false, &transportError{err}
	}
	if snap != nil {
		rows = []models.Dependable{snap}
	} else {
		allowed, err := e.bankHistoryAllowed(ctx, address)
		if err != nil {
			return nil, false, err
		}
		if allowed {
			evs, err := e.store.ListBankStateEvents(ctx, address, e.block.Height)
			if err != nil {
				return nil, false, &transportError{err}
			}
			rows = make([]models.Dependable, len(evs))
			for i, ev := range evs {
				rows[i] = ev
			}
		}
	}
	e.cache.putPrefix(depKey, rows)
	e.fetched(len(rows))
	return balancesFromRows(rows, depKey)
}

// --- staking ---

// GetSlashEvents returns a validator's slashes registered at or below the
// evaluation block, most recent registration first.
func (e *Env) GetSlashEvents(ctx context.Context, operatorAddress string) ([]*models.StakingSlashEvent, error) {
	depKey := models.DependentKey(models.NamespaceStakingSlash, operatorAddress)
	e.rec.record(depKey, true)

	rows, ok := e.cache.getPrefix(depKey)
	if !ok {
		evs, err := e.store.ListSlashEvents(ctx, operatorAddress, e.block.Height)
		if err != nil {
			return nil, &transportError{err}
		}
		rows = make([]models.Dependable, len(evs))
		for i, ev := range evs {
			rows[i] = ev
		}
		e.cache.putPrefix(depKey, rows)
		e.fetched(len(rows))
	}

	out := make([]*models.StakingSlashEvent, 0, len(rows))
	for _, row := range rows {
		ev, ok := row.(*models.StakingSlashEvent)
		if !ok {
			return nil, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, row, depKey)
		}
		out = append(out, ev)
	}
	return out, nil
}

// --- wasm execution events ---

// GetTxEvents returns a contract's execution events at or below the
// evaluation block, most recent first. msgWhere, when non-nil, keeps only
// events whose execute msg contains it; limit of 0 means no limit.
func (e *Env) GetTxEvents(ctx context.Context, contract string, msgWhere map[string]any, limit int) ([]*models.WasmTxEvent, error) {
	depKey := models.DependentKey(models.NamespaceWasmTx, contract)
	e.rec.record(depKey, true)

	memoisable := msgWhere == nil && limit == 0
	if rows, ok := e.cache.getPrefix(depKey); memoisable && ok {
		out := make([]*models.WasmTxEvent, 0, len(rows))
		for _, row := range rows {
			ev, ok := row.(*models.WasmTxEvent)
			if !ok {
				return nil, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, row, depKey)
			}
			out = append(out, ev)
		}
		return out, nil
	}

	var whereJSON []byte
	if msgWhere != nil {
		var err error
		whereJSON, err = json.Marshal(msgWhere)
		if err != nil {
			return nil, fmt.Errorf("encode msg predicate: %w", err)
		}
	}
	evs, err := e.store.ListWasmTxEvents(ctx, contract, whereJSON, limit, e.block.Height)
	if err != nil {
		return nil, &transportError{err}
	}
	if memoisable {
		rows := make([]models.Dependable, len(evs))
		for i, ev := range evs {
			rows[i] = ev
		}
		e.cache.putPrefix(depKey, rows)
	}
	e.fetched(len(evs))
	return evs, nil
}

// --- governance ---

// GetProposal returns the latest snapshot of a proposal at or below the
// evaluation block.
func (e *Env) GetProposal(ctx context.Context, proposalID uint64) (*models.GovProposal, bool, error) {
	depKey := models.DependentKey(models.NamespaceGovProposal, strconv.FormatUint(proposalID, 10))
	e.rec.record(depKey, false)

	if rows, ok := e.cache.getExact(depKey); ok {
		if len(rows) == 0 {
			return nil, false, nil
		}
		p, ok := rows[0].(*models.GovProposal)
		if !ok {
			return nil, false, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, rows[0], depKey)
		}
		return p, true, nil
	}

	p, err := e.store.GetGovProposal(ctx, proposalID, e.block.Height)
	if err != nil {
		return nil, false, &transportError{err}
	}
	if p == nil {
		e.cache.putExact(depKey, nil)
		return nil, false, nil
	}
	e.cache.putExact(depKey, []models.Dependable{p})
	e.fetched(1)
	return p, true, nil
}

// GetProposals pages through the latest snapshot of every proposal known
// at the evaluation block, ordered by proposal id.
func (e *Env) GetProposals(ctx context.Context, ascending bool, limit, offset int) ([]*models.GovProposal, error) {
	e.rec.record(models.NamespaceGovProposal, true)

	ps, err := e.store.ListGovProposals(ctx, e.block.Height, ascending, limit, offset)
	if err != nil {
		return nil, &transportError{err}
	}
	e.fetched(len(ps))
	return ps, nil
}

// GetProposalCount returns how many distinct proposals exist at the
// evaluation block.
func (e *Env) GetProposalCount(ctx context.Context) (uint64, error) {
	e.rec.record(models.NamespaceGovProposal, true)

	n, err := e.store.CountGovProposals(ctx, e.block.Height)
	if err != nil {
		return 0, &transportError{err}
	}
	if n > 0 {
		e.fetched(1)
	}
	return n, nil
}

// GetProposalVote returns one voter's latest vote on a proposal at or
// below the evaluation block.
func (e *Env) GetProposalVote(ctx context.Context, proposalID uint64, voter string) (*models.GovProposalVote, bool, error) {
	depKey := models.DependentKey(models.NamespaceGovProposalVote, strconv.FormatUint(proposalID, 10), voter)
	e.rec.record(depKey, false)

	if rows, ok := e.cache.getExact(depKey); ok {
		if len(rows) == 0 {
			return nil, false, nil
		}
		v, ok := rows[0].(*models.GovProposalVote)
		if !ok {
			return nil, false, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, rows[0], depKey)
		}
		return v, true, nil
	}

	v, err := e.store.GetGovProposalVote(ctx, proposalID, voter, e.block.Height)
	if err != nil {
		return nil, false, &transportError{err}
	}
	if v == nil {
		e.cache.putExact(depKey, nil)
		return nil, false, nil
	}
	e.cache.putExact(depKey, []models.Dependable{v})
	e.fetched(1)
	return v, true, nil
}

// GetProposalVotes pages through the latest vote per voter on a proposal,
// ordered by vote height with voter address as the tie break.
func (e *Env) GetProposalVotes(ctx context.Context, proposalID uint64, ascending bool, limit, offset int) ([]*models.GovProposalVote, error) {
	e.rec.record(models.DependentKey(models.NamespaceGovProposalVote, strconv.FormatUint(proposalID, 10)), true)

	vs, err := e.store.ListGovProposalVotes(ctx, proposalID, e.block.Height, ascending, limit, offset)
	if err != nil {
		return nil, &transportError{err}
	}
	e.fetched(len(vs))
	return vs, nil
}

// GetProposalVoteCount returns how many distinct voters have voted on a
// proposal at the evaluation block.
func (e *Env) GetProposalVoteCount(ctx context.Context, proposalID uint64) (uint64, error) {
	e.rec.record(models.DependentKey(models.NamespaceGovProposalVote, strconv.FormatUint(proposalID, 10)), true)

	n, err := e.store.CountGovProposalVotes(ctx, proposalID, e.block.Height)
	if err != nil {
		return 0, &transportError{err}
	}
	if n > 0 {
		e.fetched(1)
	}
	return n, nil
}

// --- community pool ---

// GetCommunityPoolBalances returns the latest community pool snapshot at
// or below the evaluation block.
func (e *Env) GetCommunityPoolBalances(ctx context.Context) (map[string]string, bool, error) {
	depKey := models.NamespaceCommunityPool
	e.rec.record(depKey, false)

	if rows, ok := e.cache.getExact(depKey); ok {
		return balancesFromSnapshotRows(rows, depKey)
	}

	snap, err := e.store.GetCommunityPool(ctx, e.block.Height)
	if err != nil {
		return nil, false, &transportError{err}
	}
	if snap == nil {
		e.cache.putExact(depKey, nil)
		return nil, false, nil
	}
	e.cache.putExact(depKey, []models.Dependable{snap})
	e.fetched(1)
	return snap.Balances, true, nil
}

func balancesFromSnapshotRows(rows []models.Dependable, depKey string) (map[string]string, bool, error) {
	if len(rows) == 0 {
		return nil, false, nil
	}
	snap, ok := rows[0].(*models.CommunityPoolSnapshot)
	if !ok {
		return nil, false, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, rows[0], depKey)
	}
	return snap.Balances, true, nil
}

// --- extractions ---

// GetExtraction returns the latest named extraction for an address at or
// below the evaluation block.
func (e *Env) GetExtraction(ctx context.Context, address, name string) (*models.Extraction, bool, error) {
	depKey := models.DependentKey(models.NamespaceExtraction, address, name)
	e.rec.record(depKey, false)

	if rows, ok := e.cache.getExact(depKey); ok {
		if len(rows) == 0 {
			return nil, false, nil
		}
		ex, ok := rows[0].(*models.Extraction)
		if !ok {
			return nil, false, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, rows[0], depKey)
		}
		return ex, true, nil
	}

	ex, err := e.store.GetExtraction(ctx, address, name, e.block.Height)
	if err != nil {
		return nil, false, &transportError{err}
	}
	if ex == nil {
		e.cache.putExact(depKey, nil)
		return nil, false, nil
	}
	e.cache.putExact(depKey, []models.Dependable{ex})
	e.fetched(1)
	return ex, true, nil
}

// --- feegrants ---

// GetFeegrantAllowance returns the latest allowance row between a granter
// and grantee at or below the evaluation block, revocations included.
func (e *Env) GetFeegrantAllowance(ctx context.Context, granter, grantee string) (*models.FeegrantAllowance, bool, error) {
	depKey := models.DependentKey(models.NamespaceFeegrant, granter, grantee)
	e.rec.record(depKey, false)

	if rows, ok := e.cache.getExact(depKey); ok {
		if len(rows) == 0 {
			return nil, false, nil
		}
		fa, ok := rows[0].(*models.FeegrantAllowance)
		if !ok {
			return nil, false, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, rows[0], depKey)
		}
		return fa, true, nil
	}

	fa, err := e.store.GetFeegrantAllowance(ctx, granter, grantee, e.block.Height)
	if err != nil {
		return nil, false, &transportError{err}
	}
	if fa == nil {
		e.cache.putExact(depKey, nil)
		return nil, false, nil
	}
	e.cache.putExact(depKey, []models.Dependable{fa})
	e.fetched(1)
	return fa, true, nil
}

// HasFeegrantAllowance reports whether an active allowance exists between
// granter and grantee at the evaluation block.
func (e *Env) HasFeegrantAllowance(ctx context.Context, granter, grantee string) (bool, error) {
	fa, ok, err := e.GetFeegrantAllowance(ctx, granter, grantee)
	return ok && fa.Active, err
}

// GetFeegrantAllowances returns the active allowances an address has
// granted or received, one latest row per counterparty.
func (e *Env) GetFeegrantAllowances(ctx context.Context, address string, side models.FeegrantSide) ([]*models.FeegrantAllowance, error) {
	var depKey string
	switch side {
	case models.FeegrantSideGranted:
		depKey = models.DependentKey(models.NamespaceFeegrant, address, models.AnySubject)
	case models.FeegrantSideReceived:
		depKey = models.DependentKey(models.NamespaceFeegrant, models.AnySubject, address)
	default:
		return nil, fmt.Errorf("unknown feegrant side %q", side)
	}
	e.rec.record(depKey, false)

	rows, ok := e.cache.exact[depKey]
	if !ok {
		fas, err := e.store.ListFeegrantAllowances(ctx, address, side, e.block.Height)
		if err != nil {
			return nil, &transportError{err}
		}
		rows = make([]models.Dependable, len(fas))
		for i, fa := range fas {
			rows[i] = fa
		}
		e.cache.putExact(depKey, rows)
		e.fetched(len(rows))
	}

	out := make([]*models.FeegrantAllowance, 0, len(rows))
	for _, row := range rows {
		fa, ok := row.(*models.FeegrantAllowance)
		if !ok {
			return nil, fmt.Errorf("%w: %T under %s", ErrTypeMismatch, row, depKey)
		}
		out = append(out, fa)
	}
	return out, nil
}

// --- raw queries ---

// Query runs a single read-only SQL statement against the indexed
// database. Results are not dependency-tracked, so any formula using it
// must be registered as dynamic.
func (e *Env) Query(ctx context.Context, sql string, binds ...any) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(sql)
	// The keyword may be followed by any whitespace, not just a space, so
	// gate on the first token rather than a literal prefix.
	tokens := strings.Fields(strings.ToUpper(trimmed))
	if len(tokens) == 0 || (tokens[0] != "SELECT" && tokens[0] != "WITH") {
		return nil, fmt.Errorf("query must be a single SELECT or WITH statement")
	}
	if strings.Contains(strings.TrimRight(trimmed, "; \t\n"), ";") {
		return nil, fmt.Errorf("query must be a single statement")
	}
	rows, err := e.store.Query(ctx, trimmed, binds)
	if err != nil {
		return nil, &transportError{err}
	}
	e.fetched(len(rows))
	return rows, nil
}
