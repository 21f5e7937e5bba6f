package compute

import (
	"context"

	"wasmscan/internal/models"
)

// EventStore is the read surface the engine needs over the exported chain
// state. Point reads return the most recent row at or below the given
// height, nil when no row qualifies. List reads return the latest row per
// key (or the full ascending history where noted). Implementations must not
// retry failed reads; errors surface unchanged as transport errors.
type EventStore interface {
	// Wasm state events. GetFirstWasmStateEvent reads ascending and skips
	// tombstones; valueMatch, when non-nil, is a JSONB containment
	// predicate on the stored value.
	GetWasmStateEvent(ctx context.Context, contract, key string, height uint64) (*models.WasmStateEvent, error)
	GetFirstWasmStateEvent(ctx context.Context, contract, key string, height uint64, valueMatch []byte) (*models.WasmStateEvent, error)
	ListWasmStateEventsByPrefix(ctx context.Context, contract, keyPrefix string, height uint64) ([]*models.WasmStateEvent, error)
	ListWasmStateEventsForKeys(ctx context.Context, contract string, keys, prefixes []string, height uint64) ([]*models.WasmStateEvent, error)

	// Transformations. nameLike and whereName use glob syntax ('*'
	// wildcards); prefix appends an implicit trailing wildcard to
	// nameLike. valueWhere, when non-nil, is a JSONB containment
	// predicate. Rows whose latest value is NULL are still returned so
	// callers can apply shadowing.
	ListTransformations(ctx context.Context, contract, nameLike string, prefix bool, whereName string, valueWhere []byte, height uint64) ([]*models.Transformation, error)
	ListTransformationsForNames(ctx context.Context, contract string, names, prefixes []string, height uint64) ([]*models.Transformation, error)
	GetFirstTransformation(ctx context.Context, contract, nameLike, whereName string, height uint64) (*models.Transformation, error)

	// Contracts and validators are registries, not event families: reads
	// are height-independent and record no dependencies.
	GetContract(ctx context.Context, address string) (*models.Contract, error)
	GetValidator(ctx context.Context, operatorAddress string) (*models.Validator, error)

	// Bank.
	GetBankBalance(ctx context.Context, address string, height uint64) (*models.BankBalance, error)
	GetBankStateEvent(ctx context.Context, address, denom string, height uint64) (*models.BankStateEvent, error)
	ListBankStateEvents(ctx context.Context, address string, height uint64) ([]*models.BankStateEvent, error)

	// Staking slashes, most recent registration first.
	ListSlashEvents(ctx context.Context, operatorAddress string, height uint64) ([]*models.StakingSlashEvent, error)

	// Wasm execution events, descending by height. msgWhere, when
	// non-nil, is a JSONB containment predicate on the execute msg.
	ListWasmTxEvents(ctx context.Context, contract string, msgWhere []byte, limit int, height uint64) ([]*models.WasmTxEvent, error)

	// Governance.
	GetGovProposal(ctx context.Context, proposalID, height uint64) (*models.GovProposal, error)
	ListGovProposals(ctx context.Context, height uint64, ascending bool, limit, offset int) ([]*models.GovProposal, error)
	CountGovProposals(ctx context.Context, height uint64) (uint64, error)
	GetGovProposalVote(ctx context.Context, proposalID uint64, voter string, height uint64) (*models.GovProposalVote, error)
	ListGovProposalVotes(ctx context.Context, proposalID, height uint64, ascending bool, limit, offset int) ([]*models.GovProposalVote, error)
	CountGovProposalVotes(ctx context.Context, proposalID, height uint64) (uint64, error)

	// Community pool, extractions, feegrants.
	GetCommunityPool(ctx context.Context, height uint64) (*models.CommunityPoolSnapshot, error)
	GetExtraction(ctx context.Context, address, name string, height uint64) (*models.Extraction, error)
	GetFeegrantAllowance(ctx context.Context, granter, grantee string, height uint64) (*models.FeegrantAllowance, error)
	ListFeegrantAllowances(ctx context.Context, address string, side models.FeegrantSide, height uint64) ([]*models.FeegrantAllowance, error)

	// Blocks. GetBlock is an exact lookup; the others resolve range and
	// time bounds against the indexed height universe.
	GetBlock(ctx context.Context, height uint64) (*models.Block, error)
	GetBlockAtOrAfter(ctx context.Context, height uint64) (*models.Block, error)
	GetFirstBlock(ctx context.Context) (*models.Block, error)
	GetLatestBlock(ctx context.Context) (*models.Block, error)
	GetBlockForTime(ctx context.Context, timeUnixMs uint64) (*models.Block, error)

	// NextDependencyChange returns the lowest height strictly above after
	// (and at most until, when until > 0) at which any of the given
	// dependencies gains a row. The bool is false when nothing changes in
	// the window.
	NextDependencyChange(ctx context.Context, deps []models.Dependency, after, until uint64) (uint64, bool, error)

	// Query is the read-only escape hatch for dynamic formulas. Results
	// are not dependency-tracked.
	Query(ctx context.Context, sql string, binds []any) ([]map[string]any, error)
}

// ComputationStore persists memoised computation results and their
// recorded dependencies.
type ComputationStore interface {
	// UpsertComputation inserts or replaces the row keyed by
	// (target, formula, args, block height) and returns its id.
	UpsertComputation(ctx context.Context, c *models.Computation) (int64, error)

	// GetComputation returns the most recent stored computation at or
	// below height for the given identity, nil when none exists.
	GetComputation(ctx context.Context, targetAddress, formula, args string, height uint64) (*models.Computation, error)

	// ListComputationsInRange returns stored computations with block
	// height in (after, until], ascending.
	ListComputationsInRange(ctx context.Context, targetAddress, formula, args string, after, until uint64) ([]*models.Computation, error)

	// UpdateComputationValidity raises latest_block_height_valid to
	// height; it never lowers it.
	UpdateComputationValidity(ctx context.Context, id int64, height uint64) error
}
