package models

import (
	"encoding/json"
	"time"
)

// Block is one row of the 'blocks' table. Height and time always move
// together; TimeUnixMs is the block timestamp in Unix milliseconds.
type Block struct {
	Height     uint64 `json:"height"`
	TimeUnixMs uint64 `json:"timeUnixMs"`
}

// Time returns the block timestamp as a time.Time in UTC.
func (b Block) Time() time.Time {
	return time.UnixMilli(int64(b.TimeUnixMs)).UTC()
}

// State is the singleton 'state' table row maintained by the exporter.
type State struct {
	ChainID               string `json:"chain_id"`
	LatestBlockHeight     uint64 `json:"latest_block_height"`
	LatestBlockTimeUnixMs uint64 `json:"latest_block_time_unix_ms"`
}

// LatestBlock returns the state's latest block as a Block.
func (s State) LatestBlock() Block {
	return Block{Height: s.LatestBlockHeight, TimeUnixMs: s.LatestBlockTimeUnixMs}
}

// WasmStateEvent is one versioned write to a contract storage key.
// Key is the hex encoding of the composed storage key. Deleted rows are
// first-class tombstones: the key reads as absent from that height onward.
type WasmStateEvent struct {
	ContractAddress string          `json:"contract_address"`
	Key             string          `json:"key"` // hex-encoded composed key
	Value           json.RawMessage `json:"value"`
	Deleted         bool            `json:"deleted"`
	BlockHeight     uint64          `json:"block_height"`
	BlockTimeUnixMs uint64          `json:"block_time_unix_ms"`
}

// Transformation is one versioned row of a derived wasm state view
// (the 'wasm_state_transformations' table). A NULL value means "absent".
type Transformation struct {
	ContractAddress string          `json:"contract_address"`
	Name            string          `json:"name"`
	Value           json.RawMessage `json:"value"` // nil = absent
	BlockHeight     uint64          `json:"block_height"`
	BlockTimeUnixMs uint64          `json:"block_time_unix_ms"`
}

// WasmTxEvent is one contract execution recorded by the exporter.
type WasmTxEvent struct {
	ContractAddress string          `json:"contract_address"`
	Sender          string          `json:"sender"`
	Action          string          `json:"action"`
	Msg             json.RawMessage `json:"msg"`
	Funds           json.RawMessage `json:"funds,omitempty"`
	Reply           json.RawMessage `json:"reply,omitempty"`
	TxIndex         int             `json:"tx_index"`
	MessageIndex    int             `json:"message_index"`
	BlockHeight     uint64          `json:"block_height"`
	BlockTimeUnixMs uint64          `json:"block_time_unix_ms"`
}

// BankBalance is the latest-snapshot balances row for an address: exactly
// one row per address, bumped in place by the exporter. Balances maps
// denom to integer amount (as a string).
type BankBalance struct {
	Address         string            `json:"address"`
	Balances        map[string]string `json:"balances"`
	BlockHeight     uint64            `json:"block_height"`
	BlockTimeUnixMs uint64            `json:"block_time_unix_ms"`
}

// BankStateEvent is one versioned per-denom balance write. Only contracts
// whose code id is in the configured "track bank history" set have full
// history here.
type BankStateEvent struct {
	Address         string `json:"address"`
	Denom           string `json:"denom"`
	Balance         string `json:"balance"`
	BlockHeight     uint64 `json:"block_height"`
	BlockTimeUnixMs uint64 `json:"block_time_unix_ms"`
}

// StakingSlashEvent is one slash applied to a validator.
// RegisteredBlockHeight is the height the slash was registered at (the
// row's version); InfractionBlockHeight is the height of the offence.
type StakingSlashEvent struct {
	ValidatorOperatorAddress  string `json:"validator_operator_address"`
	RegisteredBlockHeight     uint64 `json:"registered_block_height"`
	RegisteredBlockTimeUnixMs uint64 `json:"registered_block_time_unix_ms"`
	InfractionBlockHeight     uint64 `json:"infraction_block_height"`
	SlashFactor               string `json:"slash_factor"`
	AmountSlashed             string `json:"amount_slashed"`
	EffectiveFraction         string `json:"effective_fraction"`
	StakedTokensBurned        string `json:"staked_tokens_burned"`
}

// GovProposal is one versioned snapshot of a governance proposal.
type GovProposal struct {
	ProposalID      uint64          `json:"proposal_id"`
	Data            json.RawMessage `json:"data"`
	BlockHeight     uint64          `json:"block_height"`
	BlockTimeUnixMs uint64          `json:"block_time_unix_ms"`
}

// GovProposalVote is one versioned vote on a proposal by a voter.
type GovProposalVote struct {
	ProposalID      uint64          `json:"proposal_id"`
	VoterAddress    string          `json:"voter_address"`
	Data            json.RawMessage `json:"data"`
	BlockHeight     uint64          `json:"block_height"`
	BlockTimeUnixMs uint64          `json:"block_time_unix_ms"`
}

// CommunityPoolSnapshot is one versioned snapshot of the community pool
// balances (denom -> amount).
type CommunityPoolSnapshot struct {
	Balances        map[string]string `json:"balances"`
	BlockHeight     uint64            `json:"block_height"`
	BlockTimeUnixMs uint64            `json:"block_time_unix_ms"`
}

// Extraction is a named datum pulled out of a contract by the exporter's
// extractors.
type Extraction struct {
	Address         string          `json:"address"`
	Name            string          `json:"name"`
	Data            json.RawMessage `json:"data"`
	BlockHeight     uint64          `json:"block_height"`
	TxHash          string          `json:"tx_hash,omitempty"`
	BlockTimeUnixMs uint64          `json:"block_time_unix_ms"`
}

// FeegrantAllowance is one versioned fee-grant between a granter and a
// grantee. Active=false rows record revocations.
type FeegrantAllowance struct {
	Granter         string          `json:"granter"`
	Grantee         string          `json:"grantee"`
	AllowanceData   json.RawMessage `json:"allowance_data,omitempty"`
	AllowanceType   string          `json:"allowance_type,omitempty"`
	Active          bool            `json:"active"`
	BlockHeight     uint64          `json:"block_height"`
	BlockTimeUnixMs uint64          `json:"block_time_unix_ms"`
}

// FeegrantSide selects which side of a fee-grant an address is on.
type FeegrantSide string

const (
	FeegrantSideGranted  FeegrantSide = "granted"
	FeegrantSideReceived FeegrantSide = "received"
)

// Contract maps a contract address to its code id.
type Contract struct {
	Address                       string `json:"address"`
	CodeID                        uint64 `json:"code_id"`
	Admin                         string `json:"admin,omitempty"`
	Creator                       string `json:"creator,omitempty"`
	Label                         string `json:"label,omitempty"`
	InstantiatedAtBlockHeight     uint64 `json:"instantiated_at_block_height"`
	InstantiatedAtBlockTimeUnixMs uint64 `json:"instantiated_at_block_time_unix_ms"`
}

// Validator is one row of the 'validators' table.
type Validator struct {
	OperatorAddress  string `json:"operator_address"`
	ConsensusAddress string `json:"consensus_address,omitempty"`
	Moniker          string `json:"moniker,omitempty"`
}

// Dependency is one datum a computation inspected: either an exact
// dependent key or a prefix of dependent keys.
type Dependency struct {
	Key    string `json:"key"`
	Prefix bool   `json:"prefix"`
}

// Computation is one persisted formula evaluation together with the
// interval [BlockHeight, LatestBlockHeightValid] over which its output is
// provably unchanged. Args holds the canonical (key-sorted) JSON encoding
// of the formula arguments. A nil Output records that the formula returned
// no value at that block.
type Computation struct {
	ID                       int64           `json:"id"`
	TargetAddress            string          `json:"target_address"`
	Formula                  string          `json:"formula"`
	Args                     string          `json:"args"`
	BlockHeight              uint64          `json:"block_height"`
	BlockTimeUnixMs          uint64          `json:"block_time_unix_ms"`
	LatestBlockHeightValid   uint64          `json:"latest_block_height_valid"`
	Output                   json.RawMessage `json:"output"` // nil = no value
	DependentEvents          []Dependency    `json:"dependent_events"`
	DependentTransformations []Dependency    `json:"dependent_transformations"`
}

// Block returns the computation's evaluation block.
func (c *Computation) Block() Block {
	return Block{Height: c.BlockHeight, TimeUnixMs: c.BlockTimeUnixMs}
}

// Account is an API consumer with a credit balance. APIKeyHash is the hex
// sha256 of the issued key; the key itself is never stored.
type Account struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	APIKeyHash       string    `json:"-"`
	CreditsRemaining int64     `json:"credits_remaining"`
	CreatedAt        time.Time `json:"created_at"`
}
