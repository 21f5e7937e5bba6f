package models

import (
	"strconv"
	"strings"
)

// Dependent key namespaces. Every event family the compute engine can read
// has exactly one namespace; a dependent key is the canonical string
// "namespace:subject[:suffix...]". The namespace tag is what routes a
// dependency back to its table when scanning for changes, replacing any
// per-family class identity.
const (
	NamespaceWasmState          = "wasm_state"
	NamespaceWasmTransformation = "wasm_transformation"
	NamespaceWasmTx             = "wasm_tx"
	NamespaceBankBalance        = "bank_balance"
	NamespaceStakingSlash       = "staking_slash"
	NamespaceGovProposal        = "gov_proposal"
	NamespaceGovProposalVote    = "gov_proposal_vote"
	NamespaceCommunityPool      = "community_pool"
	NamespaceExtraction         = "extraction"
	NamespaceFeegrant           = "feegrant"
)

// AnySubject is the feegrant "either side" sentinel. Inside the feegrant
// namespace (and the subject slot of wasm_transformation keys) it matches
// any value for that slot. It is never a glob: name globbing exists only
// inside the name part of wasm_transformation keys.
const AnySubject = "*"

// DependentKey assembles a canonical dependent key from its parts.
func DependentKey(namespace string, parts ...string) string {
	if len(parts) == 0 {
		return namespace
	}
	return namespace + ":" + strings.Join(parts, ":")
}

// SplitDependentKey splits a canonical dependent key into its namespace and
// the remainder. The remainder is empty for namespace-wide keys.
func SplitDependentKey(key string) (namespace, rest string) {
	if i := strings.Index(key, ":"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// Dependable is a row the environment memo can hold. DependentKey returns
// the canonical key identifying the row's (namespace, subject, key) slot;
// rows for the same slot at different heights share the same dependent key.
type Dependable interface {
	DependentKey() string
}

func (e *WasmStateEvent) DependentKey() string {
	return DependentKey(NamespaceWasmState, e.ContractAddress, e.Key)
}

func (t *Transformation) DependentKey() string {
	return DependentKey(NamespaceWasmTransformation, t.ContractAddress, t.Name)
}

func (e *WasmTxEvent) DependentKey() string {
	return DependentKey(NamespaceWasmTx, e.ContractAddress)
}

func (b *BankBalance) DependentKey() string {
	return DependentKey(NamespaceBankBalance, b.Address)
}

func (e *BankStateEvent) DependentKey() string {
	return DependentKey(NamespaceBankBalance, e.Address, e.Denom)
}

func (s *StakingSlashEvent) DependentKey() string {
	return DependentKey(NamespaceStakingSlash, s.ValidatorOperatorAddress)
}

func (p *GovProposal) DependentKey() string {
	return DependentKey(NamespaceGovProposal, strconv.FormatUint(p.ProposalID, 10))
}

func (v *GovProposalVote) DependentKey() string {
	return DependentKey(NamespaceGovProposalVote, strconv.FormatUint(v.ProposalID, 10), v.VoterAddress)
}

func (c *CommunityPoolSnapshot) DependentKey() string {
	return NamespaceCommunityPool
}

func (e *Extraction) DependentKey() string {
	return DependentKey(NamespaceExtraction, e.Address, e.Name)
}

func (f *FeegrantAllowance) DependentKey() string {
	return DependentKey(NamespaceFeegrant, f.Granter, f.Grantee)
}
