package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"wasmscan/internal/models"
)

// depScan is one per-table MIN(height) query assembled from the
// dependencies that live in that table.
type depScan struct {
	table     string
	heightCol string
	clauses   []string
	args      []any
}

// bind appends an argument and returns its positional placeholder.
func (s *depScan) bind(v any) string {
	s.args = append(s.args, v)
	return fmt.Sprintf("$%d", len(s.args))
}

// NextDependencyChange returns the lowest height strictly above after
// (and at most until, when until > 0) at which any of the given
// dependencies gains a row. Dependencies are grouped by namespace into
// one MIN-scan per table and the scans run concurrently.
func (r *Repository) NextDependencyChange(ctx context.Context, deps []models.Dependency, after, until uint64) (uint64, bool, error) {
	scans := map[string]*depScan{}
	scanFor := func(key, table, heightCol string) *depScan {
		s, ok := scans[key]
		if !ok {
			s = &depScan{table: table, heightCol: heightCol}
			scans[key] = s
		}
		return s
	}

	for _, dep := range deps {
		namespace, rest := models.SplitDependentKey(dep.Key)
		switch namespace {
		case models.NamespaceWasmState:
			s := scanFor(namespace, "wasm_state_events", "block_height")
			contract, key, hasKey := strings.Cut(rest, ":")
			switch {
			case !hasKey:
				s.clauses = append(s.clauses, "contract_address = "+s.bind(contract))
			case dep.Prefix:
				s.clauses = append(s.clauses, "(contract_address = "+s.bind(contract)+" AND key LIKE "+s.bind(likePrefix(key))+")")
			default:
				s.clauses = append(s.clauses, "(contract_address = "+s.bind(contract)+" AND key = "+s.bind(key)+")")
			}

		case models.NamespaceWasmTransformation:
			s := scanFor(namespace, "wasm_state_transformations", "block_height")
			contract, name, _ := strings.Cut(rest, ":")
			pattern := globToLike(name)
			if dep.Prefix {
				pattern += "%"
			}
			if contract == models.AnySubject {
				s.clauses = append(s.clauses, "name LIKE "+s.bind(pattern))
			} else {
				s.clauses = append(s.clauses, "(contract_address = "+s.bind(contract)+" AND name LIKE "+s.bind(pattern)+")")
			}

		case models.NamespaceWasmTx:
			s := scanFor(namespace, "wasm_tx_events", "block_height")
			s.clauses = append(s.clauses, "contract_address = "+s.bind(rest))

		case models.NamespaceBankBalance:
			// A wallet dependency moves when either the per-denom history
			// gains a row or the whole-wallet snapshot is bumped.
			address, denom, hasDenom := strings.Cut(rest, ":")
			h := scanFor(namespace+":history", "bank_state_events", "block_height")
			if hasDenom && !dep.Prefix {
				h.clauses = append(h.clauses, "(address = "+h.bind(address)+" AND denom = "+h.bind(denom)+")")
			} else {
				h.clauses = append(h.clauses, "address = "+h.bind(address))
			}
			s := scanFor(namespace+":snapshot", "bank_balances", "block_height")
			s.clauses = append(s.clauses, "address = "+s.bind(address))

		case models.NamespaceStakingSlash:
			s := scanFor(namespace, "staking_slash_events", "registered_block_height")
			s.clauses = append(s.clauses, "validator_operator_address = "+s.bind(rest))

		case models.NamespaceGovProposal:
			s := scanFor(namespace, "gov_proposals", "block_height")
			if rest == "" {
				s.clauses = append(s.clauses, "TRUE")
			} else {
				id, err := strconv.ParseUint(rest, 10, 64)
				if err != nil {
					return 0, false, fmt.Errorf("bad proposal id in key %q: %w", dep.Key, err)
				}
				s.clauses = append(s.clauses, "proposal_id = "+s.bind(id))
			}

		case models.NamespaceGovProposalVote:
			s := scanFor(namespace, "gov_proposal_votes", "block_height")
			idPart, voter, hasVoter := strings.Cut(rest, ":")
			if rest == "" {
				s.clauses = append(s.clauses, "TRUE")
				break
			}
			id, err := strconv.ParseUint(idPart, 10, 64)
			if err != nil {
				return 0, false, fmt.Errorf("bad proposal id in key %q: %w", dep.Key, err)
			}
			if hasVoter && !dep.Prefix {
				s.clauses = append(s.clauses, "(proposal_id = "+s.bind(id)+" AND voter_address = "+s.bind(voter)+")")
			} else {
				s.clauses = append(s.clauses, "proposal_id = "+s.bind(id))
			}

		case models.NamespaceCommunityPool:
			s := scanFor(namespace, "community_pool_snapshots", "block_height")
			s.clauses = append(s.clauses, "TRUE")

		case models.NamespaceExtraction:
			s := scanFor(namespace, "extractions", "block_height")
			address, name, hasName := strings.Cut(rest, ":")
			if hasName {
				s.clauses = append(s.clauses, "(address = "+s.bind(address)+" AND name = "+s.bind(name)+")")
			} else {
				s.clauses = append(s.clauses, "address = "+s.bind(address))
			}

		case models.NamespaceFeegrant:
			s := scanFor(namespace, "feegrant_allowances", "block_height")
			granter, grantee, _ := strings.Cut(rest, ":")
			var parts []string
			if granter != models.AnySubject {
				parts = append(parts, "granter = "+s.bind(granter))
			}
			if grantee != models.AnySubject {
				parts = append(parts, "grantee = "+s.bind(grantee))
			}
			if len(parts) == 0 {
				s.clauses = append(s.clauses, "TRUE")
			} else {
				s.clauses = append(s.clauses, "("+strings.Join(parts, " AND ")+")")
			}

		default:
			return 0, false, fmt.Errorf("unknown dependency namespace in key %q", dep.Key)
		}
	}

	if len(scans) == 0 {
		return 0, false, nil
	}

	var (
		mu    sync.Mutex
		best  uint64
		found bool
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range scans {
		s := s
		g.Go(func() error {
			h, ok, err := r.minChangeHeight(gctx, s, after, until)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				if !found || h < best {
					best, found = h, true
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, false, err
	}
	return best, found, nil
}

func (r *Repository) minChangeHeight(ctx context.Context, s *depScan, after, until uint64) (uint64, bool, error) {
	args := append([]any{}, s.args...)
	args = append(args, after)
	query := fmt.Sprintf(`SELECT MIN(%s) FROM %s WHERE (%s) AND %s > $%d`,
		s.heightCol, s.table, strings.Join(s.clauses, " OR "), s.heightCol, len(args))
	if until > 0 {
		args = append(args, until)
		query += fmt.Sprintf(" AND %s <= $%d", s.heightCol, len(args))
	}

	var h *uint64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&h); err != nil {
		return 0, false, err
	}
	if h == nil {
		return 0, false, nil
	}
	return *h, true, nil
}
