package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wasmscan/internal/models"
)

const govProposalCols = `proposal_id, data, block_height, block_time_unix_ms`

// GetGovProposal returns the latest snapshot of one proposal at or below
// height.
func (r *Repository) GetGovProposal(ctx context.Context, proposalID, height uint64) (*models.GovProposal, error) {
	var p models.GovProposal
	err := r.db.QueryRow(ctx,
		`SELECT `+govProposalCols+` FROM gov_proposals
		 WHERE proposal_id = $1 AND block_height <= $2
		 ORDER BY block_height DESC LIMIT 1`,
		proposalID, height,
	).Scan(&p.ProposalID, &p.Data, &p.BlockHeight, &p.BlockTimeUnixMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListGovProposals returns the latest snapshot per proposal at or below
// height, ordered by proposal id, paginated after deduplication. The
// max-height subquery keeps the outer scan to one row per proposal.
func (r *Repository) ListGovProposals(ctx context.Context, height uint64, ascending bool, limit, offset int) ([]*models.GovProposal, error) {
	dir := "DESC"
	if ascending {
		dir = "ASC"
	}
	args := []any{height}
	query := `SELECT p.proposal_id, p.data, p.block_height, p.block_time_unix_ms
		 FROM gov_proposals p
		 JOIN (
		    SELECT proposal_id, MAX(block_height) AS block_height
		    FROM gov_proposals WHERE block_height <= $1
		    GROUP BY proposal_id
		 ) latest USING (proposal_id, block_height)
		 ORDER BY p.proposal_id ` + dir
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.GovProposal
	for rows.Next() {
		var p models.GovProposal
		if err := rows.Scan(&p.ProposalID, &p.Data, &p.BlockHeight, &p.BlockTimeUnixMs); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// CountGovProposals returns the number of distinct proposals that exist
// at or below height.
func (r *Repository) CountGovProposals(ctx context.Context, height uint64) (uint64, error) {
	var n uint64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(DISTINCT proposal_id) FROM gov_proposals WHERE block_height <= $1`,
		height).Scan(&n)
	return n, err
}

const govVoteCols = `proposal_id, voter_address, data, block_height, block_time_unix_ms`

// GetGovProposalVote returns one voter's latest vote on a proposal at or
// below height.
func (r *Repository) GetGovProposalVote(ctx context.Context, proposalID uint64, voter string, height uint64) (*models.GovProposalVote, error) {
	var v models.GovProposalVote
	err := r.db.QueryRow(ctx,
		`SELECT `+govVoteCols+` FROM gov_proposal_votes
		 WHERE proposal_id = $1 AND voter_address = $2 AND block_height <= $3
		 ORDER BY block_height DESC LIMIT 1`,
		proposalID, voter, height,
	).Scan(&v.ProposalID, &v.VoterAddress, &v.Data, &v.BlockHeight, &v.BlockTimeUnixMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListGovProposalVotes returns the latest vote per voter on a proposal at
// or below height, ordered by the height of that latest vote with voter
// address as a deterministic tie-break, paginated after deduplication.
func (r *Repository) ListGovProposalVotes(ctx context.Context, proposalID, height uint64, ascending bool, limit, offset int) ([]*models.GovProposalVote, error) {
	dir := "DESC"
	if ascending {
		dir = "ASC"
	}
	args := []any{proposalID, height}
	query := `SELECT * FROM (
		    SELECT DISTINCT ON (voter_address) ` + govVoteCols + `
		    FROM gov_proposal_votes
		    WHERE proposal_id = $1 AND block_height <= $2
		    ORDER BY voter_address, block_height DESC
		 ) latest ORDER BY block_height ` + dir + `, voter_address ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.GovProposalVote
	for rows.Next() {
		var v models.GovProposalVote
		if err := rows.Scan(&v.ProposalID, &v.VoterAddress, &v.Data, &v.BlockHeight, &v.BlockTimeUnixMs); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// CountGovProposalVotes returns the number of distinct voters on a
// proposal at or below height.
func (r *Repository) CountGovProposalVotes(ctx context.Context, proposalID, height uint64) (uint64, error) {
	var n uint64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(DISTINCT voter_address) FROM gov_proposal_votes
		 WHERE proposal_id = $1 AND block_height <= $2`,
		proposalID, height).Scan(&n)
	return n, err
}
