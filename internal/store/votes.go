package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// CastVote upserts the voter's vote and re-evaluates quorum, all inside
// one transaction holding the loan request row lock. The lock serializes
// concurrent votes on the same request: exactly one transaction observes
// the tally complete and finalizes, and any vote arriving after that
// re-reads the terminal status and fails with ErrRequestFinalized.
// Disbursement happens in the same commit as the approved transition.
func (s *Store) CastVote(ctx context.Context, input CastVoteInput) (VoteResult, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return VoteResult{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var req LoanRequest
	err = tx.QueryRow(ctx, `
		SELECT `+loanRequestColumns+`
		FROM loan_requests
		WHERE id = $1
		FOR UPDATE
	`, input.LoanRequestID).Scan(loanRequestFields(&req)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VoteResult{}, ErrRequestNotFound
		}
		return VoteResult{}, err
	}
	if req.Status != StatusPending {
		return VoteResult{}, ErrRequestFinalized
	}

	var membershipID int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM memberships
		WHERE member_id = $1 AND group_id = $2 AND status = $3
	`, input.VoterID, req.GroupID, MembershipActive).Scan(&membershipID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VoteResult{}, ErrNotAMember
		}
		return VoteResult{}, err
	}

	now := s.now().UTC()

	var v LoanVote
	err = tx.QueryRow(ctx, `
		INSERT INTO loan_votes (loan_request_id, voter_id, membership_id, approve, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (loan_request_id, voter_id)
		DO UPDATE SET approve = EXCLUDED.approve, comment = EXCLUDED.comment, updated_at = EXCLUDED.updated_at
		RETURNING id, loan_request_id, voter_id, membership_id, approve, comment, created_at, updated_at
	`, input.LoanRequestID, input.VoterID, membershipID, input.Approve, input.Comment, now).Scan(
		&v.ID,
		&v.LoanRequestID,
		&v.VoterID,
		&v.MembershipID,
		&v.Approve,
		&v.Comment,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return VoteResult{}, err
	}

	tally, err := countTally(ctx, tx, req)
	if err != nil {
		return VoteResult{}, err
	}

	if outcome := tally.Outcome(); outcome != StatusPending {
		if outcome == StatusApproved {
			if err := disburse(ctx, tx, req, now); err != nil {
				return VoteResult{}, err
			}
		}
		if _, err := tx.Exec(ctx, "UPDATE loan_requests SET status = $1, updated_at = $2 WHERE id = $3",
			outcome, now, req.ID); err != nil {
			return VoteResult{}, err
		}
		req.Status = outcome
		req.UpdatedAt = now
	}

	if err := tx.Commit(ctx); err != nil {
		return VoteResult{}, err
	}

	return VoteResult{Vote: v, LoanRequest: req, Tally: tally}, nil
}

func countTally(ctx context.Context, tx pgx.Tx, req LoanRequest) (Tally, error) {
	var t Tally
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM memberships
		WHERE group_id = $1 AND status = $2
	`, req.GroupID, MembershipActive).Scan(&t.ActiveMembers)
	if err != nil {
		return Tally{}, err
	}

	err = tx.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE approve),
		       COUNT(*) FILTER (WHERE NOT approve)
		FROM loan_votes
		WHERE loan_request_id = $1
	`, req.ID).Scan(&t.Votes, &t.Approvals, &t.Rejections)
	if err != nil {
		return Tally{}, err
	}
	return t, nil
}

// disburse credits the borrower's wallet, records the ledger entry and
// draws the amount down against the borrower's membership balance. A
// missing wallet aborts the whole transaction, so the approved status
// can never commit without its disbursement.
func disburse(ctx context.Context, tx pgx.Tx, req LoanRequest, now time.Time) error {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, "SELECT balance FROM wallets WHERE member_id = $1 FOR UPDATE", req.RequesterID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrWalletNotFound
		}
		return err
	}

	if _, err := tx.Exec(ctx, "UPDATE wallets SET balance = balance + $1 WHERE member_id = $2",
		req.Amount, req.RequesterID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO transactions (reference, amount, type, status, description, member_id, group_id, wallet_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.NewString(), req.Amount, TxTypeDisbursement, TxStatusCompleted, "loan disbursement",
		req.RequesterID, req.GroupID, req.RequesterID, now); err != nil {
		return err
	}

	// The membership balance may go negative when the loan exceeds the
	// borrower's own contributions; only the wallet is non-negative.
	if _, err := tx.Exec(ctx, `
		UPDATE memberships
		SET balance = balance - $1
		WHERE member_id = $2 AND group_id = $3
	`, req.Amount, req.RequesterID, req.GroupID); err != nil {
		return err
	}

	return nil
}
