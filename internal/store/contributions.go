package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// RecordContribution moves funds from the member's wallet into their
// group membership balance. The wallet debit, membership credit and the
// contribution and transaction rows commit together or not at all. The
// wallet row lock serializes concurrent contributions against the same
// wallet.
func (s *Store) RecordContribution(ctx context.Context, input RecordContributionInput) (Contribution, error) {
	if !input.Amount.IsPositive() {
		return Contribution{}, ErrInvalidAmount
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return Contribution{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var balance decimal.Decimal
	err = tx.QueryRow(ctx, "SELECT balance FROM wallets WHERE member_id = $1 FOR UPDATE", input.MemberID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contribution{}, ErrWalletNotFound
		}
		return Contribution{}, err
	}

	var membershipID int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM memberships
		WHERE member_id = $1 AND group_id = $2 AND status = $3
		FOR UPDATE
	`, input.MemberID, input.GroupID, MembershipActive).Scan(&membershipID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contribution{}, ErrNotAMember
		}
		return Contribution{}, err
	}

	if balance.LessThan(input.Amount) {
		return Contribution{}, ErrInsufficientFunds
	}

	now := s.now().UTC()

	var txnID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO transactions (reference, amount, type, status, description, member_id, group_id, wallet_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, uuid.NewString(), input.Amount, TxTypeContribution, TxStatusCompleted, "group contribution",
		input.MemberID, input.GroupID, input.MemberID, now).Scan(&txnID)
	if err != nil {
		return Contribution{}, err
	}

	var c Contribution
	err = tx.QueryRow(ctx, `
		INSERT INTO contributions (member_id, group_id, amount, status, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, member_id, group_id, amount, status, transaction_id, created_at
	`, input.MemberID, input.GroupID, input.Amount, ContributionCompleted, txnID, now).Scan(
		&c.ID,
		&c.MemberID,
		&c.GroupID,
		&c.Amount,
		&c.Status,
		&c.TransactionID,
		&c.CreatedAt,
	)
	if err != nil {
		return Contribution{}, err
	}

	_, err = tx.Exec(ctx, "UPDATE wallets SET balance = balance - $1 WHERE member_id = $2", input.Amount, input.MemberID)
	if err != nil {
		if isCheckViolation(err) {
			return Contribution{}, ErrInvariantViolation
		}
		return Contribution{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE memberships
		SET balance = balance + $1,
		    total_contributed = total_contributed + $1,
		    last_contribution_at = $2
		WHERE id = $3
	`, input.Amount, now, membershipID)
	if err != nil {
		return Contribution{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Contribution{}, err
	}

	return c, nil
}
