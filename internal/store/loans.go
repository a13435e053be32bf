package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

const loanRequestColumns = `id, requester_id, group_id, amount, purpose, repayment_date, repayment_terms, installments, interest_rate, status, created_at, updated_at`

// CreateLoanRequest inserts a pending request on behalf of an active
// group member. Notification fan-out to the other members happens at the
// caller, after commit.
func (s *Store) CreateLoanRequest(ctx context.Context, input CreateLoanRequestInput) (LoanRequest, error) {
	if !input.Amount.IsPositive() {
		return LoanRequest{}, ErrInvalidAmount
	}
	if input.Installments <= 0 {
		input.Installments = 1
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return LoanRequest{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM memberships
			WHERE member_id = $1 AND group_id = $2 AND status = $3
		)
	`, input.RequesterID, input.GroupID, MembershipActive).Scan(&exists)
	if err != nil {
		return LoanRequest{}, err
	}
	if !exists {
		return LoanRequest{}, ErrNotAMember
	}

	now := s.now().UTC()

	var req LoanRequest
	err = tx.QueryRow(ctx, `
		INSERT INTO loan_requests (requester_id, group_id, amount, purpose, repayment_date, repayment_terms, installments, interest_rate, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING `+loanRequestColumns+`
	`, input.RequesterID, input.GroupID, input.Amount, input.Purpose, input.RepaymentDate,
		input.RepaymentTerms, input.Installments, input.InterestRate, StatusPending, now).Scan(
		loanRequestFields(&req)...,
	)
	if err != nil {
		return LoanRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return LoanRequest{}, err
	}

	return req, nil
}

func (s *Store) GetLoanRequest(ctx context.Context, id int64) (LoanRequest, error) {
	var req LoanRequest
	err := s.pool.QueryRow(ctx, `
		SELECT `+loanRequestColumns+`
		FROM loan_requests
		WHERE id = $1
	`, id).Scan(loanRequestFields(&req)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LoanRequest{}, ErrRequestNotFound
		}
		return LoanRequest{}, err
	}
	return req, nil
}

// ListLoanRequests returns requests matching the filter, newest first.
func (s *Store) ListLoanRequests(ctx context.Context, filter LoanRequestFilter) ([]LoanRequest, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.RequesterID != "" {
		conds = append(conds, "requester_id = "+arg(filter.RequesterID))
	}
	if filter.GroupID != "" {
		conds = append(conds, "group_id = "+arg(filter.GroupID))
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+arg(filter.Status))
	}
	if filter.PendingForMember != "" {
		conds = append(conds, "status = "+arg(StatusPending))
		conds = append(conds, `group_id IN (
			SELECT group_id FROM memberships
			WHERE member_id = `+arg(filter.PendingForMember)+` AND status = `+arg(MembershipActive)+`
		)`)
	}

	query := "SELECT " + loanRequestColumns + " FROM loan_requests"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []LoanRequest
	for rows.Next() {
		var req LoanRequest
		if err := rows.Scan(loanRequestFields(&req)...); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func loanRequestFields(req *LoanRequest) []any {
	return []any{
		&req.ID,
		&req.RequesterID,
		&req.GroupID,
		&req.Amount,
		&req.Purpose,
		&req.RepaymentDate,
		&req.RepaymentTerms,
		&req.Installments,
		&req.InterestRate,
		&req.Status,
		&req.CreatedAt,
		&req.UpdatedAt,
	}
}
