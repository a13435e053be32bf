package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RegisterWallet creates the member's wallet with a zero balance. The
// member id comes from the identity provider and is trusted as-is.
func (s *Store) RegisterWallet(ctx context.Context, memberID string) (Wallet, error) {
	var w Wallet
	err := s.pool.QueryRow(ctx, `
		INSERT INTO wallets (member_id, balance, created_at)
		VALUES ($1, 0, $2)
		RETURNING member_id, balance, created_at
	`, memberID, s.now().UTC()).Scan(
		&w.MemberID,
		&w.Balance,
		&w.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Wallet{}, ErrWalletExists
		}
		return Wallet{}, err
	}
	return w, nil
}

func (s *Store) GetWallet(ctx context.Context, memberID string) (Wallet, error) {
	var w Wallet
	err := s.pool.QueryRow(ctx, `
		SELECT member_id, balance, created_at
		FROM wallets
		WHERE member_id = $1
	`, memberID).Scan(
		&w.MemberID,
		&w.Balance,
		&w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

// CreateGroup creates a savings group. An empty id gets a generated one.
func (s *Store) CreateGroup(ctx context.Context, id, name string) (Group, error) {
	if id == "" {
		id = uuid.NewString()
	}
	var g Group
	err := s.pool.QueryRow(ctx, `
		INSERT INTO groups (id, name, created_at)
		VALUES ($1, $2, $3)
		RETURNING id, name, created_at
	`, id, name, s.now().UTC()).Scan(
		&g.ID,
		&g.Name,
		&g.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Group{}, ErrGroupExists
		}
		return Group{}, err
	}
	return g, nil
}

// JoinGroup creates an active membership for the member in the group.
// The member must already hold a wallet.
func (s *Store) JoinGroup(ctx context.Context, memberID, groupID, role string) (Membership, error) {
	if role == "" {
		role = RoleMember
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return Membership{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)", groupID).Scan(&exists); err != nil {
		return Membership{}, err
	}
	if !exists {
		return Membership{}, ErrGroupNotFound
	}

	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM wallets WHERE member_id = $1)", memberID).Scan(&exists); err != nil {
		return Membership{}, err
	}
	if !exists {
		return Membership{}, ErrWalletNotFound
	}

	var m Membership
	err = tx.QueryRow(ctx, `
		INSERT INTO memberships (member_id, group_id, role, status, balance, total_contributed, created_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5)
		RETURNING id, member_id, group_id, role, status, balance, total_contributed, last_contribution_at, created_at
	`, memberID, groupID, role, MembershipActive, s.now().UTC()).Scan(
		&m.ID,
		&m.MemberID,
		&m.GroupID,
		&m.Role,
		&m.Status,
		&m.Balance,
		&m.TotalContributed,
		&m.LastContributionAt,
		&m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Membership{}, ErrAlreadyMember
		}
		return Membership{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Membership{}, err
	}

	return m, nil
}

func (s *Store) GetMembership(ctx context.Context, memberID, groupID string) (Membership, error) {
	var m Membership
	err := s.pool.QueryRow(ctx, `
		SELECT id, member_id, group_id, role, status, balance, total_contributed, last_contribution_at, created_at
		FROM memberships
		WHERE member_id = $1 AND group_id = $2
	`, memberID, groupID).Scan(
		&m.ID,
		&m.MemberID,
		&m.GroupID,
		&m.Role,
		&m.Status,
		&m.Balance,
		&m.TotalContributed,
		&m.LastContributionAt,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Membership{}, ErrNotAMember
		}
		return Membership{}, err
	}
	return m, nil
}

// ActiveMemberIDs lists the group's active members, minus an optional
// excluded member. Used for notification fan-out.
func (s *Store) ActiveMemberIDs(ctx context.Context, groupID, excludeMemberID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT member_id
		FROM memberships
		WHERE group_id = $1 AND status = $2 AND member_id <> $3
		ORDER BY member_id
	`, groupID, MembershipActive, excludeMemberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
