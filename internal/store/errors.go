package store

import "errors"

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrWalletExists      = errors.New("wallet exists")
	ErrGroupNotFound     = errors.New("group not found")
	ErrGroupExists       = errors.New("group exists")
	ErrAlreadyMember     = errors.New("already a member")
	ErrNotAMember        = errors.New("not an active member")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRequestNotFound   = errors.New("loan request not found")
	ErrRequestFinalized  = errors.New("loan request already finalized")

	// ErrInvariantViolation means the database rejected a write that the
	// in-transaction guards should have made impossible. It signals a bug,
	// not a user error; callers log it with full context.
	ErrInvariantViolation = errors.New("ledger invariant violation")
)
