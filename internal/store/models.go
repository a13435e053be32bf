package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Loan request lifecycle. Pending is the only state that accepts votes;
// approved and rejected are terminal.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

const (
	MembershipActive    = "active"
	MembershipSuspended = "suspended"
	MembershipInactive  = "inactive"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

const (
	TxTypeContribution = "contribution"
	TxTypeDisbursement = "loan_disbursement"
	TxStatusCompleted  = "completed"
)

const ContributionCompleted = "completed"

type Wallet struct {
	MemberID  string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

type Group struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Membership ties a member to a group. Balance is the member's capital
// still pooled in the group; TotalContributed only ever grows.
type Membership struct {
	ID                 int64
	MemberID           string
	GroupID            string
	Role               string
	Status             string
	Balance            decimal.Decimal
	TotalContributed   decimal.Decimal
	LastContributionAt *time.Time
	CreatedAt          time.Time
}

type Contribution struct {
	ID            int64
	MemberID      string
	GroupID       string
	Amount        decimal.Decimal
	Status        string
	TransactionID int64
	CreatedAt     time.Time
}

type Transaction struct {
	ID          int64
	Reference   string
	Amount      decimal.Decimal
	Type        string
	Status      string
	Description string
	MemberID    string
	GroupID     *string
	WalletID    *string
	CreatedAt   time.Time
}

type LoanRequest struct {
	ID             int64
	RequesterID    string
	GroupID        string
	Amount         decimal.Decimal
	Purpose        string
	RepaymentDate  *time.Time
	RepaymentTerms string
	Installments   int
	InterestRate   decimal.Decimal
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type LoanVote struct {
	ID            int64
	LoanRequestID int64
	VoterID       string
	MembershipID  int64
	Approve       bool
	Comment       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type RecordContributionInput struct {
	MemberID string
	GroupID  string
	Amount   decimal.Decimal
}

type CreateLoanRequestInput struct {
	RequesterID    string
	GroupID        string
	Amount         decimal.Decimal
	Purpose        string
	RepaymentDate  *time.Time
	RepaymentTerms string
	Installments   int
	InterestRate   decimal.Decimal
}

type CastVoteInput struct {
	VoterID       string
	LoanRequestID int64
	Approve       bool
	Comment       string
}

// VoteResult is what CastVote hands back: the stored vote, the request
// as it stands after the tally ran, and the tally itself.
type VoteResult struct {
	Vote        LoanVote
	LoanRequest LoanRequest
	Tally       Tally
}

// LoanRequestFilter narrows ListLoanRequests. Zero-value fields are
// ignored; set fields combine with AND. PendingForMember selects pending
// requests in every group where that member holds an active membership.
type LoanRequestFilter struct {
	RequesterID      string
	GroupID          string
	Status           string
	PendingForMember string
}
