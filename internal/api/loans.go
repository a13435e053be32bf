package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"chamafund/internal/notify"
	"chamafund/internal/store"
)

type createLoanRequestRequest struct {
	RequesterID    string          `json:"requester_id"`
	GroupID        string          `json:"group_id"`
	Amount         decimal.Decimal `json:"amount"`
	Purpose        string          `json:"purpose"`
	RepaymentDate  *time.Time      `json:"repayment_date"`
	RepaymentTerms string          `json:"repayment_terms"`
	Installments   int             `json:"installments"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
}

type castVoteRequest struct {
	VoterID string `json:"voter_id"`
	Approve bool   `json:"approve"`
	Comment string `json:"comment"`
}

type loanRequestResponse struct {
	ID             int64           `json:"id"`
	RequesterID    string          `json:"requester_id"`
	GroupID        string          `json:"group_id"`
	Amount         decimal.Decimal `json:"amount"`
	Purpose        string          `json:"purpose"`
	RepaymentDate  *time.Time      `json:"repayment_date,omitempty"`
	RepaymentTerms string          `json:"repayment_terms"`
	Installments   int             `json:"installments"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type loanVoteResponse struct {
	ID            int64     `json:"id"`
	LoanRequestID int64     `json:"loan_request_id"`
	VoterID       string    `json:"voter_id"`
	MembershipID  int64     `json:"membership_id"`
	Approve       bool      `json:"approve"`
	Comment       string    `json:"comment"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type castVoteResponse struct {
	Vote               loanVoteResponse    `json:"vote"`
	LoanRequest        loanRequestResponse `json:"loan_request"`
	TotalActiveMembers int                 `json:"total_active_members"`
}

func (s *Server) handleCreateLoanRequest(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequestRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	req.GroupID = strings.TrimSpace(req.GroupID)
	if req.RequesterID == "" || req.GroupID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	loanRequest, err := s.store.CreateLoanRequest(r.Context(), store.CreateLoanRequestInput{
		RequesterID:    req.RequesterID,
		GroupID:        req.GroupID,
		Amount:         req.Amount,
		Purpose:        strings.TrimSpace(req.Purpose),
		RepaymentDate:  req.RepaymentDate,
		RepaymentTerms: strings.TrimSpace(req.RepaymentTerms),
		Installments:   req.Installments,
		InterestRate:   req.InterestRate,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "invalid_amount")
		case errors.Is(err, store.ErrNotAMember):
			writeError(w, http.StatusForbidden, "not_a_member")
		default:
			s.logger.Error("create loan request",
				slog.String("requester_id", req.RequesterID),
				slog.String("group_id", req.GroupID),
				slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	s.logger.Info("loan_request_created",
		slog.Int64("loan_request_id", loanRequest.ID),
		slog.String("requester_id", loanRequest.RequesterID),
		slog.String("group_id", loanRequest.GroupID),
		slog.String("amount", loanRequest.Amount.String()))

	s.notifyNewLoanRequest(r, loanRequest)

	writeJSON(w, http.StatusCreated, toLoanRequestResponse(loanRequest))
}

func (s *Server) handleListLoanRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.LoanRequestFilter{
		RequesterID:      q.Get("requester_id"),
		GroupID:          q.Get("group_id"),
		Status:           q.Get("status"),
		PendingForMember: q.Get("pending_for"),
	}
	if filter.Status != "" && !validStatus(filter.Status) {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}

	requests, err := s.store.ListLoanRequests(r.Context(), filter)
	if err != nil {
		s.logger.Error("list loan requests", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]loanRequestResponse, 0, len(requests))
	for _, req := range requests {
		out = append(out, toLoanRequestResponse(req))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetLoanRequest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	loanRequest, err := s.store.GetLoanRequest(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRequestNotFound):
			writeError(w, http.StatusNotFound, "request_not_found")
		default:
			s.logger.Error("get loan request", slog.Int64("loan_request_id", id), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, toLoanRequestResponse(loanRequest))
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	var req castVoteRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.VoterID = strings.TrimSpace(req.VoterID)
	if req.VoterID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	result, err := s.store.CastVote(r.Context(), store.CastVoteInput{
		VoterID:       req.VoterID,
		LoanRequestID: id,
		Approve:       req.Approve,
		Comment:       strings.TrimSpace(req.Comment),
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRequestNotFound):
			writeError(w, http.StatusNotFound, "request_not_found")
		case errors.Is(err, store.ErrRequestFinalized):
			writeError(w, http.StatusConflict, "request_finalized")
		case errors.Is(err, store.ErrNotAMember):
			writeError(w, http.StatusForbidden, "not_a_member")
		case errors.Is(err, store.ErrWalletNotFound):
			// Approval aborted because the borrower has no wallet. The
			// request stays pending; a user-visible but recoverable state.
			s.logger.Error("disbursement blocked, borrower has no wallet",
				slog.Int64("loan_request_id", id),
				slog.String("voter_id", req.VoterID))
			writeError(w, http.StatusConflict, "borrower_wallet_missing")
		case errors.Is(err, store.ErrInvariantViolation):
			s.logger.Error("ledger invariant violation on vote",
				slog.Int64("loan_request_id", id),
				slog.String("voter_id", req.VoterID),
				slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		default:
			s.logger.Error("cast vote",
				slog.Int64("loan_request_id", id),
				slog.String("voter_id", req.VoterID),
				slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	s.logger.Info("vote_cast",
		slog.Int64("loan_request_id", result.LoanRequest.ID),
		slog.String("voter_id", result.Vote.VoterID),
		slog.Bool("approve", result.Vote.Approve),
		slog.String("status", result.LoanRequest.Status),
		slog.Int("votes", result.Tally.Votes),
		slog.Int("active_members", result.Tally.ActiveMembers))

	s.notifyVoteOutcome(result)

	writeJSON(w, http.StatusOK, castVoteResponse{
		Vote:               toLoanVoteResponse(result.Vote),
		LoanRequest:        toLoanRequestResponse(result.LoanRequest),
		TotalActiveMembers: result.Tally.ActiveMembers,
	})
}

// notifyNewLoanRequest fans a creation notice out to the other active
// members. Runs after commit; any failure here is logged and swallowed.
func (s *Server) notifyNewLoanRequest(r *http.Request, loanRequest store.LoanRequest) {
	memberIDs, err := s.store.ActiveMemberIDs(r.Context(), loanRequest.GroupID, loanRequest.RequesterID)
	if err != nil {
		s.logger.Warn("notification fan-out skipped",
			slog.Int64("loan_request_id", loanRequest.ID),
			slog.Any("error", err))
		return
	}
	for _, memberID := range memberIDs {
		s.notifier.Enqueue(notify.Notification{
			MemberID:      memberID,
			Title:         "New loan request",
			Message:       fmt.Sprintf("A loan of %s was requested in your group", loanRequest.Amount),
			Type:          notify.TypeLoanRequestCreated,
			GroupID:       loanRequest.GroupID,
			LoanRequestID: loanRequest.ID,
		})
	}
}

func (s *Server) notifyVoteOutcome(result store.VoteResult) {
	req := result.LoanRequest

	n := notify.Notification{
		MemberID:      req.RequesterID,
		GroupID:       req.GroupID,
		LoanRequestID: req.ID,
	}

	switch {
	case req.Status == store.StatusApproved:
		n.Type = notify.TypeLoanApproved
		n.Title = "Loan approved"
		n.Message = fmt.Sprintf("Your loan request for %s was approved and disbursed", req.Amount)
	case req.Status == store.StatusRejected:
		n.Type = notify.TypeLoanRejected
		n.Title = "Loan rejected"
		n.Message = fmt.Sprintf("Your loan request for %s was rejected", req.Amount)
	case result.Tally.QuorumReached():
		n.Type = notify.TypeLoanVoteTied
		n.Title = "Loan vote tied"
		n.Message = "Voting on your loan request tied; the request stays open until a vote changes"
	default:
		return
	}

	s.notifier.Enqueue(n)
}

func validStatus(status string) bool {
	switch status {
	case store.StatusPending, store.StatusApproved, store.StatusRejected:
		return true
	}
	return false
}

func toLoanRequestResponse(req store.LoanRequest) loanRequestResponse {
	return loanRequestResponse{
		ID:             req.ID,
		RequesterID:    req.RequesterID,
		GroupID:        req.GroupID,
		Amount:         req.Amount,
		Purpose:        req.Purpose,
		RepaymentDate:  req.RepaymentDate,
		RepaymentTerms: req.RepaymentTerms,
		Installments:   req.Installments,
		InterestRate:   req.InterestRate,
		Status:         req.Status,
		CreatedAt:      req.CreatedAt,
		UpdatedAt:      req.UpdatedAt,
	}
}

func toLoanVoteResponse(v store.LoanVote) loanVoteResponse {
	return loanVoteResponse{
		ID:            v.ID,
		LoanRequestID: v.LoanRequestID,
		VoterID:       v.VoterID,
		MembershipID:  v.MembershipID,
		Approve:       v.Approve,
		Comment:       v.Comment,
		CreatedAt:     v.CreatedAt,
		UpdatedAt:     v.UpdatedAt,
	}
}
