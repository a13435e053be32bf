package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"chamafund/internal/store"
)

type registerWalletRequest struct {
	MemberID string `json:"member_id"`
}

type createGroupRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type joinGroupRequest struct {
	MemberID string `json:"member_id"`
	Role     string `json:"role"`
}

type recordContributionRequest struct {
	MemberID string          `json:"member_id"`
	GroupID  string          `json:"group_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type walletResponse struct {
	MemberID  string          `json:"member_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

type groupResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type membershipResponse struct {
	ID                 int64           `json:"id"`
	MemberID           string          `json:"member_id"`
	GroupID            string          `json:"group_id"`
	Role               string          `json:"role"`
	Status             string          `json:"status"`
	Balance            decimal.Decimal `json:"balance"`
	TotalContributed   decimal.Decimal `json:"total_contributed"`
	LastContributionAt *time.Time      `json:"last_contribution_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

type contributionResponse struct {
	ID            int64           `json:"id"`
	MemberID      string          `json:"member_id"`
	GroupID       string          `json:"group_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	TransactionID int64           `json:"transaction_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (s *Server) handleRegisterWallet(w http.ResponseWriter, r *http.Request) {
	var req registerWalletRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.MemberID = strings.TrimSpace(req.MemberID)
	if req.MemberID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	wallet, err := s.store.RegisterWallet(r.Context(), req.MemberID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrWalletExists):
			writeError(w, http.StatusConflict, "wallet_exists")
		default:
			s.logger.Error("register wallet", slog.String("member_id", req.MemberID), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	s.logger.Info("wallet_registered", slog.String("member_id", wallet.MemberID))
	writeJSON(w, http.StatusCreated, toWalletResponse(wallet))
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	memberID := mux.Vars(r)["memberID"]

	wallet, err := s.store.GetWallet(r.Context(), memberID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrWalletNotFound):
			writeError(w, http.StatusNotFound, "wallet_not_found")
		default:
			s.logger.Error("get wallet", slog.String("member_id", memberID), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, toWalletResponse(wallet))
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	group, err := s.store.CreateGroup(r.Context(), strings.TrimSpace(req.ID), req.Name)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrGroupExists):
			writeError(w, http.StatusConflict, "group_exists")
		default:
			s.logger.Error("create group", slog.String("name", req.Name), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	s.logger.Info("group_created", slog.String("group_id", group.ID), slog.String("name", group.Name))
	writeJSON(w, http.StatusCreated, groupResponse{ID: group.ID, Name: group.Name, CreatedAt: group.CreatedAt})
}

func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupID"]

	var req joinGroupRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.MemberID = strings.TrimSpace(req.MemberID)
	if req.MemberID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	membership, err := s.store.JoinGroup(r.Context(), req.MemberID, groupID, strings.TrimSpace(req.Role))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrGroupNotFound):
			writeError(w, http.StatusNotFound, "group_not_found")
		case errors.Is(err, store.ErrWalletNotFound):
			writeError(w, http.StatusNotFound, "wallet_not_found")
		case errors.Is(err, store.ErrAlreadyMember):
			writeError(w, http.StatusConflict, "already_member")
		default:
			s.logger.Error("join group",
				slog.String("member_id", req.MemberID),
				slog.String("group_id", groupID),
				slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	s.logger.Info("member_joined",
		slog.String("member_id", membership.MemberID),
		slog.String("group_id", membership.GroupID),
		slog.String("role", membership.Role))
	writeJSON(w, http.StatusCreated, toMembershipResponse(membership))
}

func (s *Server) handleRecordContribution(w http.ResponseWriter, r *http.Request) {
	var req recordContributionRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.MemberID) == "" || strings.TrimSpace(req.GroupID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	contribution, err := s.store.RecordContribution(r.Context(), store.RecordContributionInput{
		MemberID: strings.TrimSpace(req.MemberID),
		GroupID:  strings.TrimSpace(req.GroupID),
		Amount:   req.Amount,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "invalid_amount")
		case errors.Is(err, store.ErrWalletNotFound):
			writeError(w, http.StatusNotFound, "wallet_not_found")
		case errors.Is(err, store.ErrNotAMember):
			writeError(w, http.StatusForbidden, "not_a_member")
		case errors.Is(err, store.ErrInsufficientFunds):
			writeError(w, http.StatusConflict, "insufficient_funds")
		case errors.Is(err, store.ErrInvariantViolation):
			s.logger.Error("ledger invariant violation on contribution",
				slog.String("member_id", req.MemberID),
				slog.String("group_id", req.GroupID),
				slog.String("amount", req.Amount.String()),
				slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		default:
			s.logger.Error("record contribution",
				slog.String("member_id", req.MemberID),
				slog.String("group_id", req.GroupID),
				slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	s.logger.Info("contribution_recorded",
		slog.Int64("contribution_id", contribution.ID),
		slog.String("member_id", contribution.MemberID),
		slog.String("group_id", contribution.GroupID),
		slog.String("amount", contribution.Amount.String()))
	writeJSON(w, http.StatusCreated, toContributionResponse(contribution))
}

func toWalletResponse(w store.Wallet) walletResponse {
	return walletResponse{
		MemberID:  w.MemberID,
		Balance:   w.Balance,
		CreatedAt: w.CreatedAt,
	}
}

func toMembershipResponse(m store.Membership) membershipResponse {
	return membershipResponse{
		ID:                 m.ID,
		MemberID:           m.MemberID,
		GroupID:            m.GroupID,
		Role:               m.Role,
		Status:             m.Status,
		Balance:            m.Balance,
		TotalContributed:   m.TotalContributed,
		LastContributionAt: m.LastContributionAt,
		CreatedAt:          m.CreatedAt,
	}
}

func toContributionResponse(c store.Contribution) contributionResponse {
	return contributionResponse{
		ID:            c.ID,
		MemberID:      c.MemberID,
		GroupID:       c.GroupID,
		Amount:        c.Amount,
		Status:        c.Status,
		TransactionID: c.TransactionID,
		CreatedAt:     c.CreatedAt,
	}
}
