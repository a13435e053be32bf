package api

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"chamafund/internal/notify"
	"chamafund/internal/store"
)

type Server struct {
	store     *store.Store
	notifier  *notify.Dispatcher
	authToken string
	logger    *slog.Logger
}

func NewServer(st *store.Store, notifier *notify.Dispatcher, authToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		store:     st,
		notifier:  notifier,
		authToken: authToken,
		logger:    logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.authMiddleware)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/wallets", s.handleRegisterWallet).Methods(http.MethodPost)
	v1.HandleFunc("/wallets/{memberID}", s.handleGetWallet).Methods(http.MethodGet)
	v1.HandleFunc("/groups", s.handleCreateGroup).Methods(http.MethodPost)
	v1.HandleFunc("/groups/{groupID}/members", s.handleJoinGroup).Methods(http.MethodPost)
	v1.HandleFunc("/contributions", s.handleRecordContribution).Methods(http.MethodPost)
	v1.HandleFunc("/loan-requests", s.handleCreateLoanRequest).Methods(http.MethodPost)
	v1.HandleFunc("/loan-requests", s.handleListLoanRequests).Methods(http.MethodGet)
	v1.HandleFunc("/loan-requests/{id:[0-9]+}", s.handleGetLoanRequest).Methods(http.MethodGet)
	v1.HandleFunc("/loan-requests/{id:[0-9]+}/votes", s.handleCastVote).Methods(http.MethodPost)

	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if !secureCompare(token, s.authToken) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
