package api_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"chamafund/internal/api"
	"chamafund/internal/notify"
	"chamafund/internal/store"
)

// testClock pins every timestamp the store writes.
var testClock = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	pool       *pgxpool.Pool
	server     *httptest.Server
	client     *http.Client
	authToken  string
	dispatcher *notify.Dispatcher
	sink       *notificationSink
}

type notificationSink struct {
	mu   sync.Mutex
	seen []notify.Notification
}

func (s *notificationSink) Notify(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, n)
	return nil
}

func (s *notificationSink) notifications() []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Notification(nil), s.seen...)
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := store.NewPool(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connection: %v", err)
	}

	applySchema(t, pool)
	resetDB(t, pool)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := &notificationSink{}
	dispatcher := notify.NewDispatcher(sink, logger, 64)
	dispatcher.Start(context.Background())

	st := store.New(pool, store.WithClock(func() time.Time { return testClock }))

	authToken := "test-token"
	srv := api.NewServer(st, dispatcher, authToken, logger)
	ts := httptest.NewServer(srv.Routes())

	return &testEnv{
		pool:       pool,
		server:     ts,
		client:     &http.Client{Timeout: 3 * time.Second},
		authToken:  authToken,
		dispatcher: dispatcher,
		sink:       sink,
	}
}

func (e *testEnv) close() {
	e.server.Close()
	e.dispatcher.Stop()
	e.pool.Close()
}

// drainNotifications stops the dispatcher and returns everything it
// delivered. No requests may run afterwards.
func (e *testEnv) drainNotifications() []notify.Notification {
	e.dispatcher.Stop()
	return e.sink.notifications()
}

func (e *testEnv) doRequest(t *testing.T, method, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func seedWallet(t *testing.T, pool *pgxpool.Pool, memberID, balance string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, "INSERT INTO wallets (member_id, balance) VALUES ($1, $2::numeric)", memberID, balance)
	if err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
}

func seedGroup(t *testing.T, pool *pgxpool.Pool, id, name string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, "INSERT INTO groups (id, name) VALUES ($1, $2)", id, name)
	if err != nil {
		t.Fatalf("seed group: %v", err)
	}
}

func seedMembership(t *testing.T, pool *pgxpool.Pool, memberID, groupID, status string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, `
		INSERT INTO memberships (member_id, group_id, role, status)
		VALUES ($1, $2, 'member', $3)
	`, memberID, groupID, status)
	if err != nil {
		t.Fatalf("seed membership: %v", err)
	}
}

func walletBalance(t *testing.T, pool *pgxpool.Pool, memberID string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var balance string
	err := pool.QueryRow(ctx, "SELECT balance::text FROM wallets WHERE member_id = $1", memberID).Scan(&balance)
	if err != nil {
		t.Fatalf("wallet balance: %v", err)
	}
	return balance
}

func membershipBalances(t *testing.T, pool *pgxpool.Pool, memberID, groupID string) (string, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var balance, total string
	err := pool.QueryRow(ctx, `
		SELECT balance::text, total_contributed::text
		FROM memberships
		WHERE member_id = $1 AND group_id = $2
	`, memberID, groupID).Scan(&balance, &total)
	if err != nil {
		t.Fatalf("membership balances: %v", err)
	}
	return balance, total
}

func transactionCount(t *testing.T, pool *pgxpool.Pool, memberID, txType string) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions WHERE member_id = $1 AND type = $2", memberID, txType).Scan(&count)
	if err != nil {
		t.Fatalf("transaction count: %v", err)
	}
	return count
}

func voteCount(t *testing.T, pool *pgxpool.Pool, loanRequestID int64) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM loan_votes WHERE loan_request_id = $1", loanRequestID).Scan(&count)
	if err != nil {
		t.Fatalf("vote count: %v", err)
	}
	return count
}

// assertAmount compares money strings numerically so "250" and "250.00"
// count as equal.
func assertAmount(t *testing.T, want, got string) {
	t.Helper()

	w, err := decimal.NewFromString(want)
	if err != nil {
		t.Fatalf("parse %q: %v", want, err)
	}
	g, err := decimal.NewFromString(got)
	if err != nil {
		t.Fatalf("parse %q: %v", got, err)
	}
	if !w.Equal(g) {
		t.Fatalf("expected amount %s, got %s", want, got)
	}
}

func applySchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	schema := loadSchema(t)
	statements := strings.Split(schema, ";")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, stmt := range statements {
		s := strings.TrimSpace(stmt)
		if s == "" {
			continue
		}
		if _, err := pool.Exec(ctx, s); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, `
		TRUNCATE loan_votes, loan_requests, contributions, transactions, memberships, groups, wallets
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("reset db: %v", err)
	}
}

func loadSchema(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	dir := wd
	for i := 0; i < 6; i++ {
		path := filepath.Join(dir, "schema.sql")
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read schema: %v", err)
			}
			return string(data)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	t.Fatalf("schema.sql not found from %s", wd)
	return ""
}
