package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"chamafund/internal/notify"
)

type loanVoteResponse struct {
	ID            int64  `json:"id"`
	LoanRequestID int64  `json:"loan_request_id"`
	VoterID       string `json:"voter_id"`
	Approve       bool   `json:"approve"`
	Comment       string `json:"comment"`
}

type castVoteResponse struct {
	Vote               loanVoteResponse    `json:"vote"`
	LoanRequest        loanRequestResponse `json:"loan_request"`
	TotalActiveMembers int                 `json:"total_active_members"`
}

func castVote(t *testing.T, env *testEnv, loanRequestID int64, voter string, approve bool) castVoteResponse {
	t.Helper()

	body := fmt.Sprintf(`{"voter_id":%q,"approve":%t}`, voter, approve)
	resp := env.doRequest(t, http.MethodPost, fmt.Sprintf("/v1/loan-requests/%d/votes", loanRequestID), body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cast vote %s: expected %d, got %d", voter, http.StatusOK, resp.StatusCode)
	}

	var got castVoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return got
}

func TestVoteApprovalFlow(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	seedLendingGroup(t, env, "g1", "alice", "bob", "carol")
	req := createLoanRequest(t, env, "alice", "g1", "600.00")

	res := castVote(t, env, req.ID, "bob", true)
	if res.LoanRequest.Status != "pending" || res.TotalActiveMembers != 3 {
		t.Fatalf("after 1 vote: %+v", res)
	}

	res = castVote(t, env, req.ID, "carol", true)
	if res.LoanRequest.Status != "pending" {
		t.Fatalf("quorum must wait for every active member, got %s", res.LoanRequest.Status)
	}

	// The requester's own vote completes quorum.
	res = castVote(t, env, req.ID, "alice", true)
	if res.LoanRequest.Status != "approved" {
		t.Fatalf("expected approved, got %s", res.LoanRequest.Status)
	}

	if balance := walletBalance(t, env.pool, "alice"); balance != "1600.00" {
		t.Fatalf("expected disbursed wallet 1600.00, got %s", balance)
	}
	membership, _ := membershipBalances(t, env.pool, "alice", "g1")
	if membership != "-600.00" {
		t.Fatalf("expected membership drawn down to -600.00, got %s", membership)
	}
	if count := transactionCount(t, env.pool, "alice", "loan_disbursement"); count != 1 {
		t.Fatalf("expected exactly 1 disbursement, got %d", count)
	}

	notifications := env.drainNotifications()
	var approved int
	for _, n := range notifications {
		if n.Type == notify.TypeLoanApproved {
			approved++
			if n.MemberID != "alice" {
				t.Fatalf("approval notice went to %s", n.MemberID)
			}
		}
	}
	if approved != 1 {
		t.Fatalf("expected 1 approval notification, got %d", approved)
	}
}

func TestVoteRejectionFlow(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	seedLendingGroup(t, env, "g1", "alice", "bob", "carol")
	req := createLoanRequest(t, env, "alice", "g1", "600.00")

	castVote(t, env, req.ID, "bob", true)
	castVote(t, env, req.ID, "carol", false)
	res := castVote(t, env, req.ID, "alice", false)

	if res.LoanRequest.Status != "rejected" {
		t.Fatalf("expected rejected, got %s", res.LoanRequest.Status)
	}

	if balance := walletBalance(t, env.pool, "alice"); balance != "1000.00" {
		t.Fatalf("rejected loan must not disburse, wallet is %s", balance)
	}
	if count := transactionCount(t, env.pool, "alice", "loan_disbursement"); count != 0 {
		t.Fatalf("expected no disbursement, got %d", count)
	}

	notifications := env.drainNotifications()
	var rejected int
	for _, n := range notifications {
		if n.Type == notify.TypeLoanRejected && n.MemberID == "alice" {
			rejected++
		}
	}
	if rejected != 1 {
		t.Fatalf("expected 1 rejection notification, got %d", rejected)
	}
}

// A tie at quorum keeps the request pending; a revised vote re-runs the
// tally and resolves it.
func TestVoteTieStaysPendingUntilRevised(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	seedLendingGroup(t, env, "g1", "alice", "bob")
	req := createLoanRequest(t, env, "alice", "g1", "400.00")

	castVote(t, env, req.ID, "alice", true)
	res := castVote(t, env, req.ID, "bob", false)

	if res.LoanRequest.Status != "pending" {
		t.Fatalf("expected tie to stay pending, got %s", res.LoanRequest.Status)
	}
	if balance := walletBalance(t, env.pool, "alice"); balance != "1000.00" {
		t.Fatalf("tie must not disburse, wallet is %s", balance)
	}

	// Bob reconsiders; the revision breaks the tie.
	res = castVote(t, env, req.ID, "bob", true)
	if res.LoanRequest.Status != "approved" {
		t.Fatalf("expected revision to approve, got %s", res.LoanRequest.Status)
	}
	if count := voteCount(t, env.pool, req.ID); count != 2 {
		t.Fatalf("revision must not add a vote row, got %d", count)
	}
	if balance := walletBalance(t, env.pool, "alice"); balance != "1400.00" {
		t.Fatalf("expected wallet 1400.00 after approval, got %s", balance)
	}

	notifications := env.drainNotifications()
	var tied int
	for _, n := range notifications {
		if n.Type == notify.TypeLoanVoteTied && n.MemberID == "alice" {
			tied++
		}
	}
	if tied != 1 {
		t.Fatalf("expected 1 tie notification, got %d", tied)
	}
}

func TestVoteIdempotentRecast(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	seedLendingGroup(t, env, "g1", "alice", "bob", "carol")
	req := createLoanRequest(t, env, "alice", "g1", "600.00")

	first := castVote(t, env, req.ID, "bob", true)
	second := castVote(t, env, req.ID, "bob", true)

	if first.Vote.ID != second.Vote.ID {
		t.Fatalf("expected same vote row, got %d and %d", first.Vote.ID, second.Vote.ID)
	}
	if count := voteCount(t, env.pool, req.ID); count != 1 {
		t.Fatalf("expected 1 vote row, got %d", count)
	}
	if second.LoanRequest.Status != "pending" {
		t.Fatalf("recast must not finalize, got %s", second.LoanRequest.Status)
	}
}

func TestVoteOnFinalizedRequest(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	seedLendingGroup(t, env, "g1", "alice", "bob")
	req := createLoanRequest(t, env, "alice", "g1", "400.00")

	castVote(t, env, req.ID, "alice", true)
	castVote(t, env, req.ID, "bob", true)

	resp := env.doRequest(t, http.MethodPost, fmt.Sprintf("/v1/loan-requests/%d/votes", req.ID), `{"voter_id":"bob","approve":false}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected %d, got %d", http.StatusConflict, resp.StatusCode)
	}

	// The rejected recast must not have touched the stored vote.
	if count := voteCount(t, env.pool, req.ID); count != 2 {
		t.Fatalf("expected 2 vote rows, got %d", count)
	}
	if balance := walletBalance(t, env.pool, "alice"); balance != "1400.00" {
		t.Fatalf("expected single disbursement, wallet is %s", balance)
	}
}

func TestVoteNotAMember(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	seedLendingGroup(t, env, "g1", "alice", "bob")
	seedWallet(t, env.pool, "mallory", "0.00")
	req := createLoanRequest(t, env, "alice", "g1", "400.00")

	resp := env.doRequest(t, http.MethodPost, fmt.Sprintf("/v1/loan-requests/%d/votes", req.ID), `{"voter_id":"mallory","approve":true}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected %d, got %d", http.StatusForbidden, resp.StatusCode)
	}
}

func TestVoteRequestNotFound(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	seedLendingGroup(t, env, "g1", "alice")

	resp := env.doRequest(t, http.MethodPost, "/v1/loan-requests/424242/votes", `{"voter_id":"alice","approve":true}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

// The final two voters race; row locking must produce exactly one
// finalization and one disbursement.
func TestConcurrentFinalVotes(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	seedLendingGroup(t, env, "g1", "alice", "bob", "carol")
	req := createLoanRequest(t, env, "alice", "g1", "600.00")

	castVote(t, env, req.ID, "alice", true)

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	for _, voter := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(voter string) {
			defer wg.Done()
			body := fmt.Sprintf(`{"voter_id":%q,"approve":true}`, voter)
			httpReq, err := http.NewRequest(http.MethodPost,
				fmt.Sprintf("%s/v1/loan-requests/%d/votes", env.server.URL, req.ID), strings.NewReader(body))
			if err != nil {
				errs <- err
				return
			}
			httpReq.Header.Set("Authorization", "Bearer "+env.authToken)
			httpReq.Header.Set("Content-Type", "application/json")

			resp, err := env.client.Do(httpReq)
			if err != nil {
				errs <- err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs <- fmt.Errorf("%s: unexpected status %d", voter, resp.StatusCode)
			}
		}(voter)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent vote: %v", err)
	}

	resp := env.doRequest(t, http.MethodGet, fmt.Sprintf("/v1/loan-requests/%d", req.ID), "")
	defer resp.Body.Close()
	var got loanRequestResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != "approved" {
		t.Fatalf("expected approved, got %s", got.Status)
	}

	if count := transactionCount(t, env.pool, "alice", "loan_disbursement"); count != 1 {
		t.Fatalf("expected exactly 1 disbursement, got %d", count)
	}
	if balance := walletBalance(t, env.pool, "alice"); balance != "1600.00" {
		t.Fatalf("expected wallet credited exactly once, got %s", balance)
	}
}

// A borrower without a wallet blocks the approving vote entirely; the
// request stays pending and the vote is not recorded.
func TestVoteApprovalBlockedByMissingWallet(t *testing.T) {
	env := setupTest(t)
	defer env.close()

	seedGroup(t, env.pool, "g1", "Lending Circle")
	seedWallet(t, env.pool, "alice", "1000.00")
	seedMembership(t, env.pool, "alice", "g1", "active")
	seedWallet(t, env.pool, "bob", "1000.00")
	seedMembership(t, env.pool, "bob", "g1", "active")

	req := createLoanRequest(t, env, "alice", "g1", "300.00")

	// The borrower's wallet disappears before the final vote commits.
	if _, err := env.pool.Exec(context.Background(), "DELETE FROM wallets WHERE member_id = 'alice'"); err != nil {
		t.Fatalf("delete wallet: %v", err)
	}

	castVote(t, env, req.ID, "alice", true)
	resp := env.doRequest(t, http.MethodPost, fmt.Sprintf("/v1/loan-requests/%d/votes", req.ID), `{"voter_id":"bob","approve":true}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected %d, got %d", http.StatusConflict, resp.StatusCode)
	}

	var current loanRequestResponse
	get := env.doRequest(t, http.MethodGet, fmt.Sprintf("/v1/loan-requests/%d", req.ID), "")
	defer get.Body.Close()
	if err := json.NewDecoder(get.Body).Decode(&current); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if current.Status != "pending" {
		t.Fatalf("aborted approval must stay pending, got %s", current.Status)
	}
	if count := voteCount(t, env.pool, req.ID); count != 1 {
		t.Fatalf("aborted vote must not persist, got %d rows", count)
	}
}
