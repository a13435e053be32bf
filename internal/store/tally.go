package store

// Tally is the quorum arithmetic for one loan request, computed from
// fresh counts inside the voting transaction so the decision always
// reflects the latest commit.
type Tally struct {
	ActiveMembers int
	Votes         int
	Approvals     int
	Rejections    int
}

// QuorumReached reports whether every active member has a recorded vote.
// Votes from members who have since gone inactive still count, so the
// comparison is >= rather than ==.
func (t Tally) QuorumReached() bool {
	return t.ActiveMembers > 0 && t.Votes >= t.ActiveMembers
}

// Outcome returns the request status the tally implies. A tie at quorum
// stays pending: votes remain revisable while a request is pending, so a
// member changing theirs re-runs the tally and breaks the tie.
func (t Tally) Outcome() string {
	if !t.QuorumReached() {
		return StatusPending
	}
	switch {
	case t.Approvals > t.Rejections:
		return StatusApproved
	case t.Rejections > t.Approvals:
		return StatusRejected
	default:
		return StatusPending
	}
}
