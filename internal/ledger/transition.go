package ledger

import (
	"slices"
	"time"
)

// Transition is one guarded state change on a Record.
//
// Backends load the current record, call Next, and then publish the result
// with a single conditional write keyed on the loaded record's CASKey. A
// write that matches nothing means another transition landed in between.
type Transition struct {
	Op      string
	IssueID string

	allowed func(cur Record) bool
	apply   func(next *Record, now time.Time)
}

// CASKey is the part of a Record every conditional write compares against.
// Every transition changes at least one of these fields.
type CASKey struct {
	Status  Status
	Cursor  int
	OfferID string
}

// Key returns the compare-and-swap key of r.
func (r Record) Key() CASKey {
	return CASKey{Status: r.Status, Cursor: r.Cursor, OfferID: r.OfferID}
}

// Next validates the transition against cur and returns the successor record
// together with the history entry it appended. cur is not modified.
func (t Transition) Next(cur Record, now time.Time) (Record, HistoryEntry, error) {
	if !t.allowed(cur) {
		return Record{}, HistoryEntry{}, Classify(t.Op, cur)
	}
	next := cur
	next.UpdatedAt = now
	t.apply(&next, now)
	return next, next.History[len(next.History)-1], nil
}

// OpenOfferTransition opens offerID to ngoID, who must be candidates[cursor].
func OpenOfferTransition(issueID, ngoID, offerID string, deadline time.Time) Transition {
	ngoID = NormalizeID(ngoID)
	return Transition{
		Op:      OpOpenOffer,
		IssueID: NormalizeID(issueID),
		allowed: func(cur Record) bool {
			return (cur.Status == StatusUnassigned || cur.Status == StatusOffered) &&
				cur.OfferID == "" &&
				cur.CurrentCandidate() == ngoID
		},
		apply: func(next *Record, now time.Time) {
			next.Status = StatusOffered
			next.OfferID = offerID
			next.DeadlineAt = deadline
			next.History = appendHistory(next.History, ngoID, OutcomeOffered, now)
		},
	}
}

// AcceptTransition assigns the record to the token's NGO.
func AcceptTransition(tok OfferToken, completeBy time.Time) Transition {
	return Transition{
		Op:      OpTryAccept,
		IssueID: NormalizeID(tok.IssueID),
		allowed: tokenMatches(tok),
		apply: func(next *Record, now time.Time) {
			next.Status = StatusAssigned
			next.AssignedNGO = tok.NGOID
			next.OfferID = ""
			next.DeadlineAt = completeBy
			next.History = appendHistory(next.History, tok.NGOID, OutcomeAccepted, now)
		},
	}
}

// ExpireTransition withdraws the token's offer and advances the cursor.
func ExpireTransition(tok OfferToken) Transition {
	return Transition{
		Op:      OpExpire,
		IssueID: NormalizeID(tok.IssueID),
		allowed: tokenMatches(tok),
		apply: func(next *Record, now time.Time) {
			next.Cursor, next.Status = NextCursor(next.Cursor, len(next.Candidates))
			next.OfferID = ""
			next.DeadlineAt = time.Time{}
			next.History = appendHistory(next.History, tok.NGOID, OutcomeExpired, now)
		},
	}
}

// CompleteTransition closes an assigned record.
func CompleteTransition(issueID string) Transition {
	return Transition{
		Op:      OpComplete,
		IssueID: NormalizeID(issueID),
		allowed: func(cur Record) bool {
			return cur.Status == StatusAssigned
		},
		apply: func(next *Record, now time.Time) {
			next.Status = StatusCompleted
			next.DeadlineAt = time.Time{}
			next.History = appendHistory(next.History, next.AssignedNGO, OutcomeCompleted, now)
		},
	}
}

// tokenMatches is the guard shared by accept and expire.
func tokenMatches(tok OfferToken) func(cur Record) bool {
	return func(cur Record) bool {
		return cur.Status == StatusOffered &&
			cur.Cursor == tok.Cursor &&
			cur.OfferID != "" &&
			cur.OfferID == tok.OfferID
	}
}

// appendHistory returns a new slice; the caller's backing array is never written.
func appendHistory(h []HistoryEntry, ngoID string, outcome Outcome, at time.Time) []HistoryEntry {
	out := slices.Grow(slices.Clip(h), 1)
	return append(out, HistoryEntry{
		Seq:     len(h) + 1,
		NGOID:   ngoID,
		Outcome: outcome,
		At:      at,
	})
}
