package ledger

import (
	"slices"
	"time"
)

// Status is the lifecycle state of an assignment Record.
type Status string

const (
	StatusUnassigned Status = "unassigned"
	StatusOffered    Status = "offered"
	StatusAssigned   Status = "assigned"
	StatusCompleted  Status = "completed"
	StatusExhausted  Status = "exhausted"
)

// IsTerminal reports whether no transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExhausted
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusUnassigned, StatusOffered, StatusAssigned, StatusCompleted, StatusExhausted:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// Outcome labels a History entry.
type Outcome string

const (
	OutcomeOffered   Outcome = "offered"
	OutcomeAccepted  Outcome = "accepted"
	OutcomeExpired   Outcome = "expired"
	OutcomeCompleted Outcome = "completed"
)

// HistoryEntry is one audit line. Seq is 1-based and equals the entry's
// position in Record.History.
type HistoryEntry struct {
	Seq     int       `json:"seq"`
	NGOID   string    `json:"ngo_id"`
	Outcome Outcome   `json:"outcome"`
	At      time.Time `json:"at"`
}

// OfferToken binds one open offer. A token is only honoured while the record
// still has the same cursor and offer id; anything else is stale.
type OfferToken struct {
	IssueID string `json:"issue_id"`
	NGOID   string `json:"ngo_id"`
	Cursor  int    `json:"cursor"`
	OfferID string `json:"offer_id"`
}

// Record is a snapshot of an issue's assignment state.
//
// Records returned by a Ledger are copies; mutating one has no effect on the
// ledger.
type Record struct {
	IssueID     string         `json:"issue_id"`
	Candidates  []string       `json:"candidates"`
	Cursor      int            `json:"cursor"`
	Status      Status         `json:"status"`
	AssignedNGO string         `json:"assigned_ngo,omitempty"`
	OfferID     string         `json:"offer_id,omitempty"`
	DeadlineAt  time.Time      `json:"deadline_at,omitzero"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	History     []HistoryEntry `json:"history"`
}

// CurrentOffer returns the token for the open offer, if any.
func (r Record) CurrentOffer() (OfferToken, bool) {
	if r.Status != StatusOffered || r.OfferID == "" || r.Cursor >= len(r.Candidates) {
		return OfferToken{}, false
	}
	return OfferToken{
		IssueID: r.IssueID,
		NGOID:   r.Candidates[r.Cursor],
		Cursor:  r.Cursor,
		OfferID: r.OfferID,
	}, true
}

// PendingOffer reports whether the record is Offered but waiting for the
// controller to open the offer to candidates[cursor] (the state ExpireOffer
// leaves behind).
func (r Record) PendingOffer() bool {
	return r.Status == StatusOffered && r.OfferID == "" && r.Cursor < len(r.Candidates)
}

// CurrentCandidate returns candidates[cursor], or "" once the list is exhausted.
func (r Record) CurrentCandidate() string {
	if r.Cursor < 0 || r.Cursor >= len(r.Candidates) {
		return ""
	}
	return r.Candidates[r.Cursor]
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := r
	c.Candidates = slices.Clone(r.Candidates)
	c.History = slices.Clone(r.History)
	if c.History == nil {
		c.History = []HistoryEntry{}
	}
	return c
}
