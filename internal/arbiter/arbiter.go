// Package arbiter decides competing accept attempts.
//
// The arbiter holds no state of its own. It translates "NGO n wants issue i"
// into the ledger's single compare-and-swap and reports whether that caller
// won. Concurrent callers are serialized by the ledger alone.
package arbiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/civicroute/internal/ledger"
)

// Outcome is the result of one accept attempt.
type Outcome struct {
	// Won is true for exactly one caller per offer.
	Won bool

	// Token is the offer the caller competed for. Zero if no offer was open.
	Token ledger.OfferToken

	// Record is the snapshot the decision was based on. A winner gets the
	// record as the ledger wrote it, re-read after the accept; if that read
	// fails it keeps the pre-accept snapshot. Candidates and IssueID are
	// the same in both.
	Record ledger.Record
}

// Arbiter submits accept attempts to a Ledger.
type Arbiter struct {
	ledger ledger.Ledger
	log    *slog.Logger
}

// New creates an Arbiter. A nil logger uses slog.Default().
func New(l ledger.Ledger, log *slog.Logger) *Arbiter {
	if log == nil {
		log = slog.Default()
	}
	return &Arbiter{ledger: l, log: log}
}

// SubmitAccept attempts to accept issueID's open offer on behalf of ngoID.
//
// The caller loses (Won=false, nil error) when no offer is open, when the
// open offer belongs to another NGO, or when the ledger's compare-and-swap
// fails because the offer was accepted or expired concurrently. NOT_FOUND
// and infrastructure errors are returned. TryAccept is called at most once.
func (a *Arbiter) SubmitAccept(ctx context.Context, issueID, ngoID string, completeBy time.Time) (Outcome, error) {
	rec, err := a.ledger.Get(ctx, issueID)
	if err != nil {
		return Outcome{}, err
	}
	ngoID = ledger.NormalizeID(ngoID)

	tok, open := rec.CurrentOffer()
	if !open || tok.NGOID != ngoID {
		a.log.Debug("accept rejected: not the offer holder",
			"issue_id", rec.IssueID,
			"ngo_id", ngoID,
			"status", rec.Status,
			"holder", tok.NGOID,
		)
		return Outcome{Token: tok, Record: rec}, nil
	}

	won, err := a.ledger.TryAccept(ctx, tok, completeBy)
	if err != nil {
		if ledger.IsExpected(err) {
			a.log.Debug("accept lost race",
				"issue_id", rec.IssueID,
				"ngo_id", ngoID,
				"cursor", tok.Cursor,
				"error", err,
			)
			return Outcome{Token: tok, Record: rec}, nil
		}
		return Outcome{}, err
	}

	if won {
		if latest, err := a.ledger.Get(ctx, rec.IssueID); err == nil {
			rec = latest
		} else {
			a.log.Warn("accept won but re-read failed",
				"issue_id", rec.IssueID,
				"ngo_id", ngoID,
				"error", err,
			)
		}
	}
	return Outcome{Won: won, Token: tok, Record: rec}, nil
}
