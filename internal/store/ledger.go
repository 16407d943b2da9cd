package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/civicroute/internal/ledger"
)

// Create implements ledger.Ledger.
// Uses ON CONFLICT(issue_id) DO NOTHING; zero affected rows means the issue
// already has a record.
func (s *Store) Create(ctx context.Context, issueID string, candidates []string) (ledger.Record, error) {
	issueID = ledger.NormalizeID(issueID)
	prepared, err := ledger.PrepareCandidates(issueID, candidates)
	if err != nil {
		return ledger.Record{}, err
	}

	candJSON, err := json.Marshal(prepared)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("create: marshal candidates: %w", err)
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO assignments
		(issue_id, candidates, cursor_pos, status, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)
		ON CONFLICT(issue_id) DO NOTHING
	`),
		issueID,
		string(candJSON),
		string(ledger.StatusUnassigned),
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("create: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Record{}, fmt.Errorf("create: rows affected: %w", err)
	}
	if n == 0 {
		return ledger.Record{}, ledger.AlreadyExists(ledger.OpCreate, issueID)
	}

	return ledger.Record{
		IssueID:    issueID,
		Candidates: prepared,
		Status:     ledger.StatusUnassigned,
		CreatedAt:  now,
		UpdatedAt:  now,
		History:    []ledger.HistoryEntry{},
	}, nil
}

// Get implements ledger.Ledger.
func (s *Store) Get(ctx context.Context, issueID string) (ledger.Record, error) {
	return s.readRecord(ctx, s.db, ledger.OpGet, ledger.NormalizeID(issueID))
}

// OpenOffer implements ledger.Ledger.
func (s *Store) OpenOffer(ctx context.Context, issueID, ngoID string, deadline time.Time) (ledger.OfferToken, error) {
	next, err := s.apply(ctx, ledger.OpenOfferTransition(issueID, ngoID, s.opts.IDs.Generate(), deadline))
	if err != nil {
		return ledger.OfferToken{}, err
	}
	tok, _ := next.CurrentOffer()
	return tok, nil
}

// TryAccept implements ledger.Ledger.
func (s *Store) TryAccept(ctx context.Context, tok ledger.OfferToken, completeBy time.Time) (bool, error) {
	if _, err := s.apply(ctx, ledger.AcceptTransition(tok, completeBy)); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireOffer implements ledger.Ledger.
func (s *Store) ExpireOffer(ctx context.Context, tok ledger.OfferToken) (ledger.Record, error) {
	return s.apply(ctx, ledger.ExpireTransition(tok))
}

// Complete implements ledger.Ledger.
func (s *Store) Complete(ctx context.Context, issueID string) error {
	_, err := s.apply(ctx, ledger.CompleteTransition(issueID))
	return err
}

// apply runs t as one conditional UPDATE plus one history INSERT in a single
// transaction.
func (s *Store) apply(ctx context.Context, t ledger.Transition) (ledger.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("%s: begin tx: %w", t.Op, err)
	}
	defer tx.Rollback() // No-op if committed

	cur, err := s.readRecord(ctx, tx, t.Op, t.IssueID)
	if err != nil {
		return ledger.Record{}, err
	}

	next, entry, err := t.Next(cur, s.now())
	if err != nil {
		return ledger.Record{}, err
	}

	key := cur.Key()
	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE assignments
		SET cursor_pos = ?, status = ?, assigned_ngo = ?, offer_id = ?, deadline_at = ?, updated_at = ?
		WHERE issue_id = ? AND status = ? AND cursor_pos = ? AND offer_id = ?
	`),
		next.Cursor,
		string(next.Status),
		next.AssignedNGO,
		next.OfferID,
		toMillis(next.DeadlineAt),
		toMillis(next.UpdatedAt),
		t.IssueID,
		string(key.Status),
		key.Cursor,
		key.OfferID,
	)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("%s: update: %w", t.Op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Record{}, fmt.Errorf("%s: rows affected: %w", t.Op, err)
	}
	if n == 0 {
		latest, err := s.readRecord(ctx, tx, t.Op, t.IssueID)
		if err != nil {
			return ledger.Record{}, err
		}
		return ledger.Record{}, ledger.Classify(t.Op, latest)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO assignment_history
		(issue_id, seq, ngo_id, outcome, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`),
		t.IssueID,
		entry.Seq,
		entry.NGOID,
		string(entry.Outcome),
		toMillis(entry.At),
	)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("%s: append history: %w", t.Op, err)
	}

	if err := tx.Commit(); err != nil {
		return ledger.Record{}, fmt.Errorf("%s: commit: %w", t.Op, err)
	}

	return next.Clone(), nil
}
