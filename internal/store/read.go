package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/civicroute/internal/ledger"
)

const selectAssignment = `
	SELECT issue_id, candidates, cursor_pos, status, assigned_ngo, offer_id, deadline_at, created_at, updated_at
	FROM assignments
`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ListActive implements ledger.Ledger.
// Records are ordered by issue_id.
func (s *Store) ListActive(ctx context.Context) ([]ledger.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(selectAssignment+`
		WHERE status NOT IN (?, ?)
		ORDER BY issue_id ASC
	`), string(ledger.StatusCompleted), string(ledger.StatusExhausted))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ledger.OpListActive, err)
	}

	records := []ledger.Record{}
	for rows.Next() {
		rec, err := scanAssignment(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("%s: iterate: %w", ledger.OpListActive, err)
	}
	// Release the connection before the history queries below; SQLite has
	// only one.
	rows.Close()

	for i := range records {
		h, err := s.readHistory(ctx, s.db, records[i].IssueID)
		if err != nil {
			return nil, err
		}
		records[i].History = h
	}
	return records, nil
}

// CountByStatus returns the number of records per status. Statuses with no
// records are omitted.
func (s *Store) CountByStatus(ctx context.Context) (map[ledger.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM assignments
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[ledger.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count by status: scan: %w", err)
		}
		counts[ledger.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count by status: iterate: %w", err)
	}
	return counts, nil
}

// readRecord loads one record with its full history through q.
func (s *Store) readRecord(ctx context.Context, q querier, op, issueID string) (ledger.Record, error) {
	row := q.QueryRowContext(ctx, s.rebind(selectAssignment+`WHERE issue_id = ?`), issueID)
	rec, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, ledger.NotFound(op, issueID)
	}
	if err != nil {
		return ledger.Record{}, err
	}

	rec.History, err = s.readHistory(ctx, q, issueID)
	if err != nil {
		return ledger.Record{}, err
	}
	return rec, nil
}

// readHistory returns the history of one issue ordered by seq.
// Returns an empty slice (not nil) if there is none.
func (s *Store) readHistory(ctx context.Context, q querier, issueID string) ([]ledger.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`
		SELECT seq, ngo_id, outcome, recorded_at
		FROM assignment_history
		WHERE issue_id = ?
		ORDER BY seq ASC
	`), issueID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	history := []ledger.HistoryEntry{}
	for rows.Next() {
		var h ledger.HistoryEntry
		var outcome string
		var at int64
		if err := rows.Scan(&h.Seq, &h.NGOID, &outcome, &at); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.Outcome = ledger.Outcome(outcome)
		h.At = fromMillis(at)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

func scanAssignment(row rowScanner) (ledger.Record, error) {
	var rec ledger.Record
	var candJSON, status string
	var deadline, created, updated int64

	err := row.Scan(
		&rec.IssueID,
		&candJSON,
		&rec.Cursor,
		&status,
		&rec.AssignedNGO,
		&rec.OfferID,
		&deadline,
		&created,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, err
	}
	if err != nil {
		return ledger.Record{}, fmt.Errorf("scan assignment: %w", err)
	}

	if err := json.Unmarshal([]byte(candJSON), &rec.Candidates); err != nil {
		return ledger.Record{}, fmt.Errorf("unmarshal candidates for %s: %w", rec.IssueID, err)
	}
	rec.Status = ledger.Status(status)
	rec.DeadlineAt = fromMillis(deadline)
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	rec.History = []ledger.HistoryEntry{}
	return rec, nil
}
