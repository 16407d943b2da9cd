// Package ledgertest provides a conformance suite every ledger.Ledger
// backend must pass.
package ledgertest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/civicroute/internal/ledger"
	"github.com/roach88/civicroute/internal/testutil"
)

// Epoch is the start time of the clock handed to every backend under test.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Factory builds a fresh, empty ledger configured with opts.
type Factory func(t *testing.T, opts ...ledger.Option) ledger.Ledger

// fixture bundles a ledger with the clock it was built with.
type fixture struct {
	l     ledger.Ledger
	clock *testutil.ManualClock
}

func newFixture(t *testing.T, factory Factory) fixture {
	t.Helper()
	c := testutil.NewManualClock(Epoch)
	return fixture{
		l:     factory(t, ledger.WithClock(c), ledger.WithIDGenerator(testutil.NewSequentialIDs("offer"))),
		clock: c,
	}
}

// Run executes the full conformance suite against factory.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, f fixture)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateRejectsDuplicateIssue", testCreateRejectsDuplicateIssue},
		{"CreateValidatesCandidates", testCreateValidatesCandidates},
		{"UnknownIssue", testUnknownIssue},
		{"OpenOfferRequiresCurrentCandidate", testOpenOfferRequiresCurrentCandidate},
		{"OpenOfferTwiceConflicts", testOpenOfferTwiceConflicts},
		{"AcceptAssigns", testAcceptAssigns},
		{"AcceptStaleTokenConflicts", testAcceptStaleTokenConflicts},
		{"ExpireAdvancesCursor", testExpireAdvancesCursor},
		{"ExpireLastCandidateExhausts", testExpireLastCandidateExhausts},
		{"ExpireAfterAcceptConflicts", testExpireAfterAcceptConflicts},
		{"AcceptAfterExpireConflicts", testAcceptAfterExpireConflicts},
		{"CompleteRequiresAssigned", testCompleteRequiresAssigned},
		{"CompleteAssigned", testCompleteAssigned},
		{"TerminalRejectsEverything", testTerminalRejectsEverything},
		{"ListActive", testListActive},
		{"SnapshotsAreCopies", testSnapshotsAreCopies},
		{"NormalizesIdentifiers", testNormalizesIdentifiers},
		{"ConcurrentAcceptSingleWinner", testConcurrentAcceptSingleWinner},
		{"ConcurrentAcceptAndExpire", testConcurrentAcceptAndExpire},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newFixture(t, factory))
		})
	}
}

func create(t *testing.T, f fixture, issueID string, candidates ...string) ledger.Record {
	t.Helper()
	rec, err := f.l.Create(context.Background(), issueID, candidates)
	require.NoError(t, err)
	return rec
}

func open(t *testing.T, f fixture, issueID, ngoID string) ledger.OfferToken {
	t.Helper()
	tok, err := f.l.OpenOffer(context.Background(), issueID, ngoID, f.clock.Now().Add(48*time.Hour))
	require.NoError(t, err)
	return tok
}

func get(t *testing.T, f fixture, issueID string) ledger.Record {
	t.Helper()
	rec, err := f.l.Get(context.Background(), issueID)
	require.NoError(t, err)
	return rec
}

type step struct {
	ngo     string
	outcome ledger.Outcome
}

func assertHistory(t *testing.T, rec ledger.Record, want ...step) {
	t.Helper()
	got := make([]step, len(rec.History))
	for i, h := range rec.History {
		got[i] = step{ngo: h.NGOID, outcome: h.Outcome}
		assert.Equal(t, i+1, h.Seq, "history seq at %d", i)
	}
	assert.Equal(t, want, got)
}

func testCreateAndGet(t *testing.T, f fixture) {
	rec := create(t, f, "issue-1", "A", "B", "C")

	assert.Equal(t, "issue-1", rec.IssueID)
	assert.Equal(t, []string{"A", "B", "C"}, rec.Candidates)
	assert.Equal(t, 0, rec.Cursor)
	assert.Equal(t, ledger.StatusUnassigned, rec.Status)
	assert.Empty(t, rec.AssignedNGO)
	assert.Empty(t, rec.OfferID)
	assert.Empty(t, rec.History)
	assert.True(t, rec.CreatedAt.Equal(Epoch))

	got := get(t, f, "issue-1")
	assert.Equal(t, rec.Candidates, got.Candidates)
	assert.Equal(t, ledger.StatusUnassigned, got.Status)
	assert.NotNil(t, got.History)
}

func testCreateRejectsDuplicateIssue(t *testing.T, f fixture) {
	create(t, f, "issue-1", "A")

	_, err := f.l.Create(context.Background(), "issue-1", []string{"B"})
	require.Error(t, err)
	assert.True(t, ledger.IsAlreadyExists(err), "got %v", err)

	assert.Equal(t, []string{"A"}, get(t, f, "issue-1").Candidates)
}

func testCreateValidatesCandidates(t *testing.T, f fixture) {
	ctx := context.Background()

	tests := []struct {
		name       string
		issueID    string
		candidates []string
	}{
		{"empty issue id", "", []string{"A"}},
		{"no candidates", "i", nil},
		{"empty candidate", "i", []string{"A", ""}},
		{"duplicate candidate", "i", []string{"A", "B", "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.l.Create(ctx, tt.issueID, tt.candidates)
			require.Error(t, err)
			assert.True(t, ledger.IsInvalidArgument(err), "got %v", err)
		})
	}
}

func testUnknownIssue(t *testing.T, f fixture) {
	ctx := context.Background()
	tok := ledger.OfferToken{IssueID: "missing", NGOID: "A", OfferID: "x"}

	_, err := f.l.Get(ctx, "missing")
	assert.True(t, ledger.IsNotFound(err), "get: %v", err)

	_, err = f.l.OpenOffer(ctx, "missing", "A", Epoch)
	assert.True(t, ledger.IsNotFound(err), "open: %v", err)

	won, err := f.l.TryAccept(ctx, tok, time.Time{})
	assert.False(t, won)
	assert.True(t, ledger.IsNotFound(err), "accept: %v", err)

	_, err = f.l.ExpireOffer(ctx, tok)
	assert.True(t, ledger.IsNotFound(err), "expire: %v", err)

	err = f.l.Complete(ctx, "missing")
	assert.True(t, ledger.IsNotFound(err), "complete: %v", err)
}

func testOpenOfferRequiresCurrentCandidate(t *testing.T, f fixture) {
	create(t, f, "issue-1", "A", "B")

	_, err := f.l.OpenOffer(context.Background(), "issue-1", "B", Epoch.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, ledger.IsConflict(err), "got %v", err)

	rec := get(t, f, "issue-1")
	assert.Equal(t, ledger.StatusUnassigned, rec.Status)
	assert.Empty(t, rec.History)
}

func testOpenOfferTwiceConflicts(t *testing.T, f fixture) {
	create(t, f, "issue-1", "A", "B")
	first := open(t, f, "issue-1", "A")

	_, err := f.l.OpenOffer(context.Background(), "issue-1", "A", Epoch.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, ledger.IsConflict(err), "got %v", err)

	rec := get(t, f, "issue-1")
	assert.Equal(t, first.OfferID, rec.OfferID)
	assertHistory(t, rec, step{"A", ledger.OutcomeOffered})
}

func testAcceptAssigns(t *testing.T, f fixture) {
	create(t, f, "issue-1", "A", "B")
	tok := open(t, f, "issue-1", "A")

	assert.Equal(t, ledger.OfferToken{IssueID: "issue-1", NGOID: "A", Cursor: 0, OfferID: tok.OfferID}, tok)
	assert.NotEmpty(t, tok.OfferID)

	offered := get(t, f, "issue-1")
	assert.Equal(t, ledger.StatusOffered, offered.Status)
	assert.True(t, offered.DeadlineAt.Equal(Epoch.Add(48*time.Hour)))

	f.clock.Advance(time.Hour)
	completeBy := f.clock.Now().Add(72 * time.Hour)
	won, err := f.l.TryAccept(context.Background(), tok, completeBy)
	require.NoError(t, err)
	assert.True(t, won)

	rec := get(t, f, "issue-1")
	assert.Equal(t, ledger.StatusAssigned, rec.Status)
	assert.Equal(t, "A", rec.AssignedNGO)
	assert.Empty(t, rec.OfferID)
	assert.True(t, rec.DeadlineAt.Equal(completeBy))
	assertHistory(t, rec, step{"A", ledger.OutcomeOffered}, step{"A", ledger.OutcomeAccepted})
	assert.True(t, rec.History[1].At.Equal(Epoch.Add(time.Hour)))
}

func testAcceptStaleTokenConflicts(t *testing.T, f fixture) {
	create(t, f, "issue-1", "A", "B")
	tok := open(t, f, "issue-1", "A")

	stale := tok
	stale.OfferID = "not-the-offer"
	won, err := f.l.TryAccept(context.Background(), stale, time.Time{})
	assert.False(t, won)
	assert.True(t, ledger.IsConflict(err), "got %v", err)

	stale = tok
	stale.Cursor = 1
	won, err = f.l.TryAccept(context.Background(), stale, time.Time{})
	assert.False(t, won)
	assert.True(t, ledger.IsConflict(err), "got %v", err)

	assert.Equal(t, ledger.StatusOffered, get(t, f, "issue-1").Status)
}

func testExpireAdvancesCursor(t *testing.T, f fixture) {
	create(t, f, "issue-1", "A", "B", "C")
	tok := open(t, f, "issue-1", "A")

	rec, err := f.l.ExpireOffer(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Cursor)
	assert.Equal(t, ledger.StatusOffered, rec.Status)
	assert.True(t, rec.PendingOffer())
	assert.True(t, rec.DeadlineAt.IsZero())

	next := open(t, f, "issue-1", "B")
	assert.Equal(t, 1, next.Cursor)
	assert.NotEqual(t, tok.OfferID, next.OfferID)

	assertHistory(t, get(t, f, "issue-1"),
		step{"A", ledger.OutcomeOffered},
		step{"A", ledger.OutcomeExpired},
		step{"B", ledger.OutcomeOffered},
	)
}

func testExpireLastCandidateExhausts(t *testing.T, f fixture) {
	create(t, f, "issue-1", "A")
	tok := open(t, f, "issue-1", "A")

	rec, err := f.l.ExpireOffer(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusExhausted, rec.Status)
	assert.Equal(t, 1, rec.Cursor)
	assert.Empty(t, rec.AssignedNGO)

	got := get(t, f, "issue-1")
	assert.Equal(t, ledger.StatusExhausted, got.Status)
	assertHistory(t, got, step{"A", ledger.OutcomeOffered}, step{"A", ledger.OutcomeExpired})
}

func testExpireAfterAcceptConflicts(t *testing.T, f fixture) {
	create(t, f, "issue-1", "A", "B")
	tok := open(t, f, "issue-1", "A")

	won, err := f.l.TryAccept(context.Background(), tok, time.Time{})
	require.NoError(t, err)
	require.True(t, won)

	_, err = f.l.ExpireOffer(context.Background(), tok)
	assert.True(t, ledger.IsConflict(err), "got %v", err)

	rec := get(t, f, "issue-1")
	assert.Equal(t, ledger.StatusAssigned, rec.Status)
	assert.Equal(t, 0, rec.Cursor)
	assert.Len(t, rec.History, 2)
}

func testAcceptAfterExpireConflicts(t *testing.T, f fixture) {
	create(t, f, "issue-1", "A", "B")
	tok := open(t, f, "issue-1", "A")

	_, err := f.l.ExpireOffer(context.Background(), tok)
	require.NoError(t, err)

	won, err := f.l.TryAccept(context.Background(), tok, time.Time{})
	assert.False(t, won)
	assert.True(t, ledger.IsConflict(err), "got %v", err)

	// Also stale once the next offer is open.
	open(t, f, "issue-1", "B")
	won, err = f.l.TryAccept(context.Background(), tok, time.Time{})
	assert.False(t, won)
	assert.True(t, ledger.IsConflict(err), "got %v", err)
	assert.Empty(t, get(t, f, "issue-1").AssignedNGO)
}

func testCompleteRequiresAssigned(t *testing.T, f fixture) {
	create(t, f, "issue-1", "A")

	err := f.l.Complete(context.Background(), "issue-1")
	assert.True(t, ledger.IsInvalidState(err), "unassigned: %v", err)

	open(t, f, "issue-1", "A")
	before := get(t, f, "issue-1")

	err = f.l.Complete(context.Background(), "issue-1")
	assert.True(t, ledger.IsInvalidState(err), "offered: %v", err)

	after := get(t, f, "issue-1")
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.OfferID, after.OfferID)
	assert.Len(t, after.History, len(before.History))
}

func testCompleteAssigned(t *testing.T, f fixture) {
	create(t, f, "issue-1", "A")
	tok := open(t, f, "issue-1", "A")
	won, err := f.l.TryAccept(context.Background(), tok, Epoch.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, f.l.Complete(context.Background(), "issue-1"))

	rec := get(t, f, "issue-1")
	assert.Equal(t, ledger.StatusCompleted, rec.Status)
	assert.Equal(t, "A", rec.AssignedNGO)
	assert.True(t, rec.DeadlineAt.IsZero())
	assertHistory(t, rec,
		step{"A", ledger.OutcomeOffered},
		step{"A", ledger.OutcomeAccepted},
		step{"A", ledger.OutcomeCompleted},
	)

	err = f.l.Complete(context.Background(), "issue-1")
	assert.True(t, ledger.IsInvalidState(err), "second complete: %v", err)
}

func testTerminalRejectsEverything(t *testing.T, f fixture) {
	ctx := context.Background()
	create(t, f, "issue-1", "A")
	tok := open(t, f, "issue-1", "A")
	_, err := f.l.ExpireOffer(ctx, tok)
	require.NoError(t, err)

	won, err := f.l.TryAccept(ctx, tok, time.Time{})
	assert.False(t, won)
	assert.True(t, ledger.IsExhausted(err), "accept: %v", err)

	_, err = f.l.OpenOffer(ctx, "issue-1", "A", Epoch)
	assert.True(t, ledger.IsExhausted(err), "open: %v", err)

	_, err = f.l.ExpireOffer(ctx, tok)
	assert.True(t, ledger.IsExhausted(err), "expire: %v", err)

	err = f.l.Complete(ctx, "issue-1")
	assert.True(t, ledger.IsInvalidState(err), "complete: %v", err)

	assert.Len(t, get(t, f, "issue-1").History, 2)
}

func testListActive(t *testing.T, f fixture) {
	ctx := context.Background()
	create(t, f, "b-unassigned", "A")
	create(t, f, "a-offered", "A")
	open(t, f, "a-offered", "A")

	create(t, f, "c-exhausted", "A")
	tok := open(t, f, "c-exhausted", "A")
	_, err := f.l.ExpireOffer(ctx, tok)
	require.NoError(t, err)

	create(t, f, "d-completed", "A")
	tok = open(t, f, "d-completed", "A")
	_, err = f.l.TryAccept(ctx, tok, time.Time{})
	require.NoError(t, err)
	require.NoError(t, f.l.Complete(ctx, "d-completed"))

	create(t, f, "e-assigned", "A")
	tok = open(t, f, "e-assigned", "A")
	_, err = f.l.TryAccept(ctx, tok, time.Time{})
	require.NoError(t, err)

	active, err := f.l.ListActive(ctx)
	require.NoError(t, err)

	ids := make([]string, len(active))
	for i, r := range active {
		ids[i] = r.IssueID
	}
	assert.Equal(t, []string{"a-offered", "b-unassigned", "e-assigned"}, ids)
	assert.Equal(t, "offer-1", active[0].OfferID)
}

func testSnapshotsAreCopies(t *testing.T, f fixture) {
	create(t, f, "issue-1", "A", "B")
	open(t, f, "issue-1", "A")

	rec := get(t, f, "issue-1")
	rec.Candidates[0] = "Z"
	rec.History[0].NGOID = "Z"

	again := get(t, f, "issue-1")
	assert.Equal(t, "A", again.Candidates[0])
	assert.Equal(t, "A", again.History[0].NGOID)
}

func testNormalizesIdentifiers(t *testing.T, f fixture) {
	// "é" precomposed vs. "e" + combining acute accent.
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"

	create(t, f, "issue-"+decomposed, decomposed, "B")
	rec := get(t, f, "issue-"+composed)
	assert.Equal(t, composed, rec.Candidates[0])

	tok, err := f.l.OpenOffer(context.Background(), "issue-"+composed, composed, Epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, composed, tok.NGOID)
}

// testConcurrentAcceptSingleWinner races many TryAccept calls on the same
// open offer. Exactly one may win.
func testConcurrentAcceptSingleWinner(t *testing.T, f fixture) {
	create(t, f, "issue-1", "A", "B", "C")
	tok := open(t, f, "issue-1", "A")

	const racers = 16
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			won, err := f.l.TryAccept(context.Background(), tok, time.Time{})
			if won {
				winners.Add(1)
				return
			}
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	assert.Equal(t, int32(1), winners.Load())
	for err := range errs {
		assert.True(t, ledger.IsConflict(err), "loser error: %v", err)
	}

	rec := get(t, f, "issue-1")
	assert.Equal(t, ledger.StatusAssigned, rec.Status)
	assert.Equal(t, "A", rec.AssignedNGO)
	assertHistory(t, rec, step{"A", ledger.OutcomeOffered}, step{"A", ledger.OutcomeAccepted})
}

// testConcurrentAcceptAndExpire races an accept against the deadline. Either
// may win, but never both, and the history reflects whichever did.
func testConcurrentAcceptAndExpire(t *testing.T, f fixture) {
	for i := 0; i < 10; i++ {
		issueID := "race-" + string(rune('a'+i))
		create(t, f, issueID, "A", "B")
		tok := open(t, f, issueID, "A")

		var won bool
		var acceptErr, expireErr error
		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			won, acceptErr = f.l.TryAccept(context.Background(), tok, time.Time{})
		}()
		go func() {
			defer wg.Done()
			<-start
			_, expireErr = f.l.ExpireOffer(context.Background(), tok)
		}()
		close(start)
		wg.Wait()

		rec := get(t, f, issueID)
		if won {
			require.NoError(t, acceptErr)
			assert.True(t, ledger.IsConflict(expireErr), "expire after accept: %v", expireErr)
			assert.Equal(t, ledger.StatusAssigned, rec.Status)
			assert.Equal(t, 0, rec.Cursor)
		} else {
			require.NoError(t, expireErr)
			assert.True(t, ledger.IsConflict(acceptErr), "accept after expire: %v", acceptErr)
			assert.Equal(t, ledger.StatusOffered, rec.Status)
			assert.Equal(t, 1, rec.Cursor)
			assert.Empty(t, rec.AssignedNGO)
		}
		assert.Len(t, rec.History, 2)
	}
}
