package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/civicroute/internal/ledger"
	"github.com/roach88/civicroute/internal/notify"
	"github.com/roach88/civicroute/internal/testutil"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	ctrl    *Controller
	ledger  *ledger.Memory
	clock   *testutil.ManualClock
	sent    *notify.Recorder
	metrics *countingMetrics
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	c := testutil.NewManualClock(epoch)
	l := ledger.NewMemory(
		ledger.WithClock(c),
		ledger.WithIDGenerator(testutil.NewSequentialIDs("offer")),
	)
	rec := &notify.Recorder{}
	m := &countingMetrics{}

	all := append([]Option{WithClock(c), WithMetricsHook(m)}, opts...)
	ctrl := New(l, rec, all...)
	t.Cleanup(ctrl.Close)

	return &harness{ctrl: ctrl, ledger: l, clock: c, sent: rec, metrics: m}
}

func (h *harness) create(t *testing.T, issueID string, candidates ...string) {
	t.Helper()
	_, err := h.ctrl.CreateAssignment(context.Background(), issueID, candidates)
	require.NoError(t, err)
}

func (h *harness) status(t *testing.T, issueID string) ledger.Record {
	t.Helper()
	rec, err := h.ctrl.GetStatus(context.Background(), issueID)
	require.NoError(t, err)
	return rec
}

// events renders notifications as "event:ngo" for compact assertions.
func (h *harness) events() []string {
	var out []string
	for _, n := range h.sent.All() {
		out = append(out, string(n.Event)+":"+n.NGOID)
	}
	return out
}

func history(rec ledger.Record) []string {
	var out []string
	for _, e := range rec.History {
		out = append(out, string(e.Outcome)+":"+e.NGOID)
	}
	return out
}

// countingMetrics is a MetricsHook that counts calls.
type countingMetrics struct {
	offers, won, lost, reoffered, exhausted, completed, overdue atomic.Int32
}

func (m *countingMetrics) OnOffer(string, string) { m.offers.Add(1) }
func (m *countingMetrics) OnAccept(_, _ string, won bool) {
	if won {
		m.won.Add(1)
	} else {
		m.lost.Add(1)
	}
}
func (m *countingMetrics) OnExpire(_, _ string, exhausted bool) {
	if exhausted {
		m.exhausted.Add(1)
	} else {
		m.reoffered.Add(1)
	}
}
func (m *countingMetrics) OnComplete(string, string) { m.completed.Add(1) }
func (m *countingMetrics) OnOverdue(string, string) { m.overdue.Add(1) }

func TestCreateAssignment_OffersFirstCandidate(t *testing.T) {
	h := newHarness(t)

	rec, err := h.ctrl.CreateAssignment(context.Background(), "issue-1", []string{"A", "B", "C"})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusOffered, rec.Status)
	assert.Equal(t, 0, rec.Cursor)
	assert.Equal(t, "offer-1", rec.OfferID)
	assert.Equal(t, epoch.Add(DefaultOfferWindow), rec.DeadlineAt)
	assert.Equal(t, []string{"offered:A"}, history(rec))

	sent := h.sent.All()
	require.Len(t, sent, 1)
	assert.Equal(t, notify.Notification{
		IssueID:  "issue-1",
		NGOID:    "A",
		Event:    notify.EventOffered,
		OfferID:  "offer-1",
		Deadline: epoch.Add(DefaultOfferWindow),
		At:       epoch,
	}, sent[0])
	assert.Equal(t, 1, h.ctrl.Pending())
}

func TestCreateAssignment_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ctrl.CreateAssignment(ctx, "issue-1", nil)
	assert.True(t, ledger.IsInvalidArgument(err), "got %v", err)

	h.create(t, "issue-1", "A")
	_, err = h.ctrl.CreateAssignment(ctx, "issue-1", []string{"B"})
	assert.True(t, ledger.IsAlreadyExists(err), "got %v", err)
	assert.Equal(t, []string{"offered:A"}, h.events())
}

// Candidates [A,B,C]; A and B both try to accept while A holds the offer.
func TestAcceptOffer_HolderWinsRace(t *testing.T) {
	h := newHarness(t)
	h.create(t, "issue-1", "A", "B", "C")
	ctx := context.Background()

	won, err := h.ctrl.AcceptOffer(ctx, "issue-1", "B")
	require.NoError(t, err)
	assert.False(t, won, "B does not hold the offer")

	won, err = h.ctrl.AcceptOffer(ctx, "issue-1", "A")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = h.ctrl.AcceptOffer(ctx, "issue-1", "A")
	require.NoError(t, err)
	assert.False(t, won, "second accept after assignment")

	rec := h.status(t, "issue-1")
	assert.Equal(t, ledger.StatusAssigned, rec.Status)
	assert.Equal(t, "A", rec.AssignedNGO)
	assert.Equal(t, []string{"offered:A", "accepted:A"}, history(rec))
	assert.Equal(t, []string{"offered:A", "assigned:A"}, h.events())
	assert.Equal(t, 0, h.ctrl.Pending(), "offer deadline disarmed")
	assert.Equal(t, int32(1), h.metrics.won.Load())
	assert.Equal(t, int32(2), h.metrics.lost.Load())
}

func TestAcceptOffer_ConcurrentSingleWinner(t *testing.T) {
	h := newHarness(t)
	h.create(t, "issue-1", "A", "B", "C")

	const racers = 24
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		ngo := []string{"A", "B", "C"}[i%3]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			won, err := h.ctrl.AcceptOffer(context.Background(), "issue-1", ngo)
			assert.NoError(t, err)
			if won {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	rec := h.status(t, "issue-1")
	assert.Equal(t, "A", rec.AssignedNGO)
	assert.Len(t, rec.History, 2)
}

// Candidates [A,B,C]; A lets the deadline pass, the offer moves to B.
func TestDeadline_EscalatesToNextCandidate(t *testing.T) {
	h := newHarness(t)
	h.create(t, "issue-1", "A", "B", "C")

	h.clock.Advance(47 * time.Hour)
	assert.Equal(t, 0, h.status(t, "issue-1").Cursor)

	h.clock.Advance(time.Hour)

	rec := h.status(t, "issue-1")
	assert.Equal(t, ledger.StatusOffered, rec.Status)
	assert.Equal(t, 1, rec.Cursor)
	assert.Equal(t, "offer-2", rec.OfferID)
	assert.Equal(t, epoch.Add(96*time.Hour), rec.DeadlineAt)
	assert.Equal(t, []string{"offered:A", "expired:A", "offered:B"}, history(rec))
	assert.Equal(t, []string{"offered:A", "offered:B"}, h.events())

	won, err := h.ctrl.AcceptOffer(context.Background(), "issue-1", "A")
	require.NoError(t, err)
	assert.False(t, won, "A's offer is gone")

	won, err = h.ctrl.AcceptOffer(context.Background(), "issue-1", "B")
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, []string{"offered:A", "offered:B", "assigned:B", "rejected:A"}, h.events())
}

// Candidates [A]; nobody accepts.
func TestDeadline_SingleCandidateExhausts(t *testing.T) {
	h := newHarness(t)
	h.create(t, "issue-1", "A")

	h.clock.Advance(DefaultOfferWindow)

	rec := h.status(t, "issue-1")
	assert.Equal(t, ledger.StatusExhausted, rec.Status)
	assert.Equal(t, 1, rec.Cursor)
	assert.Empty(t, rec.AssignedNGO)
	assert.Equal(t, []string{"offered:A", "expired:A"}, history(rec))
	assert.Equal(t, []string{"offered:A", "exhausted:"}, h.events())
	assert.Equal(t, 0, h.ctrl.Pending())

	won, err := h.ctrl.AcceptOffer(context.Background(), "issue-1", "A")
	require.NoError(t, err)
	assert.False(t, won)
}

func TestDeadline_AllCandidatesExhaust(t *testing.T) {
	h := newHarness(t, WithOfferWindow(time.Hour))
	h.create(t, "issue-1", "A", "B", "C")

	h.clock.Advance(10 * time.Hour)

	rec := h.status(t, "issue-1")
	assert.Equal(t, ledger.StatusExhausted, rec.Status)
	assert.Equal(t, 3, rec.Cursor)
	assert.Equal(t, []string{
		"offered:A", "expired:A",
		"offered:B", "expired:B",
		"offered:C", "expired:C",
	}, history(rec))
	assert.Equal(t, int32(2), h.metrics.reoffered.Load())
	assert.Equal(t, int32(1), h.metrics.exhausted.Load())
	assert.Equal(t, int32(3), h.metrics.offers.Load())
}

func TestDeadline_CursorNeverDecreases(t *testing.T) {
	h := newHarness(t, WithOfferWindow(time.Hour))
	h.create(t, "issue-1", "A", "B", "C", "D")

	last := 0
	for i := 0; i < 6; i++ {
		h.clock.Advance(30 * time.Minute)
		rec := h.status(t, "issue-1")
		assert.GreaterOrEqual(t, rec.Cursor, last)
		assert.LessOrEqual(t, rec.Cursor, len(rec.Candidates))
		last = rec.Cursor
	}
}

// Accept lands first; the deadline firing later must not mutate anything.
func TestDeadline_AfterAcceptIsNoop(t *testing.T) {
	h := newHarness(t)
	h.create(t, "issue-1", "A", "B")

	won, err := h.ctrl.AcceptOffer(context.Background(), "issue-1", "A")
	require.NoError(t, err)
	require.True(t, won)

	// Fire the stale handler directly, as if the timer had already started.
	h.ctrl.onDeadline("issue-1", 0)
	h.clock.Advance(100 * time.Hour)

	rec := h.status(t, "issue-1")
	assert.Equal(t, ledger.StatusAssigned, rec.Status)
	assert.Equal(t, []string{"offered:A", "accepted:A"}, history(rec))
}

func TestDeadline_StaleCursorIsNoop(t *testing.T) {
	h := newHarness(t)
	h.create(t, "issue-1", "A", "B", "C")
	h.clock.Advance(DefaultOfferWindow)
	require.Equal(t, 1, h.status(t, "issue-1").Cursor)

	h.ctrl.onDeadline("issue-1", 0)

	rec := h.status(t, "issue-1")
	assert.Equal(t, 1, rec.Cursor)
	assert.Len(t, rec.History, 3)
}

func TestDeadline_EarlyFireRearms(t *testing.T) {
	h := newHarness(t)
	h.create(t, "issue-1", "A", "B")

	h.ctrl.onDeadline("issue-1", 0)

	rec := h.status(t, "issue-1")
	assert.Equal(t, 0, rec.Cursor, "deadline not reached yet")
	d, ok := h.ctrl.sched.Deadline("issue-1", 0)
	require.True(t, ok)
	assert.Equal(t, rec.DeadlineAt, d)
}

// Marking complete while Offered is rejected and changes nothing.
func TestMarkComplete_RequiresAssigned(t *testing.T) {
	h := newHarness(t)
	h.create(t, "issue-1", "A", "B")
	before := h.status(t, "issue-1")

	ok, err := h.ctrl.MarkComplete(context.Background(), "issue-1")
	assert.False(t, ok)
	assert.True(t, ledger.IsInvalidState(err), "got %v", err)

	after := h.status(t, "issue-1")
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.History, after.History)
	assert.Equal(t, 1, h.ctrl.Pending(), "offer deadline still armed")
}

func TestMarkComplete_Assigned(t *testing.T) {
	h := newHarness(t, WithCompletionWindow(72*time.Hour))
	h.create(t, "issue-1", "A")
	ctx := context.Background()

	won, err := h.ctrl.AcceptOffer(ctx, "issue-1", "A")
	require.NoError(t, err)
	require.True(t, won)
	assert.Equal(t, 1, h.ctrl.Pending(), "completion deadline armed")

	ok, err := h.ctrl.MarkComplete(ctx, "issue-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, h.ctrl.Pending())

	rec := h.status(t, "issue-1")
	assert.Equal(t, ledger.StatusCompleted, rec.Status)
	assert.Equal(t, []string{"offered:A", "accepted:A", "completed:A"}, history(rec))

	ok, err = h.ctrl.MarkComplete(ctx, "issue-1")
	assert.False(t, ok)
	assert.True(t, ledger.IsInvalidState(err))

	won, err = h.ctrl.AcceptOffer(ctx, "issue-1", "A")
	require.NoError(t, err)
	assert.False(t, won, "accept after completed")

	h.clock.Advance(100 * time.Hour)
	assert.Equal(t, int32(0), h.metrics.overdue.Load())
}

func TestCompletionDeadline_NotifiesOverdue(t *testing.T) {
	h := newHarness(t, WithCompletionWindow(24*time.Hour))
	h.create(t, "issue-1", "A")

	h.clock.Advance(time.Hour)
	won, err := h.ctrl.AcceptOffer(context.Background(), "issue-1", "A")
	require.NoError(t, err)
	require.True(t, won)

	rec := h.status(t, "issue-1")
	assert.Equal(t, epoch.Add(25*time.Hour), rec.DeadlineAt)

	h.clock.Advance(24 * time.Hour)

	rec = h.status(t, "issue-1")
	assert.Equal(t, ledger.StatusAssigned, rec.Status, "overdue does not change the assignment")
	assert.Equal(t, "A", rec.AssignedNGO)
	assert.Equal(t, []string{"offered:A", "assigned:A", "overdue:A"}, h.events())
	assert.Equal(t, int32(1), h.metrics.overdue.Load())

	// Completion is still allowed after the deadline.
	ok, err := h.ctrl.MarkComplete(context.Background(), "issue-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnknownIssue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ctrl.AcceptOffer(ctx, "nope", "A")
	assert.True(t, ledger.IsNotFound(err))

	_, err = h.ctrl.GetStatus(ctx, "nope")
	assert.True(t, ledger.IsNotFound(err))

	ok, err := h.ctrl.MarkComplete(ctx, "nope")
	assert.False(t, ok)
	assert.True(t, ledger.IsNotFound(err))
}

func TestResume_RearmsFromLedger(t *testing.T) {
	c := testutil.NewManualClock(epoch)
	l := ledger.NewMemory(ledger.WithClock(c), ledger.WithIDGenerator(testutil.NewSequentialIDs("offer")))
	ctx := context.Background()

	// State left behind by a previous process.
	_, err := l.Create(ctx, "offered", []string{"A", "B"})
	require.NoError(t, err)
	_, err = l.OpenOffer(ctx, "offered", "A", epoch.Add(time.Hour))
	require.NoError(t, err)

	_, err = l.Create(ctx, "never-offered", []string{"X"})
	require.NoError(t, err)

	_, err = l.Create(ctx, "pending", []string{"A", "B"})
	require.NoError(t, err)
	tok, err := l.OpenOffer(ctx, "pending", "A", epoch)
	require.NoError(t, err)
	_, err = l.ExpireOffer(ctx, tok)
	require.NoError(t, err)

	_, err = l.Create(ctx, "assigned-no-deadline", []string{"A"})
	require.NoError(t, err)
	tok, err = l.OpenOffer(ctx, "assigned-no-deadline", "A", epoch)
	require.NoError(t, err)
	_, err = l.TryAccept(ctx, tok, time.Time{})
	require.NoError(t, err)

	rec := &notify.Recorder{}
	ctrl := New(l, rec, WithClock(c), WithOfferWindow(2*time.Hour))
	t.Cleanup(ctrl.Close)

	armed, err := ctrl.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, armed)
	assert.Equal(t, 3, ctrl.Pending())

	never, err := l.Get(ctx, "never-offered")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOffered, never.Status)
	assert.NotEmpty(t, never.OfferID)

	pending, err := l.Get(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, "B", pending.CurrentCandidate())
	assert.NotEmpty(t, pending.OfferID)

	// The surviving offer's original deadline is honoured.
	c.Advance(time.Hour)
	offered, err := l.Get(ctx, "offered")
	require.NoError(t, err)
	assert.Equal(t, 1, offered.Cursor)
}

func TestClose_StopsDeadlines(t *testing.T) {
	h := newHarness(t)
	h.create(t, "issue-1", "A", "B")

	h.ctrl.Close()
	h.clock.Advance(DefaultOfferWindow)

	rec := h.status(t, "issue-1")
	assert.Equal(t, 0, rec.Cursor)
}

// flakySink fails every delivery.
type flakySink struct{ calls atomic.Int32 }

func (f *flakySink) Notify(context.Context, notify.Notification) error {
	f.calls.Add(1)
	return errors.New("smtp relay down")
}

func TestNotificationFailureDoesNotBlockTransitions(t *testing.T) {
	c := testutil.NewManualClock(epoch)
	l := ledger.NewMemory(ledger.WithClock(c))
	sink := &flakySink{}
	ctrl := New(l, sink, WithClock(c))
	t.Cleanup(ctrl.Close)

	_, err := ctrl.CreateAssignment(context.Background(), "issue-1", []string{"A", "B"})
	require.NoError(t, err)
	c.Advance(DefaultOfferWindow)

	rec, err := ctrl.GetStatus(context.Background(), "issue-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Cursor)
	assert.Equal(t, int32(2), sink.calls.Load(), "one attempt per notification")
}

// flakyOpen fails the next n OpenOffer calls with an infrastructure error.
type flakyOpen struct {
	*ledger.Memory
	failures atomic.Int32
}

func (f *flakyOpen) OpenOffer(ctx context.Context, issueID, ngoID string, deadline time.Time) (ledger.OfferToken, error) {
	if f.failures.Add(-1) >= 0 {
		return ledger.OfferToken{}, errors.New("connection reset by peer")
	}
	return f.Memory.OpenOffer(ctx, issueID, ngoID, deadline)
}

func newFlakyController(t *testing.T) (*Controller, *flakyOpen, *testutil.ManualClock, *notify.Recorder) {
	t.Helper()
	c := testutil.NewManualClock(epoch)
	l := &flakyOpen{Memory: ledger.NewMemory(
		ledger.WithClock(c),
		ledger.WithIDGenerator(testutil.NewSequentialIDs("offer")),
	)}
	rec := &notify.Recorder{}
	ctrl := New(l, rec, WithClock(c), WithRetryDelay(time.Minute))
	t.Cleanup(ctrl.Close)
	return ctrl, l, c, rec
}

func TestDeadline_FailedEscalationRetries(t *testing.T) {
	ctx := context.Background()
	ctrl, l, c, rec := newFlakyController(t)

	_, err := ctrl.CreateAssignment(ctx, "issue-1", []string{"ngo-a", "ngo-b"})
	require.NoError(t, err)

	l.failures.Store(1)
	c.Advance(DefaultOfferWindow)

	got, err := ctrl.GetStatus(ctx, "issue-1")
	require.NoError(t, err)
	assert.True(t, got.PendingOffer(), "offer to ngo-b should be pending")
	assert.Equal(t, 1, got.Cursor)
	assert.Equal(t, 1, ctrl.Pending(), "a retry must be armed")

	c.Advance(time.Minute)

	got, err = ctrl.GetStatus(ctx, "issue-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOffered, got.Status)
	assert.NotEmpty(t, got.OfferID)
	assert.Equal(t, []string{"offered:ngo-a", "expired:ngo-a", "offered:ngo-b"}, history(got))
	require.Len(t, rec.All(), 2)
	assert.Equal(t, "ngo-b", rec.All()[1].NGOID)

	won, err := ctrl.AcceptOffer(ctx, "issue-1", "ngo-b")
	require.NoError(t, err)
	assert.True(t, won)
}

func TestCreateAssignment_FailedFirstOfferRetries(t *testing.T) {
	ctx := context.Background()
	ctrl, l, c, _ := newFlakyController(t)

	l.failures.Store(1)
	_, err := ctrl.CreateAssignment(ctx, "issue-1", []string{"ngo-a"})
	require.Error(t, err)

	got, err := ctrl.GetStatus(ctx, "issue-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusUnassigned, got.Status)
	assert.Equal(t, 1, ctrl.Pending())

	c.Advance(time.Minute)

	got, err = ctrl.GetStatus(ctx, "issue-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOffered, got.Status)
	assert.Equal(t, []string{"offered:ngo-a"}, history(got))
}

func TestDeadline_RetryRepeatsUntilOfferOpens(t *testing.T) {
	ctx := context.Background()
	ctrl, l, c, _ := newFlakyController(t)

	l.failures.Store(3)
	_, err := ctrl.CreateAssignment(ctx, "issue-1", []string{"ngo-a"})
	require.Error(t, err)

	c.Advance(time.Minute)
	c.Advance(time.Minute)
	got, err := ctrl.GetStatus(ctx, "issue-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusUnassigned, got.Status)
	assert.Equal(t, 1, ctrl.Pending(), "exactly one retry armed per failure")

	c.Advance(time.Minute)
	got, err = ctrl.GetStatus(ctx, "issue-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOffered, got.Status)
}
