package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/civicroute/internal/arbiter"
	"github.com/roach88/civicroute/internal/clock"
	"github.com/roach88/civicroute/internal/ledger"
	"github.com/roach88/civicroute/internal/notify"
	"github.com/roach88/civicroute/internal/scheduler"
)

// Controller is the escalation state machine.
//
// Thread-safety: all methods are safe for concurrent use.
type Controller struct {
	ledger  ledger.Ledger
	arbiter *arbiter.Arbiter
	sched   *scheduler.Scheduler
	sink    notify.Sink
	clock   clock.Clock
	log     *slog.Logger
	metrics MetricsHook

	offerWindow      time.Duration
	completionWindow time.Duration
	retryDelay       time.Duration

	// ctx scopes work started by deadline timers; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Controller over l that reports to sink.
func New(l ledger.Ledger, sink notify.Sink, opts ...Option) *Controller {
	o := Options{
		Clock:       clock.Wall{},
		OfferWindow: DefaultOfferWindow,
		RetryDelay:  DefaultRetryDelay,
		Metrics:     noopMetrics{},
		Logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if sink == nil {
		sink = notify.Discard
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		ledger:           l,
		arbiter:          arbiter.New(l, o.Logger),
		sink:             sink,
		clock:            o.Clock,
		log:              o.Logger,
		metrics:          o.Metrics,
		offerWindow:      o.OfferWindow,
		completionWindow: o.CompletionWindow,
		retryDelay:       o.RetryDelay,
		ctx:              ctx,
		cancel:           cancel,
	}
	c.sched = scheduler.New(c.onDeadline,
		scheduler.WithClock(o.Clock),
		scheduler.WithLogger(o.Logger),
	)
	return c
}

// CreateAssignment registers issueID and offers it to the first candidate.
//
// Fails with ALREADY_EXISTS or INVALID_ARGUMENT from the ledger. If the
// record was created but the first offer could not be opened, the error is
// returned and a retry is armed.
func (c *Controller) CreateAssignment(ctx context.Context, issueID string, candidates []string) (ledger.Record, error) {
	rec, err := c.ledger.Create(ctx, issueID, candidates)
	if err != nil {
		return ledger.Record{}, err
	}
	c.log.Info("assignment created",
		"issue_id", rec.IssueID,
		"candidates", len(rec.Candidates),
	)

	if err := c.openOffer(ctx, rec.IssueID, rec.Candidates[0]); err != nil {
		c.retryOffer(rec.IssueID, rec.Cursor, err)
		return ledger.Record{}, fmt.Errorf("create assignment %s: %w", rec.IssueID, err)
	}
	return c.ledger.Get(ctx, rec.IssueID)
}

// AcceptOffer attempts to accept issueID on behalf of ngoID.
//
// Returns true for exactly one caller per issue. Accepting an issue that is
// not currently offered to ngoID, or that was already resolved, returns
// (false, nil). NOT_FOUND is returned as an error.
func (c *Controller) AcceptOffer(ctx context.Context, issueID, ngoID string) (bool, error) {
	var completeBy time.Time
	if c.completionWindow > 0 {
		completeBy = c.clock.Now().Add(c.completionWindow)
	}

	out, err := c.arbiter.SubmitAccept(ctx, issueID, ngoID, completeBy)
	if err != nil {
		return false, err
	}
	c.metrics.OnAccept(out.Record.IssueID, ledger.NormalizeID(ngoID), out.Won)
	if !out.Won {
		return false, nil
	}

	tok := out.Token
	c.sched.Disarm(tok.IssueID, tok.Cursor)
	if !completeBy.IsZero() {
		c.sched.Arm(tok.IssueID, tok.Cursor, completeBy)
	}

	c.log.Info("offer accepted",
		"issue_id", tok.IssueID,
		"ngo_id", tok.NGOID,
		"cursor", tok.Cursor,
		"offer_id", tok.OfferID,
	)

	c.notify(ctx, notify.Notification{
		IssueID:  tok.IssueID,
		NGOID:    tok.NGOID,
		Event:    notify.EventAssigned,
		OfferID:  tok.OfferID,
		Deadline: completeBy,
	})
	for _, earlier := range out.Record.Candidates[:tok.Cursor] {
		c.notify(ctx, notify.Notification{
			IssueID: tok.IssueID,
			NGOID:   earlier,
			Event:   notify.EventRejected,
		})
	}
	return true, nil
}

// GetStatus returns a snapshot of issueID's record.
func (c *Controller) GetStatus(ctx context.Context, issueID string) (ledger.Record, error) {
	return c.ledger.Get(ctx, issueID)
}

// MarkComplete closes an assigned issue. Returns (false, INVALID_STATE) if
// the issue is not assigned; the record is left unchanged.
func (c *Controller) MarkComplete(ctx context.Context, issueID string) (bool, error) {
	rec, err := c.ledger.Get(ctx, issueID)
	if err != nil {
		return false, err
	}
	if err := c.ledger.Complete(ctx, rec.IssueID); err != nil {
		return false, err
	}

	c.sched.Disarm(rec.IssueID, rec.Cursor)
	c.metrics.OnComplete(rec.IssueID, rec.AssignedNGO)
	c.log.Info("assignment completed",
		"issue_id", rec.IssueID,
		"ngo_id", rec.AssignedNGO,
	)
	return true, nil
}

// Resume re-arms deadlines for every active record in the ledger, typically
// after a restart. Offers that a crash left unopened are opened now; offers
// whose deadline passed while the process was down fire immediately.
//
// Returns the number of records that now have a pending deadline.
func (c *Controller) Resume(ctx context.Context) (int, error) {
	active, err := c.ledger.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume: %w", err)
	}

	armed := 0
	for _, rec := range active {
		switch {
		case rec.Status == ledger.StatusUnassigned || rec.PendingOffer():
			if err := c.openOffer(ctx, rec.IssueID, rec.CurrentCandidate()); err != nil {
				c.logLedgerError("resume: open offer failed", rec.IssueID, err)
				if c.retryOffer(rec.IssueID, rec.Cursor, err) {
					armed++
				}
				continue
			}
		case rec.Status == ledger.StatusOffered:
			c.sched.Arm(rec.IssueID, rec.Cursor, rec.DeadlineAt)
		case rec.Status == ledger.StatusAssigned && !rec.DeadlineAt.IsZero():
			c.sched.Arm(rec.IssueID, rec.Cursor, rec.DeadlineAt)
		default:
			continue
		}
		armed++
	}

	c.log.Info("controller resumed",
		"active", len(active),
		"armed", armed,
	)
	return armed, nil
}

// Pending returns the number of armed deadlines.
func (c *Controller) Pending() int {
	return c.sched.Len()
}

// Close stops all deadline timers. The ledger is left as is; a later Resume
// picks up where this controller stopped.
func (c *Controller) Close() {
	c.sched.Stop()
	c.cancel()
}

// openOffer opens an offer to ngoID at the record's current cursor, arms its
// deadline and tells the NGO.
func (c *Controller) openOffer(ctx context.Context, issueID, ngoID string) error {
	deadline := c.clock.Now().Add(c.offerWindow)
	tok, err := c.ledger.OpenOffer(ctx, issueID, ngoID, deadline)
	if err != nil {
		return err
	}

	c.sched.Arm(tok.IssueID, tok.Cursor, deadline)
	c.metrics.OnOffer(tok.IssueID, tok.NGOID)
	c.log.Info("offer opened",
		"issue_id", tok.IssueID,
		"ngo_id", tok.NGOID,
		"cursor", tok.Cursor,
		"offer_id", tok.OfferID,
		"deadline", deadline,
	)

	c.notify(ctx, notify.Notification{
		IssueID:  tok.IssueID,
		NGOID:    tok.NGOID,
		Event:    notify.EventOffered,
		OfferID:  tok.OfferID,
		Deadline: deadline,
	})
	return nil
}

// onDeadline is the scheduler handler. It re-reads the ledger and acts only
// if the record is still at cursor.
func (c *Controller) onDeadline(issueID string, cursor int) {
	ctx := c.ctx
	if ctx.Err() != nil {
		return
	}

	rec, err := c.ledger.Get(ctx, issueID)
	if err != nil {
		c.logLedgerError("deadline: read failed", issueID, err)
		return
	}
	if rec.Cursor != cursor {
		c.log.Debug("deadline stale: cursor moved",
			"issue_id", issueID,
			"cursor", cursor,
			"current", rec.Cursor,
		)
		return
	}

	now := c.clock.Now()
	switch rec.Status {
	case ledger.StatusUnassigned:
		// Created, but the first offer never opened.
		if err := c.openOffer(ctx, rec.IssueID, rec.CurrentCandidate()); err != nil {
			c.logLedgerError("deadline: first offer failed", rec.IssueID, err)
			c.retryOffer(rec.IssueID, rec.Cursor, err)
		}

	case ledger.StatusOffered:
		tok, open := rec.CurrentOffer()
		if !open {
			// Expired earlier but the next offer never opened.
			if err := c.openOffer(ctx, rec.IssueID, rec.CurrentCandidate()); err != nil {
				c.logLedgerError("deadline: reopen failed", rec.IssueID, err)
				c.retryOffer(rec.IssueID, rec.Cursor, err)
			}
			return
		}
		if now.Before(rec.DeadlineAt) {
			c.sched.Arm(rec.IssueID, rec.Cursor, rec.DeadlineAt)
			return
		}
		c.expire(ctx, tok)

	case ledger.StatusAssigned:
		if rec.DeadlineAt.IsZero() {
			return
		}
		if now.Before(rec.DeadlineAt) {
			c.sched.Arm(rec.IssueID, rec.Cursor, rec.DeadlineAt)
			return
		}
		c.metrics.OnOverdue(rec.IssueID, rec.AssignedNGO)
		c.log.Warn("assignment overdue",
			"issue_id", rec.IssueID,
			"ngo_id", rec.AssignedNGO,
			"deadline", rec.DeadlineAt,
		)
		c.notify(ctx, notify.Notification{
			IssueID:  rec.IssueID,
			NGOID:    rec.AssignedNGO,
			Event:    notify.EventOverdue,
			Deadline: rec.DeadlineAt,
		})

	default:
		c.log.Debug("deadline stale: status",
			"issue_id", issueID,
			"status", rec.Status,
		)
	}
}

// expire withdraws tok's offer and escalates to the next candidate.
func (c *Controller) expire(ctx context.Context, tok ledger.OfferToken) {
	next, err := c.ledger.ExpireOffer(ctx, tok)
	if err != nil {
		c.logLedgerError("deadline: expire failed", tok.IssueID, err)
		return
	}

	exhausted := next.Status == ledger.StatusExhausted
	c.metrics.OnExpire(tok.IssueID, tok.NGOID, exhausted)
	c.log.Info("offer expired",
		"issue_id", tok.IssueID,
		"ngo_id", tok.NGOID,
		"cursor", tok.Cursor,
		"exhausted", exhausted,
	)

	if exhausted {
		c.notify(ctx, notify.Notification{
			IssueID: tok.IssueID,
			Event:   notify.EventExhausted,
		})
		return
	}

	if err := c.openOffer(ctx, next.IssueID, next.CurrentCandidate()); err != nil {
		c.logLedgerError("deadline: escalation failed", next.IssueID, err)
		c.retryOffer(next.IssueID, next.Cursor, err)
	}
}

// retryOffer arms one more deadline at cursor after a failed OpenOffer, so
// the record does not wait for a restart. Expected race outcomes mean
// another writer moved the record on; nothing is armed for those.
func (c *Controller) retryOffer(issueID string, cursor int, err error) bool {
	if ledger.IsExpected(err) || c.ctx.Err() != nil {
		return false
	}
	c.sched.Arm(issueID, cursor, c.clock.Now().Add(c.retryDelay))
	c.log.Warn("offer retry armed",
		"issue_id", issueID,
		"cursor", cursor,
		"retry_in", c.retryDelay,
	)
	return true
}

// notify hands n to the sink. Failures are logged, never retried.
func (c *Controller) notify(ctx context.Context, n notify.Notification) {
	n.At = c.clock.Now()
	if err := c.sink.Notify(ctx, n); err != nil {
		c.log.Warn("notification not delivered",
			"issue_id", n.IssueID,
			"ngo_id", n.NGOID,
			"event", n.Event,
			"error", err,
		)
	}
}

// logLedgerError logs expected race outcomes at debug and everything else at
// error level.
func (c *Controller) logLedgerError(msg, issueID string, err error) {
	if ledger.IsExpected(err) {
		c.log.Debug(msg, "issue_id", issueID, "error", err)
		return
	}
	c.log.Error(msg, "issue_id", issueID, "error", err)
}
