// Package scheduler arms one-shot deadline timers keyed by (issue, cursor).
//
// Cancellation is best effort: a timer that has already started firing when
// Disarm runs cannot be recalled. Correctness never depends on it; the
// handler re-checks the ledger, whose compare-and-swap rejects stale work.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/civicroute/internal/clock"
)

// Handler is invoked when a deadline passes. It runs on the timer's
// goroutine, without any scheduler lock held.
type Handler func(issueID string, cursor int)

// Key identifies one armed deadline.
type Key struct {
	IssueID string
	Cursor  int
}

// Options holds configuration options for the [Scheduler].
type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger
}

// Option is a function that configures [Options].
type Option func(*Options)

// WithClock sets the time source. Defaults to the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Scheduler holds at most one pending timer per Key.
type Scheduler struct {
	clock   clock.Clock
	log     *slog.Logger
	handler Handler

	mu      sync.Mutex
	pending map[Key]*entry
	stopped bool
}

type entry struct {
	deadline time.Time
	timer    clock.Timer // nil until AfterFunc returns
}

// New creates a Scheduler that calls handler for every deadline that fires.
func New(handler Handler, opts ...Option) *Scheduler {
	o := Options{Clock: clock.Wall{}, Logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Scheduler{
		clock:   o.Clock,
		log:     o.Logger,
		handler: handler,
		pending: make(map[Key]*entry),
	}
}

// Arm schedules the handler for (issueID, cursor) at deadline, replacing any
// timer already armed for that key. A deadline in the past fires as soon as
// possible, never synchronously.
func (s *Scheduler) Arm(issueID string, cursor int, deadline time.Time) {
	k := Key{IssueID: issueID, Cursor: cursor}
	e := &entry{deadline: deadline}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	old := s.pending[k]
	s.pending[k] = e
	s.mu.Unlock()

	if old != nil && old.timer != nil {
		old.timer.Stop()
	}

	d := max(deadline.Sub(s.clock.Now()), 0)
	t := s.clock.AfterFunc(d, func() { s.fire(k, e) })

	s.mu.Lock()
	if s.pending[k] == e {
		e.timer = t
		s.mu.Unlock()
	} else {
		// Disarmed or replaced while we were arming.
		s.mu.Unlock()
		t.Stop()
	}

	s.log.Debug("deadline armed",
		"issue_id", issueID,
		"cursor", cursor,
		"deadline", deadline,
	)
}

// Disarm cancels the timer for (issueID, cursor). It reports whether a timer
// was pending. Disarming an unknown or already fired key is a no-op.
func (s *Scheduler) Disarm(issueID string, cursor int) bool {
	k := Key{IssueID: issueID, Cursor: cursor}

	s.mu.Lock()
	e := s.pending[k]
	delete(s.pending, k)
	s.mu.Unlock()

	if e == nil {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	s.log.Debug("deadline disarmed", "issue_id", issueID, "cursor", cursor)
	return true
}

// Deadline returns the pending deadline for (issueID, cursor), if any.
func (s *Scheduler) Deadline(issueID string, cursor int) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[Key{IssueID: issueID, Cursor: cursor}]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending timer. Later calls to Arm are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	pending := s.pending
	s.pending = make(map[Key]*entry)
	s.mu.Unlock()

	for _, e := range pending {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}

// fire runs the handler if e is still the armed entry for k. Each entry can
// pass this check at most once.
func (s *Scheduler) fire(k Key, e *entry) {
	s.mu.Lock()
	if s.pending[k] != e {
		s.mu.Unlock()
		return
	}
	delete(s.pending, k)
	s.mu.Unlock()

	s.log.Debug("deadline fired", "issue_id", k.IssueID, "cursor", k.Cursor)
	s.handler(k.IssueID, k.Cursor)
}
