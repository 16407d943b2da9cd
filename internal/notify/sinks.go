package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// LogSink writes every notification to a structured logger.
type LogSink struct {
	Log *slog.Logger
}

// Notify implements Sink.
func (s LogSink) Notify(ctx context.Context, n Notification) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{
		"issue_id", n.IssueID,
		"event", n.Event,
	}
	if n.NGOID != "" {
		attrs = append(attrs, "ngo_id", n.NGOID)
	}
	if n.OfferID != "" {
		attrs = append(attrs, "offer_id", n.OfferID)
	}
	if !n.Deadline.IsZero() {
		attrs = append(attrs, "deadline", n.Deadline)
	}
	log.InfoContext(ctx, "notification", attrs...)
	return nil
}

// Recorder keeps every notification in memory, in arrival order.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

// Notify implements Sink.
func (r *Recorder) Notify(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// All returns a copy of everything recorded so far.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// For returns the notifications addressed to ngoID.
func (r *Recorder) For(ngoID string) []Notification {
	var out []Notification
	for _, n := range r.All() {
		if n.NGOID == ngoID {
			out = append(out, n)
		}
	}
	return out
}

// Reset clears the recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// Multi fans a notification out to several sinks. Every sink is attempted;
// the errors are joined.
type Multi []Sink

// Notify implements Sink.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for i, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
