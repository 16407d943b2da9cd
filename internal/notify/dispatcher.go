package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/civicroute/internal/clock"
)

// ErrClosed is returned by Dispatcher.Notify after Close.
var ErrClosed = errors.New("notify: dispatcher closed")

// Dispatcher decouples producers from a slow Sink.
//
// Notify stamps Seq and enqueues; a single Run goroutine delivers to the
// wrapped sink in FIFO order, one attempt per notification.
//
// Thread-safety model:
//   - Notify(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Dispatcher struct {
	sink  Sink
	queue *queue
	log   *slog.Logger
}

// Ensure Dispatcher implements Sink.
var _ Sink = (*Dispatcher)(nil)

// NewDispatcher wraps sink. A nil logger uses slog.Default().
func NewDispatcher(sink Sink, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		sink:  sink,
		queue: newQueue(clock.NewSequence()),
		log:   log,
	}
}

// Notify enqueues n for delivery and returns immediately. Seq is assigned
// in enqueue order.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	if !d.queue.Enqueue(n) {
		return ErrClosed
	}
	return nil
}

// Run delivers queued notifications until ctx is cancelled or Close is
// called. After Close, Run drains what was already queued and returns nil.
//
// ERROR HANDLING: a failed delivery is logged and dropped. There is no retry.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("notification dispatcher starting")

	for {
		if n, ok := d.queue.TryDequeue(); ok {
			d.deliver(ctx, n)
			continue
		}

		if d.queue.Drained() {
			d.log.Info("notification dispatcher stopping: closed")
			return nil
		}

		select {
		case <-ctx.Done():
			d.log.Info("notification dispatcher stopping: context cancelled",
				"undelivered", d.queue.Len(),
			)
			d.queue.Close()
			return ctx.Err()
		case <-d.queue.Wait():
		}
	}
}

// Close stops accepting notifications. Run returns once the queue drains.
func (d *Dispatcher) Close() {
	d.queue.Close()
}

// Pending returns the number of notifications waiting for delivery.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	if err := d.sink.Notify(ctx, n); err != nil {
		d.log.Error("notification delivery failed",
			"seq", n.Seq,
			"issue_id", n.IssueID,
			"ngo_id", n.NGOID,
			"event", n.Event,
			"error", err,
		)
		return
	}
	d.log.Debug("notification delivered",
		"seq", n.Seq,
		"issue_id", n.IssueID,
		"ngo_id", n.NGOID,
		"event", n.Event,
	)
}
