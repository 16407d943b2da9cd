// Package notify hands assignment events to external collaborators.
//
// Delivery is fire-and-forget: the engine never waits on a sink and never
// retries. Each Notification gets one delivery attempt; failures are logged
// by whoever made the attempt.
package notify

import (
	"context"
	"time"
)

// Event names what happened to an NGO's involvement with an issue.
type Event string

const (
	// EventOffered: the NGO now holds an open offer and may accept until Deadline.
	EventOffered Event = "offered"

	// EventRejected: the issue went to someone else after this NGO's offer expired.
	EventRejected Event = "rejected"

	// EventAssigned: the NGO won the issue.
	EventAssigned Event = "assigned"

	// EventExhausted: every candidate let the offer lapse. NGOID is empty.
	EventExhausted Event = "exhausted"

	// EventOverdue: the assigned NGO missed the completion deadline.
	EventOverdue Event = "overdue"
)

// Notification is one message for one recipient.
type Notification struct {
	// Seq is a process-local monotonic sequence stamped by the Dispatcher.
	Seq      int64     `json:"seq,omitempty"`
	IssueID  string    `json:"issue_id"`
	NGOID    string    `json:"ngo_id,omitempty"`
	Event    Event     `json:"event"`
	OfferID  string    `json:"offer_id,omitempty"`
	Deadline time.Time `json:"deadline,omitzero"`
	At       time.Time `json:"at"`
}

// Sink accepts notifications. Implementations must be safe for concurrent use.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

// Notify implements Sink.
func (f SinkFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Discard drops every notification.
var Discard Sink = SinkFunc(func(context.Context, Notification) error { return nil })
