package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when NATSSink.Prefix is empty.
const DefaultSubjectPrefix = "civicroute.assignments"

// publisher is the slice of *nats.Conn the sink needs.
type publisher interface {
	Publish(subj string, data []byte) error
}

// NATSSink publishes notifications as JSON to "<prefix>.<event>".
type NATSSink struct {
	conn   publisher
	prefix string
}

// NewNATSSink creates a sink over an established connection.
func NewNATSSink(conn *nats.Conn, prefix string) *NATSSink {
	return newNATSSink(conn, prefix)
}

func newNATSSink(conn publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

// DialNATS connects to url with reconnect settings suited to a long-running
// server.
func DialNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("civicroute"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Subject returns the subject a notification for event is published on.
func (s *NATSSink) Subject(event Event) string {
	return s.prefix + "." + string(event)
}

// Notify implements Sink.
func (s *NATSSink) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := s.conn.Publish(s.Subject(n.Event), payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}
