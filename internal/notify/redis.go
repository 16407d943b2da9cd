package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultInboxSize is how many notifications an NGO inbox retains.
const DefaultInboxSize = 100

// RedisSink keeps a bounded per-NGO inbox list in Redis, newest first.
// Notifications without an NGO (exhausted) go to the issue's inbox instead.
type RedisSink struct {
	client redis.Cmdable
	size   int64
}

// NewRedisSink creates a sink. size <= 0 uses DefaultInboxSize.
func NewRedisSink(client redis.Cmdable, size int) *RedisSink {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &RedisSink{client: client, size: int64(size)}
}

// InboxKey returns the list key a notification is pushed to.
func InboxKey(n Notification) string {
	if n.NGOID == "" {
		return fmt.Sprintf("civicroute:issue:%s", n.IssueID)
	}
	return fmt.Sprintf("civicroute:inbox:%s", n.NGOID)
}

// Notify implements Sink.
func (s *RedisSink) Notify(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	key := InboxKey(n)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, s.size-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis inbox %s: %w", key, err)
	}
	return nil
}

// Inbox returns up to limit notifications from key, newest first.
// Entries that fail to decode are skipped.
func (s *RedisSink) Inbox(ctx context.Context, key string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = int(s.size)
	}
	data, err := s.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}

	out := make([]Notification, 0, len(data))
	for _, item := range data {
		var n Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
