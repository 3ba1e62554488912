package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// InboxLength caps how many notifications an inbox keeps.
	InboxLength = 100
	inboxTTL    = 7 * 24 * time.Hour
)

// RedisNotifier pushes notifications onto Redis lists: one inbox per
// recipient, or per offer when the notification has no single recipient.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier creates a RedisNotifier.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// InboxKey is the list a notification lands in.
func InboxKey(n Notification) string {
	if n.Recipient != "" {
		return "notifications:user:" + n.Recipient
	}
	return "notifications:offer:" + n.OfferID
}

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	n.Stamp()
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	key := InboxKey(n)

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, InboxLength-1)
	pipe.Expire(ctx, key, inboxTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store notification in Redis key '%s': %w", key, err)
	}
	return nil
}

// Inbox returns the newest notifications of key first.
func (r *RedisNotifier) Inbox(ctx context.Context, key string, limit int64) ([]Notification, error) {
	if limit <= 0 || limit > InboxLength {
		limit = InboxLength
	}
	raw, err := r.client.LRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox '%s': %w", key, err)
	}
	out := make([]Notification, 0, len(raw))
	for _, item := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
