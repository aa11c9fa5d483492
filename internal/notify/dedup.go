package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/docflow/internal/workflow"
)

// Deduper suppresses repeated notifications of the same transition to the
// same user within a window.
type Deduper struct {
	client *redis.Client
	window time.Duration
}

// NewDeduper constructs a Redis backed deduper.
func NewDeduper(client *redis.Client, window time.Duration) *Deduper {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Deduper{client: client, window: window}
}

// DedupKey identifies one (recipient, document, action) tuple.
func DedupKey(recipient int64, evt workflow.Event) string {
	return fmt.Sprintf("notify:dedup:%d:%s:%d:%s", recipient, evt.DocType, evt.RecID, evt.Action)
}

// Claim reserves key for the window. It reports false when the key is
// already held, meaning the notification is a duplicate.
func (d *Deduper) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, key, 1, d.window).Result()
	if err != nil {
		return false, fmt.Errorf("notify: dedup claim: %w", err)
	}
	return ok, nil
}

// Release drops claims so a failed fan-out can be retried.
func (d *Deduper) Release(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := d.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("notify: dedup release: %w", err)
	}
	return nil
}
