package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PushMessage is the payload published to a user's channel.
type PushMessage struct {
	EventID      uuid.UUID    `json:"event_id"`
	SentAt       time.Time    `json:"sent_at"`
	Notification Notification `json:"notification"`
}

// Channel returns the pub/sub channel of a user.
func Channel(userID int64) string {
	return fmt.Sprintf("notifications:user:%d", userID)
}

// Publisher pushes notifications over Redis pub/sub.
type Publisher struct {
	client *redis.Client
	now    func() time.Time
}

// NewPublisher constructs a Publisher.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client, now: time.Now}
}

// Push publishes n to its recipient's channel. Delivery to zero subscribers
// is not an error; the stored copy remains.
func (p *Publisher) Push(ctx context.Context, n Notification) error {
	body, err := json.Marshal(PushMessage{EventID: uuid.New(), SentAt: p.now().UTC(), Notification: n})
	if err != nil {
		return fmt.Errorf("notify: encode push: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(n.UserID), body).Err(); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}
