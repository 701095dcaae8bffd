package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const eventKeyPrefix = "webhook:event:"

// EventDedup remembers provider event IDs for a window so redelivered
// webhooks can be acknowledged without reprocessing.
type EventDedup struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEventDedup constructs the dedup store.
func NewEventDedup(client *redis.Client, ttl time.Duration) *EventDedup {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EventDedup{client: client, ttl: ttl}
}

// MarkSeen records the event ID and reports whether this delivery is the
// first. SETNX keeps the check-and-set atomic across instances.
func (d *EventDedup) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	return d.client.SetNX(ctx, eventKeyPrefix+eventID, 1, d.ttl).Result()
}

// Forget releases an event ID so the provider's redelivery is processed
// again. Called when handling failed after the ID was already claimed.
func (d *EventDedup) Forget(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, eventKeyPrefix+eventID).Err()
}
