package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// InFlightGuard coalesces duplicate deliveries of the same screenshot
// across worker processes with a Redis SETNX lock. A holder crash is
// covered by the TTL; the queue's visibility timeout re-delivers the
// job after the lock expires.
type InFlightGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewInFlightGuard creates the guard. ttl should exceed the longest
// expected single processing run.
func NewInFlightGuard(client *redis.Client, ttl time.Duration) *InFlightGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &InFlightGuard{client: client, ttl: ttl}
}

func guardKey(id uuid.UUID) string {
	return "screenvault:inflight:" + id.String()
}

// TryAcquire attempts to claim the screenshot. Returns false when
// another worker already holds it.
func (g *InFlightGuard) TryAcquire(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := g.client.SetNX(ctx, guardKey(id), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire in-flight guard for %s: %w", id, err)
	}
	return ok, nil
}

// Release frees the claim after processing finishes either way.
func (g *InFlightGuard) Release(ctx context.Context, id uuid.UUID) error {
	if err := g.client.Del(ctx, guardKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to release in-flight guard for %s: %w", id, err)
	}
	return nil
}
