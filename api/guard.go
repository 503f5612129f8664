package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMoveGuard records in-flight move requests in Redis so all API
// instances reject a second concurrent move for the same visit. The TTL
// bounds how long a crashed instance can hold a visit hostage.
type RedisMoveGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMoveGuard creates a guard using the provided Redis client and TTL.
func NewRedisMoveGuard(client *redis.Client, ttl time.Duration) *RedisMoveGuard {
	return &RedisMoveGuard{client: client, ttl: ttl}
}

func (g *RedisMoveGuard) key(visitID string) string {
	return "pending-move:" + visitID
}

// Acquire claims the visit for a move. It returns true when the visit was
// not already mid-transition.
func (g *RedisMoveGuard) Acquire(ctx context.Context, visitID string) (bool, error) {
	return g.client.SetNX(ctx, g.key(visitID), 1, g.ttl).Result()
}

// Release frees the visit after the move completes, success or failure.
func (g *RedisMoveGuard) Release(ctx context.Context, visitID string) error {
	return g.client.Del(ctx, g.key(visitID)).Err()
}
