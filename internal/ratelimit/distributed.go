package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedLimiter is the multi-instance counterpart to ConnectLimiter,
// grounded on the teacher's gateway rate limiter: a Redis INCR+EXPIRE
// fixed-window counter shared across every process behind the same Redis.
type DistributedLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewDistributedLimiter builds a limiter allowing limit connects per window
// per key, shared via client.
func NewDistributedLimiter(client *redis.Client, limit int, window time.Duration) *DistributedLimiter {
	return &DistributedLimiter{client: client, limit: limit, window: window}
}

// Allow increments key's counter for the current window and reports
// whether it is still within limit. On a Redis error it fails open,
// mirroring the teacher's rate limiter's own fail-open behavior.
func (d *DistributedLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().Truncate(d.window).Unix())

	pipe := d.client.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, d.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("distributed rate limit check: %w", err)
	}

	return incr.Val() <= int64(d.limit), nil
}
