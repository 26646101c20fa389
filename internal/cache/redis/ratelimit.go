package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// RateLimiter implements fixed-window rate limiting on Redis counters.
type RateLimiter struct {
	client *Client
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow increments the window counter for key and compares it to the limit.
// The window TTL is set when the counter is created.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := "oddyssey:ratelimit:" + key

	count, err := r.client.rdb.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit incr: %w", err)
	}
	if count == 1 {
		if err := r.client.rdb.Expire(ctx, fullKey, window).Err(); err != nil {
			return false, fmt.Errorf("redis: rate limit expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}
