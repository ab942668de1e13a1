package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dlmm-risk-manager/internal/ratelimit"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const minPollInterval = 10 * time.Millisecond

// RateLimiter is a sliding-window limiter backed by Redis sorted sets, shared
// by every instance that talks to the same upstream API.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

func rateLimitKey(key string) string {
	return Key("ratelimit", key)
}

// Allow reports whether a request for key fits in the window and counts it if
// so. When denied it also returns how long until the oldest request expires.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	now := time.Now().UnixMicro()

	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		now,
		window.Microseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, 0, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}

	return result[0] == 1, time.Duration(result[1]) * time.Microsecond, nil
}

// Limiter binds key, limit and window into a ratelimit.Limiter.
func (rl *RateLimiter) Limiter(key string, limit int, window time.Duration) ratelimit.Limiter {
	return &keyedLimiter{rl: rl, key: key, limit: limit, window: window}
}

type keyedLimiter struct {
	rl     *RateLimiter
	key    string
	limit  int
	window time.Duration
}

// Wait polls Redis until the request fits, sleeping for the retry hint between attempts.
func (k *keyedLimiter) Wait(ctx context.Context) error {
	for {
		allowed, retry, err := k.rl.Allow(ctx, k.key, k.limit, k.window)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if retry < minPollInterval {
			retry = minPollInterval
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", k.key, ctx.Err())
		case <-timer.C:
		}
	}
}
