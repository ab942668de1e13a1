// Package ratelimit provides the token-bucket limiter that queues outbound
// market-data requests.
//
// Waiters reserve a future token and sleep until it matures, so callers are
// served roughly in arrival order. A waiter whose reservation would mature
// after its context deadline gives the token back and fails immediately
// instead of sleeping until the deadline.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrQueueTimeout is returned when a request could not get a slot in time.
var ErrQueueTimeout = errors.New("ratelimit: queue wait timed out")

// Limiter blocks until a request may proceed.
type Limiter interface {
	Wait(ctx context.Context) error
}

// RateLimiter is a token bucket: rate tokens per second, at most burst stored.
type RateLimiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

var _ Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates a limiter that starts with a full bucket.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst < 1 {
		burst = 1
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// refill must be called with mu held.
func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()

	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}

	rl.lastRefill = now
}

// reserve takes one token, possibly going negative, and returns how long the
// caller must wait before using it.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	rl.tokens--
	if rl.tokens >= 0 {
		return 0
	}
	return time.Duration(-rl.tokens / rl.rate * float64(time.Second))
}

// cancel returns a reserved token.
func (rl *RateLimiter) cancel() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens++
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	delay := rl.reserve()
	if delay == 0 {
		return nil
	}

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
		rl.cancel()
		return fmt.Errorf("%w: next slot in %s", context.DeadlineExceeded, delay.Round(time.Millisecond))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		rl.cancel()
		return ctx.Err()
	}
}

// Allow takes a token without blocking.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens returns the currently available tokens, negative while reservations are queued.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// Rate returns the refill rate in tokens per second.
func (rl *RateLimiter) Rate() float64 {
	return rl.rate
}

// WaitQueued waits on l for at most timeout. A wait that runs out of queue
// time returns ErrQueueTimeout; cancellation of the parent ctx is returned as is.
func WaitQueued(ctx context.Context, l Limiter, timeout time.Duration) error {
	if timeout <= 0 {
		return l.Wait(ctx)
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := l.Wait(qctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrQueueTimeout, timeout)
	}
	return err
}
