package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter implements a simple token bucket limiter for model calls.
type RateLimiter struct {
	stopCh     chan struct{}
	tokens     int
	capacity   int
	refillRate int
	mu         sync.Mutex
}

// NewRateLimiter creates a rate limiter with the specified requests per minute.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}

	rl := &RateLimiter{
		tokens:     requestsPerMinute,
		capacity:   requestsPerMinute,
		refillRate: requestsPerMinute,
		stopCh:     make(chan struct{}),
	}

	go rl.refill()

	return rl
}

// Wait blocks until a token is available or the context is canceled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if rl.tryAcquire() {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limiter canceled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// tryAcquire attempts to acquire a token without blocking.
func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// refill periodically adds tokens to the bucket.
func (rl *RateLimiter) refill() {
	ticker := time.NewTicker(time.Minute / time.Duration(rl.refillRate))
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			if rl.tokens < rl.capacity {
				rl.tokens++
			}
			rl.mu.Unlock()
		}
	}
}

// Close stops the refill goroutine.
func (rl *RateLimiter) Close() {
	close(rl.stopCh)
}
