package infrastructure

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MessageRateLimiter applies a token bucket per sender to inbound messages.
type MessageRateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*senderBucket
	limit       rate.Limit
	burst       int
	idleTimeout time.Duration
}

type senderBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMessageRateLimiter creates a limiter allowing perSecond messages per
// sender with the given burst.
func NewMessageRateLimiter(perSecond float64, burst int) *MessageRateLimiter {
	return &MessageRateLimiter{
		buckets:     make(map[string]*senderBucket),
		limit:       rate.Limit(perSecond),
		burst:       burst,
		idleTimeout: 10 * time.Minute,
	}
}

// Allow consumes one token for sender and reports whether it was available.
func (rl *MessageRateLimiter) Allow(sender string) bool {
	return rl.AllowAt(sender, time.Now())
}

// AllowAt is Allow evaluated at an explicit instant.
func (rl *MessageRateLimiter) AllowAt(sender string, now time.Time) bool {
	rl.mu.Lock()
	bucket, exists := rl.buckets[sender]
	if !exists {
		bucket = &senderBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[sender] = bucket
	}
	bucket.lastSeen = now
	rl.mu.Unlock()

	return bucket.limiter.AllowN(now, 1)
}

// Reset drops the bucket for sender.
func (rl *MessageRateLimiter) Reset(sender string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, sender)
}

// Run removes idle buckets periodically until ctx is cancelled.
func (rl *MessageRateLimiter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

func (rl *MessageRateLimiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for sender, bucket := range rl.buckets {
		if now.Sub(bucket.lastSeen) > rl.idleTimeout {
			delete(rl.buckets, sender)
			removed++
		}
	}
	return removed
}

// Stats returns limiter statistics.
func (rl *MessageRateLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return map[string]interface{}{
		"active_senders": len(rl.buckets),
		"rate":           float64(rl.limit),
		"burst":          rl.burst,
	}
}
