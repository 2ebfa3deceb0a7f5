package bybit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket serializing outbound requests for one
// market category. Each client owns its own bucket; spot and linear
// never contend with each other.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	perSecond  float64
	lastRefill time.Time
}

// NewRateLimiter allows perSecond sustained requests with the given
// burst headroom.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(burst),
		burst:      float64(burst),
		perSecond:  perSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or the context is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		deficit := 1 - l.tokens
		wait := time.Duration(deficit / l.perSecond * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.lastRefill = now
	l.tokens += elapsed * l.perSecond
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
}
