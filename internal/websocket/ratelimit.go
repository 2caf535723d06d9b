package websocket

import (
	"sync"

	"golang.org/x/time/rate"
)

// connectionLimiter enforces the per-origin connection-rate limit (§4.12):
// a token bucket per distinct origin, created lazily and kept for the life
// of the process. Grounded on the same lazy map+mutex idiom used by the
// gateway's other per-key rate limiters (ratelimit.shardedMap).
type connectionLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newConnectionLimiter(perMinute float64, burst int) *connectionLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 5
	}
	return &connectionLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(perMinute / 60),
		burst:    burst,
	}
}

// Allow reports whether a new connection from origin may proceed.
func (c *connectionLimiter) Allow(origin string) bool {
	c.mu.Lock()
	lim, ok := c.limiters[origin]
	if !ok {
		lim = rate.NewLimiter(c.rps, c.burst)
		c.limiters[origin] = lim
	}
	c.mu.Unlock()
	return lim.Allow()
}

// newMessageLimiter builds the per-connection message-rate limiter (§4.12).
func newMessageLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		perSecond = 100
	}
	if burst <= 0 {
		burst = 50
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
