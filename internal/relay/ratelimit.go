package relay

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces per-IP upgrade rate limits using a token bucket.
// A rendezvous token is unguessable, but the upgrade endpoint itself is open;
// the limiter keeps a misbehaving client from churning connections.
type RateLimiter struct {
	limiters sync.Map   // ip → *limiterEntry
	r        rate.Limit // refill rate (requests per second)
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter. rpm is requests per minute; rpm <= 0
// disables limiting entirely.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(0)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}
	rl := &RateLimiter{r: r, burst: burst}

	go rl.cleanupLoop()

	return rl
}

// Allow checks whether an upgrade from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.r == 0 {
		return true // disabled
	}
	entry := rl.getOrCreate(ip)
	if !entry.limiter.Allow() {
		slog.Warn("upgrade rate limited", "ip", ip)
		return false
	}
	entry.lastSeen = time.Now()
	return true
}

func (rl *RateLimiter) getOrCreate(ip string) *limiterEntry {
	if v, ok := rl.limiters.Load(ip); ok {
		return v.(*limiterEntry)
	}
	entry := &limiterEntry{
		limiter:  rate.NewLimiter(rl.r, rl.burst),
		lastSeen: time.Now(),
	}
	actual, _ := rl.limiters.LoadOrStore(ip, entry)
	return actual.(*limiterEntry)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		rl.limiters.Range(func(key, value any) bool {
			if value.(*limiterEntry).lastSeen.Before(cutoff) {
				rl.limiters.Delete(key)
			}
			return true
		})
	}
}
