// Package ratelimit provides an in-memory, per-key token-bucket limiter with
// opportunistic eviction of idle buckets. It is process-local; the bot runs
// as a single long-polling instance.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTTL   = 10 * time.Minute
	gcEveryCalls = 5000
)

// visitor holds a single bucket and the last time it was used.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per key. It is safe for concurrent use.
type Limiter struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	calls    uint64
}

// New returns a Limiter refilling rps tokens per second up to burst. A
// non-positive burst is coerced to 1. rps == 0 with burst b allows b events
// per key and then nothing.
func New(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      defaultTTL,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Allow reports whether an event for key may happen now, consuming a token.
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).AllowN(l.now(), 1)
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// bucket returns key's limiter, creating it if absent. Idle buckets are
// swept every gcEveryCalls lookups, before the requested key is touched, so
// a stale bucket is evicted even when it is the one being fetched.
func (l *Limiter) bucket(key string) *rate.Limiter {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls >= gcEveryCalls {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) >= l.ttl {
				delete(l.visitors, k)
			}
		}
		l.calls = 0
	}

	if v, ok := l.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}
