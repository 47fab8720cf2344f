// Package ratelimit implements the per-remote-address token bucket the
// event router applies before anything else (§4.5 step 1, §8 property/S6):
// 100 events per 10 s, a 5 s cooldown once exceeded, localhost exempt.
// Built on golang.org/x/time/rate (present in the teacher's dependency
// graph, exercised by internal/ws's rate-limit tests) rather than hand
// rolling a counter, since x/time/rate is the ecosystem-standard token
// bucket for exactly this shape of limiter.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	windowEvents = 100
	window       = 10 * time.Second
	cooldown     = 5 * time.Second
)

type bucket struct {
	limiter    *rate.Limiter
	cooldownAt time.Time // zero if not currently cooling down
}

// Limiter tracks one token bucket per remote address (§5 "Rate-limiter
// buckets are per remote address and per connection kind").
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket), now: time.Now}
}

// Allow reports whether an event from addr may proceed. Loopback
// addresses always pass (§4.5: "localhost bypasses").
func (l *Limiter) Allow(addr string) (allowed bool, retryAfter time.Duration) {
	if isLoopback(addr) {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[addr]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(window/windowEvents), windowEvents)}
		l.buckets[addr] = b
	}

	if !b.cooldownAt.IsZero() {
		if now.Before(b.cooldownAt) {
			return false, b.cooldownAt.Sub(now)
		}
		b.cooldownAt = time.Time{}
	}

	if !b.limiter.AllowN(now, 1) {
		b.cooldownAt = now.Add(cooldown)
		return false, cooldown
	}
	return true, 0
}

// IsLoopback reports whether addr (host or host:port) is a loopback
// address, exported for the HTTP layer's own per-endpoint limiters
// (§6.3: "localhost bypasses").
func IsLoopback(addr string) bool {
	return isLoopback(addr)
}

func isLoopback(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return host == "localhost"
	}
	return ip.IsLoopback()
}
