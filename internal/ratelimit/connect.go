// Package ratelimit throttles stream-connect attempts, grounded on the
// teacher's cmd/gateway/internal/middleware rate limiter.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnectLimiter is an in-process, per-client-IP token bucket guarding
// `GET /streams/{id}/events` connection attempts (SPEC_FULL §11). Each
// instance only sees its own process's traffic; DistributedLimiter backs
// the multi-instance case.
type ConnectLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	rps   rate.Limit
	burst int
}

// NewConnectLimiter builds a limiter allowing rps connect attempts per
// second per IP, with the given burst.
func NewConnectLimiter(rps float64, burst int) *ConnectLimiter {
	return &ConnectLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether clientIP may connect now, lazily creating its
// bucket on first use.
func (c *ConnectLimiter) Allow(clientIP string) bool {
	return c.limiterFor(clientIP).Allow()
}

func (c *ConnectLimiter) limiterFor(clientIP string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[clientIP]
	if !ok {
		l = rate.NewLimiter(c.rps, c.burst)
		c.limiters[clientIP] = l
	}
	return l
}

// ClientIP extracts the request's remote IP, preferring X-Forwarded-For's
// first hop when present (trusted only behind a reverse proxy that strips
// client-supplied values).
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := indexByte(fwd, ','); i >= 0 {
			return fwd[:i]
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Sweep removes buckets that are back at full capacity, i.e. have been idle
// long enough to refill completely, bounding memory growth across the
// lifetime of a long-running process. Intended to be called periodically
// (e.g. from Core's own cleanup loop cadence).
func (c *ConnectLimiter) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for ip, l := range c.limiters {
		if l.TokensAt(now) >= float64(c.burst) {
			delete(c.limiters, ip)
		}
	}
}
