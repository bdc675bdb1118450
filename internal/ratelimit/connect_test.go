package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectLimiterAllowsUpToBurst(t *testing.T) {
	l := NewConnectLimiter(1, 3)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("1.2.3.4"))
	}
	assert.False(t, l.Allow("1.2.3.4"))
}

func TestConnectLimiterTracksIPsIndependently(t *testing.T) {
	l := NewConnectLimiter(1, 1)
	assert.True(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"))
	assert.False(t, l.Allow("1.1.1.1"))
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	r.RemoteAddr = "127.0.0.1:12345"
	assert.Equal(t, "9.9.9.9", ClientIP(r))
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "5.6.7.8:9999"
	assert.Equal(t, "5.6.7.8", ClientIP(r))
}

func TestSweepRemovesFullyRefilledBuckets(t *testing.T) {
	l := NewConnectLimiter(1000, 5)
	l.Allow("1.2.3.4")
	require.Len(t, l.limiters, 1)

	time.Sleep(20 * time.Millisecond) // plenty of time to refill at 1000 rps
	l.Sweep()
	assert.Len(t, l.limiters, 0)
}
