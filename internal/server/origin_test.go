package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNormalizeOrigins(t *testing.T) {
	r := require.New(t)

	normalized, allowAll, invalid := normalizeOrigins([]string{
		" HTTP://Example.COM ", "", "*", "not-a-url", "https://chat.test:8443/path",
	})
	r.Equal([]string{"http://example.com", "https://chat.test:8443"}, normalized)
	r.True(allowAll)
	r.Equal([]string{"not-a-url"}, invalid)
}

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"http://chat.test", "bogus"}, zap.NewNop())

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "http://chat.test", want: true},
		{origin: "http://CHAT.test", want: true},
		{origin: "https://chat.test", want: false},
		{origin: "http://chat.test:8080", want: false},
		{origin: "bogus", want: false},
		{origin: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			require.Equal(t, tt.want, policy.check(req))
		})
	}
}

func TestRateLimiter(t *testing.T) {
	r := require.New(t)

	limiter := newRateLimiter(3, time.Hour)
	for range 3 {
		r.True(limiter.allow())
	}
	r.False(limiter.allow())

	// A non-positive capacity still lets one frame through.
	limiter = newRateLimiter(0, 0)
	r.True(limiter.allow())
}

func TestRateLimiterRefills(t *testing.T) {
	limiter := newRateLimiter(2, 40*time.Millisecond)
	require.True(t, limiter.allow())
	require.True(t, limiter.allow())
	require.False(t, limiter.allow())

	require.Eventually(t, limiter.allow, time.Second, 5*time.Millisecond)
}
