package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAliasRateLimiterFixedWindow(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 30, 0, time.UTC)
	limiter := NewAliasRateLimiter(3, time.Minute)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("a@inbox.test"), "request %d within limit", i)
	}
	assert.False(t, limiter.Allow("a@inbox.test"), "fourth request in the window must be rejected")

	// The window is aligned to the UTC minute, so 30s later is still the
	// same window and 31s later is the next one.
	now = now.Add(29 * time.Second)
	assert.False(t, limiter.Allow("a@inbox.test"))

	now = now.Add(2 * time.Second)
	assert.True(t, limiter.Allow("a@inbox.test"), "new window must reset the count")
}

func TestAliasRateLimiterIsPerAlias(t *testing.T) {
	limiter := NewAliasRateLimiter(1, time.Minute)

	assert.True(t, limiter.Allow("a@inbox.test"))
	assert.False(t, limiter.Allow("a@inbox.test"))
	assert.True(t, limiter.Allow("b@inbox.test"), "limits are independent per alias")
}
