package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryRateLimiterEnforcesWindow(t *testing.T) {
	l := &memoryRateLimiter{entries: map[string][]int64{}}

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("k", 3, 60), "request %d should pass", i)
	}
	require.False(t, l.Allow("k", 3, 60), "fourth request must be rejected")
}

func TestMemoryRateLimiterKeysAreIndependent(t *testing.T) {
	l := &memoryRateLimiter{entries: map[string][]int64{}}

	require.True(t, l.Allow("a", 1, 60))
	require.False(t, l.Allow("a", 1, 60))
	require.True(t, l.Allow("b", 1, 60), "second key must have its own budget")
}

func TestMemoryRateLimiterExpiresOldEntries(t *testing.T) {
	l := &memoryRateLimiter{entries: map[string][]int64{}}

	// Seed a timestamp outside the window by hand.
	l.entries["k"] = []int64{time.Now().Add(-2 * time.Minute).Unix()}
	require.True(t, l.Allow("k", 1, 60), "expired entries must not count against the budget")
}
