package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/common"
	"github.com/orchidlake/llmstudio/common/config"
)

// memoryRateLimiter is the single-process fallback: a sliding window of
// request timestamps per key, pruned on access and by a background sweep.
type memoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string][]int64
}

var (
	memoryLimiter     *memoryRateLimiter
	memoryLimiterOnce sync.Once
)

func getMemoryLimiter() *memoryRateLimiter {
	memoryLimiterOnce.Do(func() {
		memoryLimiter = &memoryRateLimiter{entries: map[string][]int64{}}
		go memoryLimiter.sweep()
	})
	return memoryLimiter
}

// Allow reports whether one more request fits the window, recording it if so.
func (l *memoryRateLimiter) Allow(key string, maxRequests int, window int64) bool {
	now := time.Now().Unix()
	cutoff := now - window

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.entries[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= maxRequests {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func (l *memoryRateLimiter) sweep() {
	ticker := time.NewTicker(config.RateLimitKeyExpirationDuration)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-config.RateLimitKeyExpirationDuration).Unix()
		l.mu.Lock()
		for key, stamps := range l.entries {
			if len(stamps) == 0 || stamps[len(stamps)-1] < cutoff {
				delete(l.entries, key)
			}
		}
		l.mu.Unlock()
	}
}

// redisAllow implements a fixed window counter shared across processes.
// Errors fail open: a Redis hiccup must not take the API down with it.
func redisAllow(c *gin.Context, key string, maxRequests int, window int64) bool {
	ctx := gmw.Ctx(c)
	rdb := common.RDB
	count, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		gmw.GetLogger(c).Warn("rate limit redis incr failed", zap.Error(err))
		return true
	}
	if count == 1 {
		if err := rdb.Expire(ctx, key, time.Duration(window)*time.Second).Err(); err != nil {
			gmw.GetLogger(c).Warn("rate limit redis expire failed", zap.Error(err))
		}
	}
	return count <= int64(maxRequests)
}

func rateLimitFactory(maxRequests int, window int64, mark string) func(c *gin.Context) {
	return func(c *gin.Context) {
		key := fmt.Sprintf("rateLimit:%s:%s", mark, c.ClientIP())
		var allowed bool
		if common.IsRedisEnabled() {
			allowed = redisAllow(c, key, maxRequests, window)
		} else {
			allowed = getMemoryLimiter().Allow(key, maxRequests, window)
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Too many requests, please try again later",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func GlobalAPIRateLimit() func(c *gin.Context) {
	return rateLimitFactory(config.GlobalApiRateLimitNum, config.GlobalApiRateLimitDuration, "GA")
}

func GlobalWebRateLimit() func(c *gin.Context) {
	return rateLimitFactory(config.GlobalWebRateLimitNum, config.GlobalWebRateLimitDuration, "GW")
}

// CriticalRateLimit guards login and registration against brute force.
func CriticalRateLimit() func(c *gin.Context) {
	return rateLimitFactory(config.CriticalRateLimitNum, config.CriticalRateLimitDuration, "CT")
}
