// ratelimit.go enforces per-caller token-bucket rate limits in process memory.
// Redis-backed limiting for multi-replica deployments lives in
// redis_ratelimit.go; this limiter is the single-node default and the
// always-on guard for the login and data-upload routes.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimitConfig tunes one token bucket class.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained refill rate.
	RequestsPerMinute int
	// BurstSize is the bucket capacity a fresh caller starts with.
	BurstSize int
	// CleanupInterval is how often idle buckets are discarded.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig covers general API traffic.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
	}
}

// AuthRateLimitConfig throttles the login and callback routes, where a burst
// is an attack rather than a busy client.
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// UploadRateLimitConfig throttles data-plane writes.
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter is an in-memory token bucket limiter keyed per caller.
type RateLimiter struct {
	config  RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewRateLimiter builds a limiter and starts its idle-bucket sweeper.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// sweep drops buckets idle long enough to have fully refilled; a returning
// caller is indistinguishable from a new one at that point.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			rl.mu.Lock()
			for key, b := range rl.buckets {
				if b.lastUpdate.Before(cutoff) {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop terminates the sweeper goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Allow spends one token for key, reporting whether the request may proceed
// and how many whole tokens remain afterwards.
func (rl *RateLimiter) Allow(key string) (ok bool, remaining int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: float64(rl.config.BurstSize)}
		rl.buckets[key] = b
	} else {
		refill := now.Sub(b.lastUpdate).Seconds() * float64(rl.config.RequestsPerMinute) / 60.0
		b.tokens = min(float64(rl.config.BurstSize), b.tokens+refill)
	}
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens)
	}
	return false, 0
}

// retryAfterSeconds is how long a drained caller must wait for one token.
func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.config.RequestsPerMinute <= 0 {
		return 60
	}
	secs := 60 / rl.config.RequestsPerMinute
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RateLimitMiddleware rejects over-limit requests with 429 and standard
// X-RateLimit headers.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rateLimitKey(c)

		ok, remaining := limiter.Allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			retry := limiter.retryAfterSeconds()
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}

// rateLimitKey picks the bucket for a request. Resolved account first, then
// the presented access key ID (the limiter may run before principal
// resolution), then client IP. Keying unverified key pairs by their ID means
// a brute-force against one key cannot be spread across source addresses.
func rateLimitKey(c *gin.Context) string {
	if accountID, exists := c.Get(AccountIDKey); exists {
		if id, ok := accountID.(string); ok && id != "" {
			return "account:" + id
		}
	}

	if header := c.GetHeader("Authorization"); header != "" {
		if fields := strings.Fields(header); len(fields) == 2 {
			return "key:" + fields[0]
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
