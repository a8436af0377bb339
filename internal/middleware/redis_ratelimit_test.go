package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewRedisRateLimiter_InvalidURL(t *testing.T) {
	_, err := NewRedisRateLimiter("not-a-redis-url", DefaultRateLimitConfig())
	if err == nil {
		t.Error("expected error for malformed redis url")
	}
}

func TestNewRedisRateLimiter_ValidURL(t *testing.T) {
	// Construction does not dial; only ParseURL runs here.
	rl, err := NewRedisRateLimiter("redis://localhost:6379/0", DefaultRateLimitConfig())
	if err != nil {
		t.Fatalf("NewRedisRateLimiter: %v", err)
	}
	defer rl.Close()

	if rl.limit.Rate != 200 || rl.limit.Burst != 50 {
		t.Errorf("limit = %+v, want rate 200 burst 50 from DefaultRateLimitConfig", rl.limit)
	}
}

func TestRedisRateLimitMiddleware_FailsOpenWhenRedisUnreachable(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Port 1 has no listener; every Allow call errors and the middleware
	// must let the request through.
	rl, err := NewRedisRateLimiter("redis://127.0.0.1:1/0", DefaultRateLimitConfig())
	if err != nil {
		t.Fatalf("NewRedisRateLimiter: %v", err)
	}
	defer rl.Close()

	r := gin.New()
	r.Use(RedisRateLimitMiddleware(rl))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (fail open) when redis is unreachable", w.Code)
	}
}
