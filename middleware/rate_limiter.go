package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/Itish41/IAOMS/ratelimit"
	"github.com/gin-gonic/gin"
)

// RateLimiter throttles requests per caller. Callers are keyed by
// authenticated user id, falling back to the client IP.
type RateLimiter struct {
	keys *ratelimit.Limiter
}

// NewRateLimiter allows limit requests per window for each caller.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{keys: ratelimit.New(limit, window)}
}

func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(ContextUserIDKey)
		if key == "" {
			ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
			if err != nil {
				ip = c.ClientIP()
			}
			key = ip
		}

		if !rl.keys.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too Many Requests",
				"message": "Rate limit exceeded. Please wait before making more requests.",
			})
			return
		}

		c.Next()
	}
}
