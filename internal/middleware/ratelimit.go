package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mediaforge/api/internal/ratelimit"
)

// RateLimit throttles a route per authenticated user, falling back to the
// client IP on unauthenticated routes. Must run after Auth on protected
// routes to pick up the user identity.
func RateLimit(limiter *ratelimit.Limiter, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := scope + ":"
		if user, ok := CurrentUser(c); ok {
			key += user.ID
		} else {
			key += c.ClientIP()
		}

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			// fail open
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}

		c.Next()
	}
}
