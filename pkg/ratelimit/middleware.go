package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/restoreassist/trial-engine/pkg/common"
	"github.com/restoreassist/trial-engine/pkg/logger"
	"go.uber.org/zap"
)

// Middleware enforces per-identity request budgets. Authenticated callers
// are keyed by user ID, anonymous callers by client IP. Redis failures let
// the request through: rate limiting degrades before availability does.
func Middleware(limiter *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, identityType := callerIdentity(c)

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		rule := limiter.RuleFor(endpoint, identityType)
		result, err := limiter.Allow(c.Request.Context(), endpoint, identity, rule, identityType)
		if err != nil {
			logger.WithContext(c.Request.Context()).Warn("Rate limiter unavailable, allowing request",
				zap.String("endpoint", endpoint),
				zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(result.ResetAfter.Seconds())+1))

		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			common.ErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

// callerIdentity resolves who is making the request. The auth middleware
// stores user_id for authenticated calls.
func callerIdentity(c *gin.Context) (string, IdentityType) {
	if userID := c.GetString("user_id"); userID != "" {
		return userID, IdentityAuthenticated
	}
	return c.ClientIP(), IdentityAnonymous
}
