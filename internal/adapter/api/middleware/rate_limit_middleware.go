package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"agrilink/internal/infrastructure/ratelimit"
)

// RateLimitMiddleware throttles message sends per authenticated user.
type RateLimitMiddleware struct {
	limiter *ratelimit.RateLimiter
}

// NewRateLimitMiddleware allows bursts of 20 sends, refilling one token
// per second.
func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: ratelimit.NewRateLimiter(20, 1, time.Second),
	}
}

func (m *RateLimitMiddleware) LimitSends(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := c.Get("uid").(string)
		if !ok || userID == "" {
			return next(c)
		}

		allowed, retryAfter := m.limiter.Allow(userID)
		if !allowed {
			seconds := int(retryAfter.Seconds()) + 1
			c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many messages, slow down")
		}

		return next(c)
	}
}

// StartCleanup evicts idle user buckets until ctx is cancelled.
func (m *RateLimitMiddleware) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.limiter.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
