package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tazhibayda/auth-api/internal/helper"
	logpkg "github.com/tazhibayda/auth-api/internal/log"
	"go.uber.org/zap"
)

// Counter is a fixed-window hit counter; repo.Redis implements it.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

const rateLimitTimeout = 200 * time.Millisecond

// RateLimit allows limit requests per window for each client IP and user agent.
// It fails open when the counter is absent or erroring.
func RateLimit(counter Counter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if counter == nil || limit <= 0 {
			c.Next()
			return
		}
		key := "rl:" + helper.Hash8(c.ClientIP()+"|"+c.Request.UserAgent())

		ctx, cancel := context.WithTimeout(c.Request.Context(), rateLimitTimeout)
		n, left, err := counter.Hit(ctx, key, window)
		cancel()
		if err != nil {
			logpkg.WithDD(c.Request.Context(), nil).Warn("rate limit unavailable", zap.Error(err))
			c.Next()
			return
		}

		remaining := int64(limit) - n
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if n > int64(limit) {
			if left > 0 {
				c.Header("Retry-After", strconv.Itoa(int(left.Round(time.Second)/time.Second)))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				messageResp{Message: "Too many requests, please try again later."})
			return
		}
		c.Next()
	}
}
