package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/response"
)

type rateCounter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitConfig bounds requests per key within a sliding window.
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
	// KeyFunc derives the counter key; defaults to client IP.
	KeyFunc func(c *gin.Context) string
}

// RateLimit counts requests in Redis and rejects when the window budget is
// exhausted. A counter failure lets the request through; throttling is not
// worth an outage.
func RateLimit(counter rateCounter, cfg RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	return func(c *gin.Context) {
		if !cfg.Enabled || counter == nil || cfg.Requests <= 0 {
			c.Next()
			return
		}
		key := fmt.Sprintf("ratelimit:%s:%s", c.FullPath(), keyFunc(c))
		count, err := counter.Increment(c.Request.Context(), key, cfg.Window)
		if err != nil {
			logger.Warn("rate limit counter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if count > int64(cfg.Requests) {
			response.Error(c, appErrors.Clone(appErrors.ErrRateLimited, "too many requests, slow down"))
			c.Abort()
			return
		}
		c.Next()
	}
}
