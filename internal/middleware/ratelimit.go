package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimitCounter 固定窗口限流计数器。
type RateLimitCounter interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimit 对每个客户端 IP 做固定窗口限流。
//
// counter 为 nil 或 limit 不为正时直接放行；
// 计数器故障同样放行，限流层不能把业务一起拖垮。
func RateLimit(counter RateLimitCounter, limit int64, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	if counter == nil || limit <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		count, err := counter.IncrementRateLimit(c.Request.Context(), "http:"+c.ClientIP(), window)
		if err != nil {
			log.Warn("rate limit counter unavailable", zap.Error(err))
			c.Next()
			return
		}

		if count > limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}

		c.Next()
	}
}
