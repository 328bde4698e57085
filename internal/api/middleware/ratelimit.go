package middleware

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"time"

	"paperscape/internal/api/respond"
	"paperscape/internal/pkg/apperr"
	"paperscape/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

const msgTooManyRequests = "Too many requests from this IP, please try again in an hour!"

// Limiter 从 key 对应的令牌桶中取出一个令牌。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// RateLimit 按客户端 IP 限流，限流器出错时放行请求。
func RateLimit(limiter Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		allowed, wait, err := limiter.Allow(ctx, c.ClientIP())
		cancel()
		if err != nil {
			metrics.RateLimitErrorsTotal.Inc()
			if logger != nil {
				logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !allowed {
			metrics.RateLimitRejectedTotal.Inc()
			if wait > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			}
			respond.Error(c, logger, apperr.New(apperr.KindTooManyRequests, msgTooManyRequests))
			return
		}
		c.Next()
	}
}
