package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/6587027/VipStore-sub001/limiter"
	"github.com/6587027/VipStore-sub001/metrics"
)

type RateLimitConfig struct {
	Limit   int
	Window  time.Duration
	KeyFunc func(c echo.Context) string
}

// IdentityKey limits per authenticated user and falls back to the client IP.
func IdentityKey(c echo.Context) string {
	if identity, ok := CurrentIdentity(c); ok {
		return "user:" + identity.UserID
	}
	return ""
}

func NewRateLimitMiddleware(manager *limiter.Manager, config RateLimitConfig, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := ""
			if config.KeyFunc != nil {
				key = config.KeyFunc(c)
			}
			if key == "" {
				key = "ip:" + c.RealIP()
			}
			redisKey := fmt.Sprintf("limiter:http:%s", key)
			allowed, err := manager.Allow(c.Request().Context(), redisKey, config.Limit, config.Window)
			if err != nil {
				// fail open
				logger.Error().Err(err).Msg("rate limit redis error")
				return next(c)
			}

			if !allowed {
				metrics.RateLimitHits.WithLabelValues("http").Inc()
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "too many requests",
				})
			}
			return next(c)
		}
	}
}
