package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/response"
)

// RateLimiter is a fixed-window per-IP limiter shared by every API instance
// through Redis.
type RateLimiter struct {
	rdb    *redis.Client
	scope  string
	limit  int64
	window time.Duration
}

// NewRateLimiter allows limit requests per window for each client IP within scope.
func NewRateLimiter(rdb *redis.Client, scope string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, scope: scope, limit: int64(limit), window: window}
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
// Redis errors let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := config.CacheKey.RateLimitKey(rl.scope, c.ClientIP())

		count, err := rl.rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Warn().Err(err).Str("scope", rl.scope).Msg("Rate limiter unavailable")
			c.Next()
			return
		}
		if count == 1 {
			rl.rdb.Expire(ctx, key, rl.window)
		}

		remaining := rl.limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(rl.limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > rl.limit {
			c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
