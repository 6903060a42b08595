package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window per-client counter kept in Redis.
// client is resolved per request because Redis connects after the server starts listening.
type RateLimiter struct {
	client func() *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client func() *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window}
}

func (rl *RateLimiter) key(c *gin.Context) string {
	if id, ok := utils.GetUserIdFromContext(c.Request.Context()); ok && id > 0 {
		return fmt.Sprintf("ratelimit:actor:%d", id)
	}
	return "ratelimit:ip:" + c.ClientIP()
}

// Middleware lets requests through when Redis errors; a limiter outage must not take the API down.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := rl.client()
		if client == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		key := rl.key(c)

		count, err := client.Incr(ctx, key).Result()
		if err != nil {
			_ = c.Error(err)
			c.Next()
			return
		}
		if count == 1 {
			if err := client.Expire(ctx, key, rl.window).Err(); err != nil {
				_ = c.Error(err)
			}
		}
		if count > rl.limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
			})
			return
		}
		c.Next()
	}
}
