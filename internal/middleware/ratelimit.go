package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "rl:"

// RateLimit caps calls per account and minute using a Redis counter. The
// account is taken from the :id route parameter and falls back to the
// client IP. Without Redis, or when Redis errors, requests pass through.
func RateLimit(cache *redis.Client, scope string, perMinute int) fiber.Handler {
	if perMinute <= 0 {
		perMinute = 30
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		subject := c.Params("id")
		if subject == "" {
			subject = c.IP()
		}
		key := rateLimitPrefix + scope + ":" + subject

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(perMinute) {
			if ttl, err := cache.TTL(c.UserContext(), key).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())))
			}
			return fiber.NewError(http.StatusTooManyRequests, "rate limit exceeded for "+subject)
		}
		return c.Next()
	}
}
