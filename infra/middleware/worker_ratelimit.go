package middleware

import (
	"strconv"
	"time"

	"calsync_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// PerUserLimiter allows max requests per window for each authenticated user
// (client IP when anonymous). storage may be nil for in-memory counting.
func PerUserLimiter(max int, window time.Duration, storage fiber.Storage) fiber.Handler {
	cfg := limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if uid, ok := UserID(c); ok {
				return "user:" + uid.String() + ":" + c.Path()
			}
			return "ip:" + c.IP() + ":" + c.Path()
		},
		LimitReached: func(c *fiber.Ctx) error {
			err := apperr.New(apperr.CodeRateLimited, "too many sync requests", fiber.StatusTooManyRequests)
			if secs, convErr := strconv.Atoi(c.GetRespHeader(fiber.HeaderRetryAfter)); convErr == nil {
				err = err.WithDetail("retry_after", secs)
			}
			return err
		},
		LimiterMiddleware: limiter.SlidingWindow{},
	}
	if storage != nil {
		cfg.Storage = storage
	}
	return limiter.New(cfg)
}
