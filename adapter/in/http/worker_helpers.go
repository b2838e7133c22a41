// Package http holds the fiber handlers of the calendar sync API.
package http

import (
	"calsync_server/infra/middleware"
	"calsync_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// GetUserID returns the authenticated user or an Unauthorized AppError.
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userID, ok := middleware.UserID(c)
	if !ok {
		return uuid.Nil, apperr.Unauthorized("")
	}
	return userID, nil
}

// parseBody decodes the request body into v; an empty body leaves v untouched.
func parseBody(c *fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(v); err != nil {
		return apperr.BadRequest("invalid request body").WithError(err)
	}
	return nil
}

// clampLimit reads ?limit= with a default and an upper bound.
func clampLimit(c *fiber.Ctx, def, max int) int {
	limit := c.QueryInt("limit", def)
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
