package http

import (
	"calsync_server/core/port/in"
	"calsync_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// SchedulerHandler serves the internal endpoints called by the external cron.
type SchedulerHandler struct {
	syncService in.CalendarSyncService
}

func NewSchedulerHandler(syncService in.CalendarSyncService) *SchedulerHandler {
	return &SchedulerHandler{syncService: syncService}
}

// Register mounts the routes under router, which must already require the scheduler secret.
func (h *SchedulerHandler) Register(router fiber.Router) {
	router.Post("/calendar/sync/batch", h.RunBatch)
	router.Get("/calendar/sync/runs", h.RecentRuns)
}

// RunBatch syncs up to maxUsers auto-sync integrations.
// POST /internal/calendar/sync/batch
func (h *SchedulerHandler) RunBatch(c *fiber.Ctx) error {
	var body struct {
		MaxUsers int `json:"maxUsers"`
	}
	if err := parseBody(c, &body); err != nil {
		return err
	}
	maxUsers := c.QueryInt("maxUsers", body.MaxUsers)

	result, err := h.syncService.RunBatch(c.UserContext(), maxUsers)
	if err != nil {
		return err
	}

	logger.Info("[SchedulerHandler.RunBatch] processed=%d succeeded=%d items=%d timedOut=%v",
		result.Processed, result.Succeeded, result.ItemsSynced, result.TimedOut)
	return c.JSON(result)
}

// RecentRuns returns the sync-run journal, newest first.
// GET /internal/calendar/sync/runs
func (h *SchedulerHandler) RecentRuns(c *fiber.Ctx) error {
	runs, err := h.syncService.RecentRuns(c.UserContext(), clampLimit(c, 20, 100))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"runs": runs})
}
