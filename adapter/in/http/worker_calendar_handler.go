package http

import (
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/in"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// CalendarHandler serves the user-facing sync endpoints.
type CalendarHandler struct {
	syncService        in.CalendarSyncService
	integrationService in.IntegrationService
	followUpService    in.FollowUpService
	syncLimiter        fiber.Handler
}

func NewCalendarHandler(
	syncService in.CalendarSyncService,
	integrationService in.IntegrationService,
	followUpService in.FollowUpService,
) *CalendarHandler {
	return &CalendarHandler{
		syncService:        syncService,
		integrationService: integrationService,
		followUpService:    followUpService,
	}
}

// SetSyncLimiter installs a limiter in front of the manual sync route.
func (h *CalendarHandler) SetSyncLimiter(l fiber.Handler) {
	h.syncLimiter = l
}

// Register mounts the routes under router, which must already require JWT auth.
func (h *CalendarHandler) Register(router fiber.Router) {
	cal := router.Group("/calendar")

	syncHandlers := []fiber.Handler{h.Sync}
	if h.syncLimiter != nil {
		syncHandlers = append([]fiber.Handler{h.syncLimiter}, syncHandlers...)
	}
	cal.Post("/sync", syncHandlers...)
	cal.Post("/sync/follow-up", h.FollowUp)

	cal.Get("/integration", h.GetIntegration)
	cal.Put("/integration", h.UpdateIntegration)
	cal.Delete("/integration", h.Disconnect)
}

// SyncResponse is the manual sync result.
type SyncResponse struct {
	Success      bool                 `json:"success"`
	Synced       int                  `json:"synced"`
	Direction    domain.SyncDirection `json:"direction"`
	SyncedEvents bool                 `json:"syncedEvents"`
	SyncedTasks  bool                 `json:"syncedTasks"`
	Pushed       int                  `json:"pushed"`
	Pulled       int                  `json:"pulled"`
	DeletedLocal int                  `json:"deletedLocal"`
	Failed       int                  `json:"failed"`
}

// Sync runs reconciliation for the caller.
// POST /calendar/sync
func (h *CalendarHandler) Sync(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	result, err := h.syncService.SyncUser(c.UserContext(), userID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNeedsReconnect) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success":           false,
				"error":             apperr.AsAppError(err).Message,
				"requiresReconnect": true,
			})
		}
		return err
	}

	return c.JSON(SyncResponse{
		Success:      true,
		Synced:       result.ItemsSynced(),
		Direction:    result.Direction,
		SyncedEvents: result.SyncedEvents,
		SyncedTasks:  result.SyncedTasks,
		Pushed:       result.Pushed,
		Pulled:       result.Pulled,
		DeletedLocal: result.DeletedLocal,
		Failed:       result.Failed,
	})
}

// FollowUpRequest is the body of POST /calendar/sync/follow-up.
type FollowUpRequest struct {
	Kind          domain.FollowUpKind `json:"kind"`
	RemoteEventID string              `json:"remoteEventId"`
	EntityType    string              `json:"entityType"`
	LocalID       string              `json:"localId"`
	Reason        string              `json:"reason"`
	Inline        bool                `json:"inline"`
}

// FollowUp queues (or runs inline) engine work after a local change.
// POST /calendar/sync/follow-up
func (h *CalendarHandler) FollowUp(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req FollowUpRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Kind == "" {
		req.Kind = domain.FollowUpSync
	}

	job := &domain.CalendarFollowUpJob{
		Kind:          req.Kind,
		UserID:        userID,
		RemoteEventID: req.RemoteEventID,
		EntityType:    req.EntityType,
		Reason:        req.Reason,
	}
	if req.LocalID != "" {
		localID, err := uuid.Parse(req.LocalID)
		if err != nil {
			return apperr.InvalidInput("localId", "must be a uuid")
		}
		job.LocalID = localID
	}

	outcome, err := h.followUpService.Request(c.UserContext(), job, req.Inline)
	if err != nil {
		return err
	}

	status := fiber.StatusOK
	if outcome.Mode != "inline" {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"jobId":   outcome.JobID,
		"mode":    outcome.Mode,
		"result":  outcome.Result,
	})
}

// GetIntegration returns the caller's integration (never the tokens).
// GET /calendar/integration
func (h *CalendarHandler) GetIntegration(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	integ, err := h.integrationService.GetIntegration(c.UserContext(), userID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return c.JSON(fiber.Map{"connected": false})
		}
		return err
	}
	return c.JSON(integrationView(integ))
}

// UpdateIntegration applies a partial preference update.
// PUT /calendar/integration
func (h *CalendarHandler) UpdateIntegration(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var prefs domain.IntegrationPreferences
	if err := c.BodyParser(&prefs); err != nil {
		return apperr.BadRequest("invalid request body").WithError(err)
	}

	integ, err := h.integrationService.UpdatePreferences(c.UserContext(), userID, &prefs)
	if err != nil {
		return err
	}
	return c.JSON(integrationView(integ))
}

// Disconnect clears the grant and stops the push channel.
// DELETE /calendar/integration
func (h *CalendarHandler) Disconnect(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	if err := h.integrationService.Disconnect(c.UserContext(), userID); err != nil {
		return err
	}
	logger.Info("[CalendarHandler.Disconnect] User %s disconnected Google Calendar", userID)
	return c.JSON(fiber.Map{"success": true})
}

func integrationView(i *domain.CalendarIntegration) fiber.Map {
	return fiber.Map{
		"connected":          i.Connected(),
		"requires_reconnect": i.Connected() && i.NeedsReconnect(time.Now()),
		"email":              i.RemoteAccountEmail,
		"calendar_id":        i.RemoteCalendarID(),
		"time_zone":          i.TimeZone,
		"sync_events":        i.SyncEvents,
		"sync_tasks":         i.SyncTasks,
		"sync_direction":     i.SyncDirection,
		"auto_sync":          i.AutoSync,
		"last_sync_at":       i.LastSyncAt,
		"push_enabled":       i.HasWatch(),
		"push_expires_at":    i.WebhookExpiresAt,
	}
}
