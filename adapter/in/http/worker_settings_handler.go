package http

import (
	"calsync_server/core/domain"
	"calsync_server/core/port/in"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// SettingsHandler serves the admin OAuth client settings.
type SettingsHandler struct {
	settingsService in.SettingsService
}

func NewSettingsHandler(settingsService in.SettingsService) *SettingsHandler {
	return &SettingsHandler{settingsService: settingsService}
}

// Register mounts the routes under router, which must already require JWT auth and the admin role.
func (h *SettingsHandler) Register(router fiber.Router) {
	router.Get("/calendar/settings", h.Get)
	router.Put("/calendar/settings", h.Update)
}

// Get returns the settings with the client secret masked.
// GET /admin/calendar/settings
func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	s, err := h.settingsService.GetOAuthSettings(c.UserContext())
	if apperr.IsCode(err, apperr.CodeConfigurationMissing) {
		s, err = &domain.OAuthSettings{}, nil
	}
	if err != nil {
		return err
	}
	return c.JSON(settingsView(s))
}

// Update replaces the settings. A blank client_secret keeps the stored one.
// PUT /admin/calendar/settings
func (h *SettingsHandler) Update(c *fiber.Ctx) error {
	var req domain.OAuthSettings
	if err := parseBody(c, &req); err != nil {
		return err
	}

	saved, err := h.settingsService.UpdateOAuthSettings(c.UserContext(), &req)
	if err != nil {
		return err
	}

	if uid, err := GetUserID(c); err == nil {
		logger.Info("[SettingsHandler.Update] Google Calendar OAuth settings updated by %s", uid)
	}
	return c.JSON(settingsView(saved))
}

func settingsView(s *domain.OAuthSettings) fiber.Map {
	masked := s.Masked()
	return fiber.Map{
		"settings":   masked,
		"configured": len(s.Missing()) == 0,
		"missing":    s.Missing(),
	}
}
