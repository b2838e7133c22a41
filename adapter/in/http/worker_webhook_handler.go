package http

import (
	"calsync_server/core/domain"
	"calsync_server/core/port/in"
	"calsync_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// Google push notification headers.
const (
	headerChannelID     = "X-Goog-Channel-ID"
	headerChannelToken  = "X-Goog-Channel-Token"
	headerResourceID    = "X-Goog-Resource-ID"
	headerResourceState = "X-Goog-Resource-State"
	headerMessageNumber = "X-Goog-Message-Number"
)

// WebhookHandler receives Google Calendar push notifications. Google retries
// on any non-2xx, so only transient lookup failures answer 500.
type WebhookHandler struct {
	webhookService in.WebhookService
}

func NewWebhookHandler(webhookService in.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

func (h *WebhookHandler) Register(router fiber.Router) {
	router.Post("/webhooks/google-calendar", h.GoogleCalendar)
}

// GoogleCalendar handles POST /webhooks/google-calendar.
func (h *WebhookHandler) GoogleCalendar(c *fiber.Ctx) error {
	n := domain.WebhookNotification{
		ChannelID:     c.Get(headerChannelID),
		ChannelToken:  c.Get(headerChannelToken),
		ResourceID:    c.Get(headerResourceID),
		ResourceState: c.Get(headerResourceState),
		MessageNumber: c.Get(headerMessageNumber),
	}

	if n.ChannelID == "" {
		logger.Debug("[WebhookHandler.GoogleCalendar] Notification without channel id, ignoring")
		return c.SendStatus(fiber.StatusOK)
	}

	if err := h.webhookService.HandleNotification(c.UserContext(), n); err != nil {
		logger.WithError(err).
			WithField("channel_id", n.ChannelID).
			Error("[WebhookHandler.GoogleCalendar] Failed to handle notification")
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.SendStatus(fiber.StatusOK)
}
