package http

import (
	"net/url"
	"strings"

	"calsync_server/core/port/in"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// OAuthHandler serves the Google connect flow.
type OAuthHandler struct {
	oauthService in.CalendarOAuthService
	frontendURL  string
}

func NewOAuthHandler(oauthService in.CalendarOAuthService, frontendURL string) *OAuthHandler {
	return &OAuthHandler{
		oauthService: oauthService,
		frontendURL:  strings.TrimRight(frontendURL, "/"),
	}
}

// RegisterAuthenticated mounts the routes that need a user.
func (h *OAuthHandler) RegisterAuthenticated(router fiber.Router) {
	router.Get("/calendar/oauth/url", h.AuthURL)
}

// RegisterPublic mounts the Google redirect target.
func (h *OAuthHandler) RegisterPublic(router fiber.Router) {
	router.Get("/calendar/oauth/callback", h.Callback)
}

// AuthURL returns the consent URL for the caller.
// GET /calendar/oauth/url
func (h *OAuthHandler) AuthURL(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	authURL, err := h.oauthService.AuthURL(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"authUrl": authURL})
}

// Callback finishes the flow and always redirects back to the settings page.
// GET /calendar/oauth/callback
func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("[OAuthHandler.Callback] Google returned error: %s", errParam)
		return h.redirect(c, "error", errParam)
	}

	integ, err := h.oauthService.HandleCallback(c.UserContext(), c.Query("code"), c.Query("state"))
	if err != nil {
		logger.WithError(err).Warn("[OAuthHandler.Callback] Connect failed")
		return h.redirect(c, "error", callbackReason(err))
	}

	logger.Info("[OAuthHandler.Callback] Connected %s for user %s", integ.RemoteAccountEmail, integ.UserID)
	return h.redirect(c, "success", "")
}

func (h *OAuthHandler) redirect(c *fiber.Ctx, status, reason string) error {
	q := url.Values{}
	q.Set("google_sync", status)
	if reason != "" {
		q.Set("reason", reason)
	}
	return c.Redirect(h.frontendURL+"/settings?"+q.Encode(), fiber.StatusFound)
}

// callbackReason maps an error to a short code the settings page can display.
func callbackReason(err error) string {
	switch apperr.AsAppError(err).Code {
	case apperr.CodeConfigurationMissing:
		return "not_configured"
	case apperr.CodeBadRequest, apperr.CodeMissingField:
		return "invalid_state"
	case apperr.CodeOAuthFailed:
		return "exchange_failed"
	default:
		return "internal"
	}
}
