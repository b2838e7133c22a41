package notification

import (
	"context"
	"fmt"
	"html"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/logger"
)

// reconnectNoticeTTL limits reconnect mails to one per user per day.
const reconnectNoticeTTL = 24 * time.Hour

// Service sends user-facing notices through the email sink.
type Service struct {
	sender      out.EmailSender
	cache       out.Cache // 중복 발송 방지
	frontendURL string
}

// NewService creates a new notification service. cache may be nil.
func NewService(sender out.EmailSender, cache out.Cache, frontendURL string) *Service {
	return &Service{
		sender:      sender,
		cache:       cache,
		frontendURL: frontendURL,
	}
}

// NotifyReconnect emails the account owner that the calendar grant expired.
func (s *Service) NotifyReconnect(ctx context.Context, integration *domain.CalendarIntegration) error {
	if s.sender == nil || integration.RemoteAccountEmail == "" {
		return nil
	}

	if s.cache != nil {
		key := "notice:reconnect:" + integration.UserID.String()
		first, err := s.cache.SetNX(ctx, key, reconnectNoticeTTL)
		if err != nil {
			logger.Warn("[Notification.NotifyReconnect] dedupe check failed: %v", err)
		} else if !first {
			return nil
		}
	}

	msg := reconnectMessage(integration.RemoteAccountEmail, s.frontendURL+"/settings?google_sync=reconnect")
	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send reconnect notice: %w", err)
	}

	logger.Info("[Notification.NotifyReconnect] Sent reconnect notice for user %s", integration.UserID)
	return nil
}

func reconnectMessage(to, link string) domain.EmailMessage {
	return domain.EmailMessage{
		To:      to,
		Subject: "Reconecta tu Google Calendar",
		HTML: fmt.Sprintf(
			`<p>La conexión con Google Calendar de <b>%s</b> expiró y la sincronización está detenida.</p>`+
				`<p><a href="%s">Reconectar calendario</a></p>`,
			html.EscapeString(to), html.EscapeString(link)),
		Text: fmt.Sprintf("La conexión con Google Calendar de %s expiró. Reconecta en: %s", to, link),
	}
}
