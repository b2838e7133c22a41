package in

import (
	"context"

	"calsync_server/core/domain"

	"github.com/google/uuid"
)

// CalendarOAuthService drives the Google connect flow.
type CalendarOAuthService interface {
	AuthURL(ctx context.Context, userID uuid.UUID) (string, error)
	HandleCallback(ctx context.Context, code, state string) (*domain.CalendarIntegration, error)
}

// SettingsService manages the OAuth client settings record.
type SettingsService interface {
	GetOAuthSettings(ctx context.Context) (*domain.OAuthSettings, error)
	UpdateOAuthSettings(ctx context.Context, settings *domain.OAuthSettings) (*domain.OAuthSettings, error)
}
