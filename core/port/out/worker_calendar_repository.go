package out

import (
	"context"
	"time"

	"calsync_server/core/domain"

	"github.com/google/uuid"
)

// IntegrationRepository persists calendar_integrations. Token columns are
// written only through UpsertFromOAuth and UpdateTokens.
type IntegrationRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.CalendarIntegration, error)
	GetByWebhookChannelID(ctx context.Context, channelID string) (*domain.CalendarIntegration, error)

	// ListAutoSync returns auto_sync integrations, least recently synced first.
	ListAutoSync(ctx context.Context, limit int) ([]*domain.CalendarIntegration, error)

	// ListExpiringWatches returns integrations whose push channel expires before t.
	ListExpiringWatches(ctx context.Context, before time.Time, limit int) ([]*domain.CalendarIntegration, error)

	// UpsertFromOAuth creates or refreshes the row after a successful OAuth callback.
	// An empty refresh token keeps the stored one. Preferences of an existing row are kept.
	UpsertFromOAuth(ctx context.Context, integration *domain.CalendarIntegration) (*domain.CalendarIntegration, error)

	// UpdateTokens writes access token, expiry and (when non-empty) refresh token in one statement.
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error

	UpdateLastSyncAt(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateWebhookChannel(ctx context.Context, id uuid.UUID, channel *domain.WatchChannel) error
	UpdatePreferences(ctx context.Context, integration *domain.CalendarIntegration) error

	// Disconnect clears tokens, the push channel and auto_sync. The row is kept.
	Disconnect(ctx context.Context, id uuid.UUID) error
}

// LinkedRecord is a local row that carries a remote_event_id.
// For tasks End is due_date + 1h.
type LinkedRecord struct {
	ID            uuid.UUID
	RemoteEventID string
	Start         time.Time
	End           time.Time
}

// CalendarEventRepository persists calendar_events.
type CalendarEventRepository interface {
	// ListPushCandidates returns unlinked events starting after now.
	ListPushCandidates(ctx context.Context, userID uuid.UUID, now time.Time, limit int) ([]*domain.LocalEvent, error)

	// SetRemoteLink stores remote_event_id and is_synced=true for an unlinked row.
	SetRemoteLink(ctx context.Context, id uuid.UUID, remoteEventID string) error

	ListLinked(ctx context.Context, userID uuid.UUID) ([]LinkedRecord, error)

	// ClearRemoteLinks unlinks every event of the user (remote_event_id NULL,
	// is_synced false). Used when the integration moves to another calendar.
	ClearRemoteLinks(ctx context.Context, userID uuid.UUID) (int64, error)

	// Create inserts an imported event. It returns false when the
	// (user_id, remote_event_id) pair already exists.
	Create(ctx context.Context, event *domain.LocalEvent) (bool, error)

	GetByID(ctx context.Context, userID, id uuid.UUID) (*domain.LocalEvent, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

// TaskRepository persists the sync columns of tasks.
type TaskRepository interface {
	ListPushCandidates(ctx context.Context, userID uuid.UUID, now time.Time, limit int) ([]*domain.LocalTask, error)
	SetRemoteLink(ctx context.Context, id uuid.UUID, remoteEventID string) error
	ListLinked(ctx context.Context, userID uuid.UUID) ([]LinkedRecord, error)
	ClearRemoteLinks(ctx context.Context, userID uuid.UUID) (int64, error)
	GetByID(ctx context.Context, userID, id uuid.UUID) (*domain.LocalTask, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

// SettingsRepository stores integration_settings rows. The client secret is
// encrypted by the adapter.
type SettingsRepository interface {
	GetOAuthSettings(ctx context.Context, key string) (*domain.OAuthSettings, error)
	SaveOAuthSettings(ctx context.Context, key string, settings *domain.OAuthSettings) error
}

// SyncRunStore is the sync-run journal.
type SyncRunStore interface {
	Record(ctx context.Context, run *domain.SyncRun) error
	ListRecent(ctx context.Context, limit int) ([]*domain.SyncRun, error)
}
