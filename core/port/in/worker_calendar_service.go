package in

import (
	"context"

	"calsync_server/core/domain"

	"github.com/google/uuid"
)

// CalendarSyncService runs reconciliation for one user or a batch of users.
type CalendarSyncService interface {
	SyncUser(ctx context.Context, userID uuid.UUID) (*domain.UserSyncResult, error)
	RunBatch(ctx context.Context, maxUsers int) (*domain.BatchResult, error)
	RecentRuns(ctx context.Context, limit int) ([]*domain.SyncRun, error)
}

// IntegrationService exposes the user's integration record.
type IntegrationService interface {
	GetIntegration(ctx context.Context, userID uuid.UUID) (*domain.CalendarIntegration, error)
	UpdatePreferences(ctx context.Context, userID uuid.UUID, prefs *domain.IntegrationPreferences) (*domain.CalendarIntegration, error)
	Disconnect(ctx context.Context, userID uuid.UUID) error
}

// WebhookService handles Google push notifications.
type WebhookService interface {
	HandleNotification(ctx context.Context, n domain.WebhookNotification) error
}

// FollowUpService runs or queues engine work after a local change.
type FollowUpService interface {
	Request(ctx context.Context, job *domain.CalendarFollowUpJob, inline bool) (*domain.FollowUpOutcome, error)
}
