// Package persistence provides database adapters.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"calsync_server/core/domain"
	"calsync_server/pkg/logger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// IntegrationAdapter implements out.IntegrationRepository using PostgreSQL.
type IntegrationAdapter struct {
	db     *sqlx.DB
	cipher TokenCipher
}

// NewIntegrationAdapter creates a new IntegrationAdapter. Tokens are encrypted
// with cipher when it is non-nil.
func NewIntegrationAdapter(db *sqlx.DB, cipher TokenCipher) *IntegrationAdapter {
	if cipher == nil {
		logger.Warn("[IntegrationAdapter] Token encryption disabled")
	}
	return &IntegrationAdapter{db: db, cipher: cipher}
}

const integrationColumns = `
	id, user_id, remote_account_email, access_token, refresh_token, token_expires_at,
	calendar_id, time_zone, sync_events, sync_tasks, sync_direction, auto_sync, last_sync_at,
	webhook_channel_id, webhook_resource_id, webhook_expires_at, created_at, updated_at`

// integrationRow represents a calendar_integrations row.
type integrationRow struct {
	ID                 uuid.UUID      `db:"id"`
	UserID             uuid.UUID      `db:"user_id"`
	RemoteAccountEmail string         `db:"remote_account_email"`
	AccessToken        string         `db:"access_token"`
	RefreshToken       string         `db:"refresh_token"`
	TokenExpiresAt     sql.NullTime   `db:"token_expires_at"`
	CalendarID         string         `db:"calendar_id"`
	TimeZone           string         `db:"time_zone"`
	SyncEvents         bool           `db:"sync_events"`
	SyncTasks          bool           `db:"sync_tasks"`
	SyncDirection      string         `db:"sync_direction"`
	AutoSync           bool           `db:"auto_sync"`
	LastSyncAt         sql.NullTime   `db:"last_sync_at"`
	WebhookChannelID   sql.NullString `db:"webhook_channel_id"`
	WebhookResourceID  sql.NullString `db:"webhook_resource_id"`
	WebhookExpiresAt   sql.NullTime   `db:"webhook_expires_at"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *integrationRow) toDomain(cipher TokenCipher) (*domain.CalendarIntegration, error) {
	access, err := decryptValue(cipher, r.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	refresh, err := decryptValue(cipher, r.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}

	i := &domain.CalendarIntegration{
		ID:                 r.ID,
		UserID:             r.UserID,
		RemoteAccountEmail: r.RemoteAccountEmail,
		AccessToken:        access,
		RefreshToken:       refresh,
		TokenExpiresAt:     nullTimePtr(r.TokenExpiresAt),
		CalendarID:         r.CalendarID,
		TimeZone:           r.TimeZone,
		SyncEvents:         r.SyncEvents,
		SyncTasks:          r.SyncTasks,
		SyncDirection:      domain.SyncDirection(r.SyncDirection),
		AutoSync:           r.AutoSync,
		LastSyncAt:         nullTimePtr(r.LastSyncAt),
		WebhookExpiresAt:   nullTimePtr(r.WebhookExpiresAt),
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.WebhookChannelID.Valid {
		i.WebhookChannelID = &r.WebhookChannelID.String
	}
	if r.WebhookResourceID.Valid {
		i.WebhookResourceID = &r.WebhookResourceID.String
	}
	return i, nil
}

func (a *IntegrationAdapter) getOne(ctx context.Context, query string, args ...any) (*domain.CalendarIntegration, error) {
	var row integrationRow
	if err := a.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(a.cipher)
}

func (a *IntegrationAdapter) list(ctx context.Context, query string, args ...any) ([]*domain.CalendarIntegration, error) {
	var rows []integrationRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]*domain.CalendarIntegration, 0, len(rows))
	for i := range rows {
		integration, err := rows[i].toDomain(a.cipher)
		if err != nil {
			logger.Warn("[IntegrationAdapter.list] Skipping integration %s: %v", rows[i].ID, err)
			continue
		}
		result = append(result, integration)
	}
	return result, nil
}

// GetByUserID returns the integration of a user.
func (a *IntegrationAdapter) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.CalendarIntegration, error) {
	return a.getOne(ctx, `SELECT `+integrationColumns+` FROM calendar_integrations WHERE user_id = $1`, userID)
}

// GetByWebhookChannelID returns the integration owning a push channel.
func (a *IntegrationAdapter) GetByWebhookChannelID(ctx context.Context, channelID string) (*domain.CalendarIntegration, error) {
	return a.getOne(ctx, `SELECT `+integrationColumns+` FROM calendar_integrations WHERE webhook_channel_id = $1`, channelID)
}

// ListAutoSync returns connected auto-sync integrations, least recently synced first.
func (a *IntegrationAdapter) ListAutoSync(ctx context.Context, limit int) ([]*domain.CalendarIntegration, error) {
	query := `SELECT ` + integrationColumns + `
		FROM calendar_integrations
		WHERE auto_sync = TRUE AND (refresh_token <> '' OR access_token <> '')
		ORDER BY last_sync_at ASC NULLS FIRST
		LIMIT $1`
	return a.list(ctx, query, limit)
}

// ListExpiringWatches returns integrations whose channel expires before t.
func (a *IntegrationAdapter) ListExpiringWatches(ctx context.Context, before time.Time, limit int) ([]*domain.CalendarIntegration, error) {
	query := `SELECT ` + integrationColumns + `
		FROM calendar_integrations
		WHERE webhook_channel_id IS NOT NULL
		  AND webhook_expires_at < $1
		  AND refresh_token <> ''
		ORDER BY webhook_expires_at ASC
		LIMIT $2`
	return a.list(ctx, query, before, limit)
}

// UpsertFromOAuth inserts the integration or refreshes the grant of the existing row.
// Preferences of an existing row are kept; auto_sync is re-enabled after a disconnect.
func (a *IntegrationAdapter) UpsertFromOAuth(ctx context.Context, i *domain.CalendarIntegration) (*domain.CalendarIntegration, error) {
	access, err := encryptValue(a.cipher, i.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := encryptValue(a.cipher, i.RefreshToken)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO calendar_integrations (
			id, user_id, remote_account_email, access_token, refresh_token, token_expires_at,
			calendar_id, time_zone, sync_events, sync_tasks, sync_direction, auto_sync,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			remote_account_email = EXCLUDED.remote_account_email,
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), calendar_integrations.refresh_token),
			token_expires_at = EXCLUDED.token_expires_at,
			auto_sync = CASE WHEN calendar_integrations.refresh_token = '' THEN TRUE ELSE calendar_integrations.auto_sync END,
			updated_at = NOW()
		RETURNING ` + integrationColumns

	return a.getOne(ctx, query,
		i.ID, i.UserID, i.RemoteAccountEmail, access, refresh, timePtrArg(i.TokenExpiresAt),
		i.RemoteCalendarID(), i.TimeZone, i.SyncEvents, i.SyncTasks, string(i.SyncDirection), i.AutoSync,
	)
}

// UpdateTokens writes the refreshed grant in a single statement. An empty
// refreshToken keeps the stored one.
func (a *IntegrationAdapter) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	access, err := encryptValue(a.cipher, accessToken)
	if err != nil {
		return err
	}
	refresh, err := encryptValue(a.cipher, refreshToken)
	if err != nil {
		return err
	}

	query := `
		UPDATE calendar_integrations SET
			access_token = $2,
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			token_expires_at = $4,
			updated_at = NOW()
		WHERE id = $1`
	return a.execOne(ctx, query, id, access, refresh, expiresAt)
}

func (a *IntegrationAdapter) UpdateLastSyncAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	return a.execOne(ctx, `UPDATE calendar_integrations SET last_sync_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
}

// UpdateWebhookChannel stores a push channel, or clears it when channel is nil.
func (a *IntegrationAdapter) UpdateWebhookChannel(ctx context.Context, id uuid.UUID, channel *domain.WatchChannel) error {
	var channelID, resourceID sql.NullString
	var expiresAt sql.NullTime
	if channel != nil {
		channelID = sql.NullString{String: channel.ChannelID, Valid: true}
		resourceID = sql.NullString{String: channel.ResourceID, Valid: channel.ResourceID != ""}
		if channel.Expiration > 0 {
			expiresAt = sql.NullTime{Time: time.UnixMilli(channel.Expiration), Valid: true}
		}
	}

	query := `
		UPDATE calendar_integrations SET
			webhook_channel_id = $2,
			webhook_resource_id = $3,
			webhook_expires_at = $4,
			updated_at = NOW()
		WHERE id = $1`
	return a.execOne(ctx, query, id, channelID, resourceID, expiresAt)
}

func (a *IntegrationAdapter) UpdatePreferences(ctx context.Context, i *domain.CalendarIntegration) error {
	query := `
		UPDATE calendar_integrations SET
			calendar_id = $2,
			time_zone = $3,
			sync_events = $4,
			sync_tasks = $5,
			sync_direction = $6,
			auto_sync = $7,
			updated_at = NOW()
		WHERE id = $1`
	return a.execOne(ctx, query, i.ID, i.RemoteCalendarID(), i.TimeZone, i.SyncEvents, i.SyncTasks, string(i.SyncDirection), i.AutoSync)
}

// Disconnect clears the grant and the push channel. The row is kept.
func (a *IntegrationAdapter) Disconnect(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE calendar_integrations SET
			access_token = '',
			refresh_token = '',
			token_expires_at = NULL,
			auto_sync = FALSE,
			webhook_channel_id = NULL,
			webhook_resource_id = NULL,
			webhook_expires_at = NULL,
			updated_at = NOW()
		WHERE id = $1`
	return a.execOne(ctx, query, id)
}

func (a *IntegrationAdapter) execOne(ctx context.Context, query string, args ...any) error {
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}
