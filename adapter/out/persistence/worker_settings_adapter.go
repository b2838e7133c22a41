package persistence

import (
	"context"
	"fmt"
	"time"

	"calsync_server/core/domain"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SettingsAdapter implements out.SettingsRepository over integration_settings.
// The client secret is encrypted inside the JSONB document.
type SettingsAdapter struct {
	db     *sqlx.DB
	cipher TokenCipher
}

// NewSettingsAdapter creates a new SettingsAdapter.
func NewSettingsAdapter(db *sqlx.DB, cipher TokenCipher) *SettingsAdapter {
	return &SettingsAdapter{db: db, cipher: cipher}
}

// oauthSettingsDoc is the JSONB payload of an integration_settings row.
type oauthSettingsDoc struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
}

type integrationSettingsRow struct {
	ServiceName string         `db:"service_name"`
	IsEnabled   bool           `db:"is_enabled"`
	Settings    []byte         `db:"settings"`
	Scopes      pq.StringArray `db:"scopes"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// GetOAuthSettings returns the settings stored under key.
func (a *SettingsAdapter) GetOAuthSettings(ctx context.Context, key string) (*domain.OAuthSettings, error) {
	var row integrationSettingsRow
	query := `
		SELECT service_name, is_enabled, settings, scopes, updated_at
		FROM integration_settings
		WHERE service_name = $1 AND is_enabled = TRUE`
	if err := a.db.GetContext(ctx, &row, query, key); err != nil {
		return nil, notFound(err)
	}

	var doc oauthSettingsDoc
	if err := json.Unmarshal(row.Settings, &doc); err != nil {
		return nil, fmt.Errorf("decode settings %s: %w", key, err)
	}
	secret, err := decryptValue(a.cipher, doc.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt client secret: %w", err)
	}

	return &domain.OAuthSettings{
		ClientID:     doc.ClientID,
		ClientSecret: secret,
		RedirectURI:  doc.RedirectURI,
		Scopes:       []string(row.Scopes),
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

// SaveOAuthSettings upserts the settings row.
func (a *SettingsAdapter) SaveOAuthSettings(ctx context.Context, key string, s *domain.OAuthSettings) error {
	secret, err := encryptValue(a.cipher, s.ClientSecret)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(oauthSettingsDoc{
		ClientID:     s.ClientID,
		ClientSecret: secret,
		RedirectURI:  s.RedirectURI,
	})
	if err != nil {
		return err
	}

	query := `
		INSERT INTO integration_settings (service_name, is_enabled, settings, scopes, created_at, updated_at)
		VALUES ($1, TRUE, $2, $3, NOW(), NOW())
		ON CONFLICT (service_name) DO UPDATE SET
			is_enabled = TRUE,
			settings = EXCLUDED.settings,
			scopes = EXCLUDED.scopes,
			updated_at = NOW()`
	_, err = a.db.ExecContext(ctx, query, key, payload, pq.Array(s.Scopes))
	return err
}
