package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const settingsMemoTTL = time.Minute

// SettingsService owns the Google OAuth client settings record. Reads are
// memoised in-process so the secret never leaves the database and this process.
type SettingsService struct {
	repo     out.SettingsRepository
	key      string
	endpoint oauth2.Endpoint

	mu       sync.RWMutex
	memo     *domain.OAuthSettings
	memoedAt time.Time
}

func NewSettingsService(repo out.SettingsRepository) *SettingsService {
	return &SettingsService{
		repo:     repo,
		key:      domain.SettingsKeyGoogleCalendar,
		endpoint: google.Endpoint,
	}
}

// WithEndpoint overrides the Google token/auth endpoint.
func (s *SettingsService) WithEndpoint(ep oauth2.Endpoint) *SettingsService {
	s.endpoint = ep
	return s
}

// Seed stores bootstrap settings when no record exists yet.
func (s *SettingsService) Seed(ctx context.Context, seed *domain.OAuthSettings) error {
	if seed == nil || len(seed.Missing()) > 0 {
		return nil
	}
	_, err := s.repo.GetOAuthSettings(ctx, s.key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, out.ErrNotFound) {
		return apperr.DatabaseError("load oauth settings", err)
	}

	seed.UpdatedAt = time.Now()
	if err := s.repo.SaveOAuthSettings(ctx, s.key, seed); err != nil {
		return apperr.DatabaseError("seed oauth settings", err)
	}
	logger.Info("[SettingsService.Seed] OAuth settings seeded from environment")
	return nil
}

// load returns the stored record (secret in clear) or ConfigurationMissing.
func (s *SettingsService) load(ctx context.Context) (*domain.OAuthSettings, error) {
	s.mu.RLock()
	if s.memo != nil && time.Since(s.memoedAt) < settingsMemoTTL {
		cp := *s.memo
		s.mu.RUnlock()
		return &cp, nil
	}
	s.mu.RUnlock()

	settings, err := s.repo.GetOAuthSettings(ctx, s.key)
	if errors.Is(err, out.ErrNotFound) {
		return nil, apperr.ConfigurationMissing("google calendar oauth settings are not configured")
	}
	if err != nil {
		return nil, apperr.DatabaseError("load oauth settings", err)
	}

	s.mu.Lock()
	s.memo = settings
	s.memoedAt = time.Now()
	s.mu.Unlock()

	cp := *settings
	return &cp, nil
}

func (s *SettingsService) invalidate() {
	s.mu.Lock()
	s.memo = nil
	s.mu.Unlock()
}

// GetOAuthSettings returns the settings with the secret masked.
func (s *SettingsService) GetOAuthSettings(ctx context.Context) (*domain.OAuthSettings, error) {
	settings, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	masked := settings.Masked()
	return &masked, nil
}

// UpdateOAuthSettings saves the record. A blank client secret keeps the stored one.
func (s *SettingsService) UpdateOAuthSettings(ctx context.Context, in *domain.OAuthSettings) (*domain.OAuthSettings, error) {
	if in == nil {
		return nil, apperr.ValidationFailed("settings body is required")
	}

	next := domain.OAuthSettings{
		ClientID:     strings.TrimSpace(in.ClientID),
		ClientSecret: strings.TrimSpace(in.ClientSecret),
		RedirectURI:  strings.TrimSpace(in.RedirectURI),
		Scopes:       in.Scopes,
		UpdatedAt:    time.Now(),
	}

	// A masked value echoed back from the UI counts as blank.
	if next.ClientSecret == "" || strings.HasPrefix(next.ClientSecret, "********") {
		next.ClientSecret = ""
		current, err := s.repo.GetOAuthSettings(ctx, s.key)
		if err != nil && !errors.Is(err, out.ErrNotFound) {
			return nil, apperr.DatabaseError("load oauth settings", err)
		}
		if current != nil {
			next.ClientSecret = current.ClientSecret
		}
	}

	if missing := next.Missing(); len(missing) > 0 {
		return nil, apperr.ValidationFailed(fmt.Sprintf("missing fields: %s", strings.Join(missing, ", ")))
	}

	if err := s.repo.SaveOAuthSettings(ctx, s.key, &next); err != nil {
		return nil, apperr.DatabaseError("save oauth settings", err)
	}
	s.invalidate()

	logger.Info("[SettingsService.UpdateOAuthSettings] OAuth settings updated (client_id=%s)", next.ClientID)
	masked := next.Masked()
	return &masked, nil
}

// OAuthConfig builds the oauth2 client config, failing with ConfigurationMissing
// when any required field is absent.
func (s *SettingsService) OAuthConfig(ctx context.Context) (*oauth2.Config, error) {
	settings, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if missing := settings.Missing(); len(missing) > 0 {
		return nil, apperr.ConfigurationMissing(
			fmt.Sprintf("google calendar oauth settings incomplete: missing %s", strings.Join(missing, ", ")))
	}

	return &oauth2.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		RedirectURL:  settings.RedirectURI,
		Scopes:       settings.EffectiveScopes(),
		Endpoint:     s.endpoint,
	}, nil
}
