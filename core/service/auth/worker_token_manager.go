package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultTokenLeeway treats tokens that expire within a minute as expired.
const DefaultTokenLeeway = 60 * time.Second

// fallbackTokenLifetime is used when the token endpoint omits expires_in.
const fallbackTokenLifetime = 55 * time.Minute

// OAuthConfigSource yields the current OAuth client config.
type OAuthConfigSource interface {
	OAuthConfig(ctx context.Context) (*oauth2.Config, error)
}

// TokenWriter persists refreshed tokens.
type TokenWriter interface {
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error
}

// TokenManager hands out valid access tokens, refreshing and persisting them
// when needed. It is the only writer of the token columns outside the OAuth callback.
type TokenManager struct {
	configs    OAuthConfigSource
	store      TokenWriter
	httpClient *http.Client
	leeway     time.Duration
	group      singleflight.Group
	now        func() time.Time
	log        zerolog.Logger
}

func NewTokenManager(configs OAuthConfigSource, store TokenWriter, httpClient *http.Client, log zerolog.Logger) *TokenManager {
	return &TokenManager{
		configs:    configs,
		store:      store,
		httpClient: httpClient,
		leeway:     DefaultTokenLeeway,
		now:        time.Now,
		log:        log.With().Str("component", "token_manager").Logger(),
	}
}

// EnsureValidAccessToken returns a token valid for at least the leeway.
// On refresh the integration is updated in place.
func (m *TokenManager) EnsureValidAccessToken(ctx context.Context, integration *domain.CalendarIntegration) (string, error) {
	if integration.TokenValid(m.now(), m.leeway) {
		return integration.AccessToken, nil
	}
	if integration.RefreshToken == "" {
		return "", apperr.NeedsReconnect("calendar access expired and no refresh token is stored")
	}

	v, err, _ := m.group.Do(integration.ID.String(), func() (any, error) {
		return m.refresh(ctx, integration)
	})
	if err != nil {
		return "", err
	}

	tok := v.(*oauth2.Token)
	integration.AccessToken = tok.AccessToken
	expiry := tok.Expiry
	integration.TokenExpiresAt = &expiry
	if tok.RefreshToken != "" {
		integration.RefreshToken = tok.RefreshToken
	}
	return tok.AccessToken, nil
}

func (m *TokenManager) refresh(ctx context.Context, integration *domain.CalendarIntegration) (*oauth2.Token, error) {
	cfg, err := m.configs.OAuthConfig(ctx)
	if err != nil {
		return nil, err
	}

	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}

	start := m.now()
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: integration.RefreshToken}).Token()
	if err != nil {
		return nil, m.classifyRefreshError(integration, err)
	}

	if tok.Expiry.IsZero() {
		tok.Expiry = m.now().Add(fallbackTokenLifetime)
	}

	rotated := ""
	if tok.RefreshToken != "" && tok.RefreshToken != integration.RefreshToken {
		rotated = tok.RefreshToken
	}
	if err := m.store.UpdateTokens(ctx, integration.ID, tok.AccessToken, rotated, tok.Expiry); err != nil {
		return nil, apperr.DatabaseError("persist refreshed token", err)
	}

	m.log.Info().
		Str("integration_id", integration.ID.String()).
		Str("user_id", integration.UserID.String()).
		Bool("rotated", rotated != "").
		Dur("took", m.now().Sub(start)).
		Msg("access token refreshed")

	return tok, nil
}

// classifyRefreshError maps token endpoint failures: 4xx (other than 429) and
// revoked grants mean the user must reconnect; anything else is transient.
func (m *TokenManager) classifyRefreshError(integration *domain.CalendarIntegration, err error) error {
	ev := m.log.Warn().
		Err(err).
		Str("integration_id", integration.ID.String()).
		Str("user_id", integration.UserID.String())

	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			ev.Int("status", code).Msg("refresh rejected, reconnect required")
			return apperr.NeedsReconnect("calendar access was revoked or expired, reconnect required").WithError(err)
		}
		ev.Int("status", code).Msg("token endpoint unavailable")
		return apperr.RemoteTransient("token_refresh", err)
	}

	if isTokenExpiredError(err) {
		ev.Msg("refresh rejected, reconnect required")
		return apperr.NeedsReconnect("calendar access was revoked or expired, reconnect required").WithError(err)
	}

	ev.Msg("token refresh failed")
	return apperr.RemoteTransient("token_refresh", err)
}

// isTokenExpiredError checks if the error indicates a permanent token failure.
func isTokenExpiredError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "invalid_client") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "unauthorized_client") ||
		strings.Contains(errStr, "Token has been expired or revoked")
}
