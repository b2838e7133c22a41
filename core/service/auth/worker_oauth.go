package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const oauthStateTTL = 10 * time.Minute

// WatchRegistrar opens a push channel for a freshly connected integration.
type WatchRegistrar interface {
	Register(ctx context.Context, integration *domain.CalendarIntegration) error
}

// FollowUpRequester queues engine work.
type FollowUpRequester interface {
	Request(ctx context.Context, job *domain.CalendarFollowUpJob, inline bool) (*domain.FollowUpOutcome, error)
}

// OAuthService drives the Google Calendar connect flow.
type OAuthService struct {
	settings     OAuthConfigSource
	integrations out.IntegrationRepository
	states       out.OAuthStateStore
	accounts     out.AccountInfoProvider
	httpClient   *http.Client

	watcher   WatchRegistrar
	followUps FollowUpRequester
}

func NewOAuthService(
	settings OAuthConfigSource,
	integrations out.IntegrationRepository,
	states out.OAuthStateStore,
	accounts out.AccountInfoProvider,
	httpClient *http.Client,
) *OAuthService {
	return &OAuthService{
		settings:     settings,
		integrations: integrations,
		states:       states,
		accounts:     accounts,
		httpClient:   httpClient,
	}
}

// SetWatchRegistrar sets the push channel registrar used after connect.
func (s *OAuthService) SetWatchRegistrar(w WatchRegistrar) {
	s.watcher = w
}

// SetFollowUpRequester sets the queue used for the initial sync.
func (s *OAuthService) SetFollowUpRequester(f FollowUpRequester) {
	s.followUps = f
}

// AuthURL returns the Google consent URL. The state is "userID:hex32" and is
// kept in Redis for ten minutes.
func (s *OAuthService) AuthURL(ctx context.Context, userID uuid.UUID) (string, error) {
	cfg, err := s.settings.OAuthConfig(ctx)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", apperr.InternalWithError(err)
	}
	state := userID.String() + ":" + hex.EncodeToString(nonce)

	if err := s.states.Save(ctx, state, userID.String(), oauthStateTTL); err != nil {
		return "", apperr.InternalWithError(err)
	}

	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// HandleCallback validates state, exchanges the code and upserts the integration.
// Watch registration and the initial sync are best-effort.
func (s *OAuthService) HandleCallback(ctx context.Context, code, state string) (*domain.CalendarIntegration, error) {
	if code == "" {
		return nil, apperr.MissingField("code")
	}
	if state == "" {
		return nil, apperr.MissingField("state")
	}

	storedUserID, ok, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	if !ok || !strings.HasPrefix(state, storedUserID+":") {
		return nil, apperr.BadRequest("invalid or expired oauth state")
	}
	userID, err := uuid.Parse(storedUserID)
	if err != nil {
		return nil, apperr.BadRequest("invalid oauth state")
	}

	cfg, err := s.settings.OAuthConfig(ctx)
	if err != nil {
		return nil, err
	}

	exchangeCtx := ctx
	if s.httpClient != nil {
		exchangeCtx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	token, err := cfg.Exchange(exchangeCtx, code)
	if err != nil {
		return nil, apperr.OAuthFailed("google", err)
	}
	if token.RefreshToken == "" {
		logger.Warn("[OAuthService.HandleCallback] No refresh token returned for user %s", userID)
	}

	email, err := s.accounts.AccountEmail(ctx, token.AccessToken)
	if err != nil {
		return nil, apperr.OAuthFailed("google", err)
	}

	integration := domain.NewCalendarIntegration(userID)
	integration.RemoteAccountEmail = email
	integration.AccessToken = token.AccessToken
	integration.RefreshToken = token.RefreshToken
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		integration.TokenExpiresAt = &expiry
	}

	saved, err := s.integrations.UpsertFromOAuth(ctx, integration)
	if err != nil {
		return nil, apperr.DatabaseError("save calendar integration", err)
	}
	logger.Info("[OAuthService.HandleCallback] Calendar connected for user %s (%s)", userID, email)

	if s.watcher != nil {
		if err := s.watcher.Register(ctx, saved); err != nil {
			logger.WithError(err).Warn("[OAuthService.HandleCallback] Failed to register watch channel for user %s", userID)
		}
	}

	if s.followUps != nil {
		job := &domain.CalendarFollowUpJob{Kind: domain.FollowUpSync, UserID: userID, Reason: "connected"}
		if _, err := s.followUps.Request(ctx, job, false); err != nil {
			logger.WithError(err).Warn("[OAuthService.HandleCallback] Failed to queue initial sync for user %s", userID)
		}
	}

	return saved, nil
}
