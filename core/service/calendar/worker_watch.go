package calendar

import (
	"context"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultWatchTTL is the channel lifetime requested from Google (its maximum is about a week).
const DefaultWatchTTL = 7 * 24 * time.Hour

// ChannelTokens signs and checks X-Goog-Channel-Token values.
type ChannelTokens interface {
	Sign(channelID string) string
	Verify(channelID, token string) bool
}

// WatchManager opens, renews and stops push notification channels.
type WatchManager struct {
	integrations out.IntegrationRepository
	remote       out.RemoteCalendarClient
	tokens       TokenProvider
	signer       ChannelTokens
	address      string
	ttl          time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

// NewWatchManager returns a manager that registers channels against address.
// An empty address disables registration (local development without a public URL).
func NewWatchManager(integrations out.IntegrationRepository, remote out.RemoteCalendarClient, tokens TokenProvider, address string, log zerolog.Logger) *WatchManager {
	return &WatchManager{
		integrations: integrations,
		remote:       remote,
		tokens:       tokens,
		address:      address,
		ttl:          DefaultWatchTTL,
		now:          time.Now,
		log:          log.With().Str("component", "watch_manager").Logger(),
	}
}

// SetChannelTokens makes new channels carry a signed token.
func (w *WatchManager) SetChannelTokens(signer ChannelTokens) {
	w.signer = signer
}

// Register opens a new channel for the integration and replaces the stored one.
func (w *WatchManager) Register(ctx context.Context, integration *domain.CalendarIntegration) error {
	if w.address == "" {
		w.log.Debug().Str("integration_id", integration.ID.String()).Msg("no public webhook address, watch skipped")
		return nil
	}

	token, err := w.tokens.EnsureValidAccessToken(ctx, integration)
	if err != nil {
		return err
	}

	channelID := uuid.NewString()
	var channelToken string
	if w.signer != nil {
		channelToken = w.signer.Sign(channelID)
	}

	channel, err := w.remote.Watch(ctx, token, integration.RemoteCalendarID(), channelID, channelToken, w.address, w.ttl)
	if err != nil {
		return err
	}

	if integration.HasWatch() {
		oldResource := domain.StringValue(integration.WebhookResourceID)
		if err := w.remote.StopWatch(ctx, token, *integration.WebhookChannelID, oldResource); err != nil {
			w.log.Warn().Err(err).Str("channel_id", *integration.WebhookChannelID).Msg("failed to stop previous channel")
		}
	}

	if err := w.integrations.UpdateWebhookChannel(ctx, integration.ID, channel); err != nil {
		return apperr.DatabaseError("store webhook channel", err)
	}

	integration.WebhookChannelID = domain.StringPtr(channel.ChannelID)
	integration.WebhookResourceID = domain.StringPtr(channel.ResourceID)
	if channel.Expiration > 0 {
		exp := time.UnixMilli(channel.Expiration)
		integration.WebhookExpiresAt = &exp
	}

	w.log.Info().
		Str("integration_id", integration.ID.String()).
		Str("channel_id", channel.ChannelID).
		Msg("watch channel registered")
	return nil
}

// RenewExpiring re-registers channels expiring within the given duration.
// Returns the number renewed.
func (w *WatchManager) RenewExpiring(ctx context.Context, within time.Duration, limit int) (int, error) {
	if w.address == "" {
		return 0, nil
	}
	expiring, err := w.integrations.ListExpiringWatches(ctx, w.now().Add(within), limit)
	if err != nil {
		return 0, apperr.DatabaseError("list expiring watches", err)
	}

	renewed := 0
	for _, integration := range expiring {
		if ctx.Err() != nil {
			break
		}
		if err := w.Register(ctx, integration); err != nil {
			w.log.Warn().Err(err).Str("integration_id", integration.ID.String()).Msg("watch renewal failed")
			continue
		}
		renewed++
	}
	return renewed, nil
}

// Stop closes the integration's channel (best effort on the remote side) and clears it locally.
func (w *WatchManager) Stop(ctx context.Context, integration *domain.CalendarIntegration) error {
	if !integration.HasWatch() {
		return nil
	}
	token, err := w.tokens.EnsureValidAccessToken(ctx, integration)
	if err == nil {
		err = w.remote.StopWatch(ctx, token, *integration.WebhookChannelID, domain.StringValue(integration.WebhookResourceID))
	}
	if err != nil {
		w.log.Warn().Err(err).Str("channel_id", *integration.WebhookChannelID).Msg("remote stop failed, clearing locally")
	}

	if err := w.integrations.UpdateWebhookChannel(ctx, integration.ID, nil); err != nil {
		return apperr.DatabaseError("clear webhook channel", err)
	}
	integration.WebhookChannelID = nil
	integration.WebhookResourceID = nil
	integration.WebhookExpiresAt = nil
	return nil
}
