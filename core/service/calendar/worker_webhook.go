package calendar

import (
	"context"
	"errors"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const webhookDedupeTTL = 10 * time.Minute

// FollowUpRequester runs or queues engine work.
type FollowUpRequester interface {
	Request(ctx context.Context, job *domain.CalendarFollowUpJob, inline bool) (*domain.FollowUpOutcome, error)
}

// WebhookService handles Google Calendar push notifications. Only a failed
// integration lookup is reported as an error, so Google redelivers; every
// other outcome is acknowledged.
type WebhookService struct {
	integrations out.IntegrationRepository
	cache        out.Cache
	followUps    FollowUpRequester
	signer       ChannelTokens
	now          func() time.Time
	log          zerolog.Logger
}

func NewWebhookService(integrations out.IntegrationRepository, cache out.Cache, followUps FollowUpRequester, log zerolog.Logger) *WebhookService {
	return &WebhookService{
		integrations: integrations,
		cache:        cache,
		followUps:    followUps,
		now:          time.Now,
		log:          log.With().Str("component", "webhook").Logger(),
	}
}

// SetChannelTokens rejects deliveries whose channel token does not verify.
func (s *WebhookService) SetChannelTokens(signer ChannelTokens) {
	s.signer = signer
}

func (s *WebhookService) HandleNotification(ctx context.Context, n domain.WebhookNotification) error {
	log := s.log.With().
		Str("channel_id", n.ChannelID).
		Str("resource_state", n.ResourceState).
		Str("message_number", n.MessageNumber).
		Logger()

	switch n.ResourceState {
	case domain.ResourceStateSync:
		log.Debug().Msg("channel handshake")
		return nil
	case domain.ResourceStateExists, domain.ResourceStateNotExists:
	default:
		log.Debug().Msg("ignoring resource state")
		return nil
	}
	if n.ChannelID == "" {
		return nil
	}
	if s.signer != nil && !s.signer.Verify(n.ChannelID, n.ChannelToken) {
		log.Warn().Msg("channel token mismatch, acknowledged")
		return nil
	}

	integration, err := s.integrations.GetByWebhookChannelID(ctx, n.ChannelID)
	if err != nil {
		if errors.Is(err, out.ErrNotFound) {
			log.Info().Msg("unknown channel, acknowledged")
			return nil
		}
		log.Error().Err(err).Msg("integration lookup failed")
		return apperr.DatabaseError("lookup integration by channel", err)
	}
	if n.ResourceID != "" && integration.WebhookResourceID != nil && *integration.WebhookResourceID != n.ResourceID {
		log.Info().Str("resource_id", n.ResourceID).Msg("stale channel resource, acknowledged")
		return nil
	}
	if !integration.Connected() {
		return nil
	}

	// Claimed only after a successful lookup: a delivery answered with 500
	// comes back with the same message number and must not count as a duplicate.
	if s.cache != nil && n.MessageNumber != "" {
		key := "webhook:gcal:" + n.ChannelID + ":" + n.MessageNumber
		first, err := s.cache.SetNX(ctx, key, webhookDedupeTTL)
		if err != nil {
			log.Warn().Err(err).Msg("dedupe check failed, processing anyway")
		} else if !first {
			log.Debug().Msg("duplicate delivery")
			return nil
		}
	}

	job := &domain.CalendarFollowUpJob{
		ID:         uuid.NewString(),
		Kind:       domain.FollowUpDeletion,
		UserID:     integration.UserID,
		Reason:     "webhook",
		EnqueuedAt: s.now(),
	}
	outcome, err := s.followUps.Request(ctx, job, true)
	if err != nil {
		log.Warn().Err(err).Str("integration_id", integration.ID.String()).Msg("deletion follow-up failed")
		return nil
	}

	ev := log.Info().Str("integration_id", integration.ID.String()).Str("mode", outcome.Mode)
	if outcome.Result != nil {
		ev = ev.Int("deleted_local", outcome.Result.DeletedLocal)
	}
	ev.Msg("webhook processed")
	return nil
}
