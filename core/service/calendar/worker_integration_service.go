package calendar

import (
	"context"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// watchController opens and closes the integration's push channel.
type watchController interface {
	Register(ctx context.Context, integration *domain.CalendarIntegration) error
	Stop(ctx context.Context, integration *domain.CalendarIntegration) error
}

// IntegrationService reads and edits a user's integration record.
type IntegrationService struct {
	integrations out.IntegrationRepository
	events       out.CalendarEventRepository
	tasks        out.TaskRepository
	watches      watchController
	log          zerolog.Logger
}

func NewIntegrationService(
	integrations out.IntegrationRepository,
	events out.CalendarEventRepository,
	tasks out.TaskRepository,
	watches watchController,
	log zerolog.Logger,
) *IntegrationService {
	return &IntegrationService{
		integrations: integrations,
		events:       events,
		tasks:        tasks,
		watches:      watches,
		log:          log.With().Str("component", "integration").Logger(),
	}
}

func (s *IntegrationService) GetIntegration(ctx context.Context, userID uuid.UUID) (*domain.CalendarIntegration, error) {
	integration, err := s.integrations.GetByUserID(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err, "calendar integration")
	}
	return integration, nil
}

func (s *IntegrationService) UpdatePreferences(ctx context.Context, userID uuid.UUID, prefs *domain.IntegrationPreferences) (*domain.CalendarIntegration, error) {
	if prefs == nil {
		return nil, apperr.MissingField("preferences")
	}
	if err := prefs.Validate(); err != nil {
		return nil, apperr.ValidationFailed(err.Error())
	}

	integration, err := s.GetIntegration(ctx, userID)
	if err != nil {
		return nil, err
	}
	previousCalendar := integration.RemoteCalendarID()
	prefs.Apply(integration)
	calendarChanged := integration.RemoteCalendarID() != previousCalendar

	// Links point into the old calendar. Left in place, the next pull would
	// treat every one of them as an orphan and delete the local record.
	if calendarChanged {
		if err := s.unlinkCalendar(ctx, integration, previousCalendar); err != nil {
			return nil, err
		}
	}

	if err := s.integrations.UpdatePreferences(ctx, integration); err != nil {
		return nil, apperr.DatabaseError("update integration preferences", err)
	}

	if calendarChanged && s.watches != nil && integration.Connected() {
		if err := s.watches.Register(ctx, integration); err != nil {
			s.log.Warn().Err(err).Str("integration_id", integration.ID.String()).Msg("failed to watch new calendar")
		}
	}
	return integration, nil
}

// unlinkCalendar closes the old calendar's channel and clears remote links,
// so local records are pushed again into the new calendar.
func (s *IntegrationService) unlinkCalendar(ctx context.Context, integration *domain.CalendarIntegration, previous string) error {
	if s.watches != nil {
		if err := s.watches.Stop(ctx, integration); err != nil {
			s.log.Warn().Err(err).Str("integration_id", integration.ID.String()).Msg("failed to stop watch on calendar change")
		}
	}

	events, err := s.events.ClearRemoteLinks(ctx, integration.UserID)
	if err != nil {
		return apperr.DatabaseError("clear event links", err)
	}
	tasks, err := s.tasks.ClearRemoteLinks(ctx, integration.UserID)
	if err != nil {
		return apperr.DatabaseError("clear task links", err)
	}

	s.log.Info().
		Str("integration_id", integration.ID.String()).
		Str("from_calendar", previous).
		Str("to_calendar", integration.RemoteCalendarID()).
		Int64("events_unlinked", events).
		Int64("tasks_unlinked", tasks).
		Msg("calendar changed, remote links cleared")
	return nil
}

// Disconnect stops the push channel and clears the grant. The row is kept
// with auto_sync off so linked records keep their remote ids.
func (s *IntegrationService) Disconnect(ctx context.Context, userID uuid.UUID) error {
	integration, err := s.GetIntegration(ctx, userID)
	if err != nil {
		return err
	}

	if s.watches != nil {
		if err := s.watches.Stop(ctx, integration); err != nil {
			s.log.Warn().Err(err).Str("integration_id", integration.ID.String()).Msg("failed to stop watch on disconnect")
		}
	}

	if err := s.integrations.Disconnect(ctx, integration.ID); err != nil {
		return apperr.DatabaseError("disconnect integration", err)
	}
	s.log.Info().Str("integration_id", integration.ID.String()).Str("user_id", userID.String()).Msg("calendar disconnected")
	return nil
}
