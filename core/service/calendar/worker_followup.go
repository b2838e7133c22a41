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

// followUpExecutor is the part of the orchestrator a follow-up job needs.
type followUpExecutor interface {
	LoadIntegration(ctx context.Context, userID uuid.UUID) (*domain.CalendarIntegration, error)
	SyncIntegration(ctx context.Context, integration *domain.CalendarIntegration) (domain.SyncResult, error)
	SyncDeletions(ctx context.Context, integration *domain.CalendarIntegration) (domain.SyncResult, error)
	DeleteRemote(ctx context.Context, integration *domain.CalendarIntegration, remoteEventID string) error
	UpdateRemote(ctx context.Context, integration *domain.CalendarIntegration, entity string, localID uuid.UUID) error
}

const (
	FollowUpModeInline = "inline"
	FollowUpModeQueued = "queued"
)

// FollowUpService runs engine work triggered by local changes. Inline requests
// get a bounded wait and fall back to the queue on timeout or transient errors.
type FollowUpService struct {
	exec       followUpExecutor
	producer   out.FollowUpProducer
	inlineWait time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewFollowUpService(exec followUpExecutor, producer out.FollowUpProducer, inlineWait time.Duration, log zerolog.Logger) *FollowUpService {
	if inlineWait <= 0 {
		inlineWait = 5 * time.Second
	}
	return &FollowUpService{
		exec:       exec,
		producer:   producer,
		inlineWait: inlineWait,
		now:        time.Now,
		log:        log.With().Str("component", "follow_up").Logger(),
	}
}

func (s *FollowUpService) Request(ctx context.Context, job *domain.CalendarFollowUpJob, inline bool) (*domain.FollowUpOutcome, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = s.now()
	}
	if err := job.Validate(); err != nil {
		return nil, apperr.ValidationFailed(err.Error())
	}

	if inline {
		runCtx, cancel := context.WithTimeout(ctx, s.inlineWait)
		res, err := s.Run(runCtx, job)
		cancel()
		if err == nil {
			return &domain.FollowUpOutcome{JobID: job.ID, Mode: FollowUpModeInline, Result: res}, nil
		}
		if apperr.IsPermanent(err) {
			return nil, err
		}
		s.log.Info().Err(err).Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("inline follow-up failed, queueing")
	}

	if s.producer == nil {
		return nil, apperr.Internal("follow-up queue is not configured")
	}
	if err := s.producer.PublishCalendarFollowUp(context.WithoutCancel(ctx), job); err != nil {
		return nil, apperr.InternalWithError(err)
	}
	return &domain.FollowUpOutcome{JobID: job.ID, Mode: FollowUpModeQueued}, nil
}

// Run executes one job. The worker processor calls it for queued jobs.
func (s *FollowUpService) Run(ctx context.Context, job *domain.CalendarFollowUpJob) (*domain.SyncResult, error) {
	integration, err := s.exec.LoadIntegration(ctx, job.UserID)
	if err != nil {
		return nil, err
	}

	log := s.log.With().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("integration_id", integration.ID.String()).
		Logger()

	var res domain.SyncResult
	switch job.Kind {
	case domain.FollowUpSync:
		res, err = s.exec.SyncIntegration(ctx, integration)
	case domain.FollowUpDeletion:
		res, err = s.exec.SyncDeletions(ctx, integration)
	case domain.FollowUpRemoteDelete:
		err = s.exec.DeleteRemote(ctx, integration, job.RemoteEventID)
	case domain.FollowUpRemoteUpdate:
		err = s.exec.UpdateRemote(ctx, integration, job.EntityType, job.LocalID)
	default:
		return nil, apperr.ValidationFailed(domain.ErrInvalidFollowUpKind.Error())
	}
	if err != nil {
		return nil, err
	}

	log.Debug().Int("pushed", res.Pushed).Int("pulled", res.Pulled).Int("deleted_local", res.DeletedLocal).Msg("follow-up done")
	return &res, nil
}
