package calendar

import (
	"context"
	"errors"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// TokenProvider yields a usable access token for an integration.
type TokenProvider interface {
	EnsureValidAccessToken(ctx context.Context, integration *domain.CalendarIntegration) (string, error)
}

// Reconciler is the engine contract used by the orchestrator.
type Reconciler interface {
	Reconcile(ctx context.Context, integration *domain.CalendarIntegration, token string) (domain.SyncResult, error)
	ReconcileDeletions(ctx context.Context, integration *domain.CalendarIntegration, token string) (domain.SyncResult, error)
}

// SettingsChecker resolves the OAuth client settings. A batch checks them once up front.
type SettingsChecker interface {
	OAuthConfig(ctx context.Context) (*oauth2.Config, error)
}

// ReconnectNotifier tells a user that their calendar grant is gone.
type ReconnectNotifier interface {
	NotifyReconnect(ctx context.Context, integration *domain.CalendarIntegration) error
}

type OrchestratorConfig struct {
	BatchTimeout    time.Duration
	ManualTimeout   time.Duration
	DefaultMaxUsers int
	TaskPrefix      string
	DefaultLocation *time.Location
}

// Orchestrator drives the engine per user: manual, batch, webhook and follow-up runs.
type Orchestrator struct {
	integrations out.IntegrationRepository
	events       out.CalendarEventRepository
	tasks        out.TaskRepository
	remote       out.RemoteCalendarClient
	tokens       TokenProvider
	engine       Reconciler
	settings     SettingsChecker

	runs     out.SyncRunStore
	notifier ReconnectNotifier
	counters *metrics.SyncCounters

	cfg OrchestratorConfig
	now func() time.Time
	log zerolog.Logger
}

func NewOrchestrator(
	integrations out.IntegrationRepository,
	events out.CalendarEventRepository,
	tasks out.TaskRepository,
	remote out.RemoteCalendarClient,
	tokens TokenProvider,
	engine Reconciler,
	settings SettingsChecker,
	cfg OrchestratorConfig,
	log zerolog.Logger,
) *Orchestrator {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 240 * time.Second
	}
	if cfg.ManualTimeout <= 0 {
		cfg.ManualTimeout = 25 * time.Second
	}
	if cfg.DefaultMaxUsers <= 0 {
		cfg.DefaultMaxUsers = 25
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	return &Orchestrator{
		integrations: integrations,
		events:       events,
		tasks:        tasks,
		remote:       remote,
		tokens:       tokens,
		engine:       engine,
		settings:     settings,
		counters:     &metrics.SyncCounters{},
		cfg:          cfg,
		now:          time.Now,
		log:          log.With().Str("component", "sync_orchestrator").Logger(),
	}
}

// SetRunStore enables the sync-run journal.
func (o *Orchestrator) SetRunStore(runs out.SyncRunStore) {
	o.runs = runs
}

func (o *Orchestrator) SetNotifier(n ReconnectNotifier) {
	o.notifier = n
}

func (o *Orchestrator) SetCounters(c *metrics.SyncCounters) {
	if c != nil {
		o.counters = c
	}
}

func (o *Orchestrator) Counters() *metrics.SyncCounters {
	return o.counters
}

// RunBatch syncs up to maxUsers auto-sync integrations, least recently synced
// first. Per-user failures are collected; the call itself fails only when the
// OAuth settings are unusable or the candidate query fails.
func (o *Orchestrator) RunBatch(ctx context.Context, maxUsers int) (*domain.BatchResult, error) {
	if maxUsers <= 0 {
		maxUsers = o.cfg.DefaultMaxUsers
	}
	if _, err := o.settings.OAuthConfig(ctx); err != nil {
		return nil, err
	}

	res := &domain.BatchResult{StartedAt: o.now(), Errors: []domain.UserSyncError{}}

	batchCtx, cancel := context.WithTimeout(ctx, o.cfg.BatchTimeout)
	defer cancel()

	candidates, err := o.integrations.ListAutoSync(batchCtx, maxUsers)
	if err != nil {
		return nil, apperr.DatabaseError("list auto sync integrations", err)
	}

	for _, integration := range candidates {
		if batchCtx.Err() != nil {
			res.TimedOut = true
			break
		}

		r, err := o.syncOne(batchCtx, integration)
		if err != nil {
			if batchCtx.Err() != nil {
				// in-flight user is discarded
				res.TimedOut = true
				break
			}
			appErr := apperr.AsAppError(err)
			res.Fail(integration.UserID, appErr.Code, appErr.Message)
			o.counters.UserErrors.Add(1)
			continue
		}
		res.Record(r)
	}
	res.FinishedAt = o.now()

	o.log.Info().
		Int("processed", res.Processed).
		Int("succeeded", res.Succeeded).
		Int("items_synced", res.ItemsSynced).
		Int("deleted_local", res.DeletedLocal).
		Int("errors", len(res.Errors)).
		Bool("timed_out", res.TimedOut).
		Msg("batch sync finished")

	o.journal(ctx, &domain.SyncRun{Trigger: domain.SyncTriggerBatch, MaxUsers: maxUsers, Result: *res})
	return res, nil
}

// SyncUser is the manual path for one user, bounded by the manual timeout.
func (o *Orchestrator) SyncUser(ctx context.Context, userID uuid.UUID) (*domain.UserSyncResult, error) {
	integration, err := o.loadIntegration(ctx, userID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.ManualTimeout)
	defer cancel()

	started := o.now()
	r, err := o.syncOne(runCtx, integration)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Timeout("calendar sync")
		}
		return nil, err
	}

	batch := domain.BatchResult{StartedAt: started, FinishedAt: o.now(), Errors: []domain.UserSyncError{}}
	batch.Record(r)
	uid := userID
	o.journal(ctx, &domain.SyncRun{Trigger: domain.SyncTriggerManual, UserID: &uid, MaxUsers: 1, Result: batch})

	return &domain.UserSyncResult{
		UserID:        integration.UserID,
		IntegrationID: integration.ID,
		Direction:     integration.SyncDirection,
		SyncedEvents:  integration.SyncEvents,
		SyncedTasks:   integration.SyncTasks,
		SyncResult:    r,
	}, nil
}

// SyncIntegration runs a full reconciliation for an already loaded integration.
// Used by follow-up jobs.
func (o *Orchestrator) SyncIntegration(ctx context.Context, integration *domain.CalendarIntegration) (domain.SyncResult, error) {
	return o.syncOne(ctx, integration)
}

// SyncDeletions runs only the deletion pass for one integration.
func (o *Orchestrator) SyncDeletions(ctx context.Context, integration *domain.CalendarIntegration) (domain.SyncResult, error) {
	token, err := o.token(ctx, integration)
	if err != nil {
		return domain.SyncResult{}, err
	}
	r, err := o.engine.ReconcileDeletions(ctx, integration, token)
	o.count(r)
	if err != nil {
		o.handleReconnect(ctx, integration, err)
		return r, err
	}
	return r, nil
}

// DeleteRemote removes a remote event after its local record was deleted.
func (o *Orchestrator) DeleteRemote(ctx context.Context, integration *domain.CalendarIntegration, remoteEventID string) error {
	token, err := o.token(ctx, integration)
	if err != nil {
		return err
	}
	if err := o.remote.DeleteEvent(ctx, token, integration.RemoteCalendarID(), remoteEventID); err != nil {
		o.handleReconnect(ctx, integration, err)
		return err
	}
	o.log.Debug().
		Str("integration_id", integration.ID.String()).
		Str("remote_event_id", remoteEventID).
		Msg("remote event deleted")
	return nil
}

// UpdateRemote pushes the current state of a linked local record to its
// remote event. Unlinked records are left for the next push pass.
func (o *Orchestrator) UpdateRemote(ctx context.Context, integration *domain.CalendarIntegration, entity string, localID uuid.UUID) error {
	tz := integration.Location(o.cfg.DefaultLocation).String()

	var (
		draft    domain.RemoteEventDraft
		remoteID *string
		err      error
	)
	switch entity {
	case domain.EntityEvent:
		ev, gerr := o.events.GetByID(ctx, integration.UserID, localID)
		if gerr != nil {
			return notFoundOr(gerr, "calendar event")
		}
		remoteID = ev.RemoteEventID
		draft, err = domain.DraftFromEvent(ev, tz)
	case domain.EntityTask:
		task, gerr := o.tasks.GetByID(ctx, integration.UserID, localID)
		if gerr != nil {
			return notFoundOr(gerr, "task")
		}
		remoteID = task.RemoteEventID
		draft, err = domain.DraftFromTask(task, o.cfg.TaskPrefix, tz)
	default:
		return apperr.ValidationFailed(domain.ErrMissingLocalRef.Error())
	}
	if err != nil {
		return apperr.ValidationFailed(err.Error())
	}
	if remoteID == nil || *remoteID == "" {
		return nil
	}

	token, err := o.token(ctx, integration)
	if err != nil {
		return err
	}
	if err := o.remote.UpdateEvent(ctx, token, integration.RemoteCalendarID(), *remoteID, draft); err != nil {
		o.handleReconnect(ctx, integration, err)
		return err
	}
	return nil
}

// RecentRuns reads the sync-run journal. Empty when no journal is configured.
func (o *Orchestrator) RecentRuns(ctx context.Context, limit int) ([]*domain.SyncRun, error) {
	if o.runs == nil {
		return []*domain.SyncRun{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs, err := o.runs.ListRecent(ctx, limit)
	if err != nil {
		return nil, apperr.DatabaseError("list sync runs", err)
	}
	return runs, nil
}

// LoadIntegration returns the connected integration of a user.
func (o *Orchestrator) LoadIntegration(ctx context.Context, userID uuid.UUID) (*domain.CalendarIntegration, error) {
	return o.loadIntegration(ctx, userID)
}

func (o *Orchestrator) loadIntegration(ctx context.Context, userID uuid.UUID) (*domain.CalendarIntegration, error) {
	integration, err := o.integrations.GetByUserID(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err, "calendar integration")
	}
	if !integration.Connected() {
		return nil, apperr.NeedsReconnect("calendar is not connected")
	}
	return integration, nil
}

func (o *Orchestrator) syncOne(ctx context.Context, integration *domain.CalendarIntegration) (domain.SyncResult, error) {
	log := o.log.With().
		Str("integration_id", integration.ID.String()).
		Str("user_id", integration.UserID.String()).
		Logger()

	token, err := o.token(ctx, integration)
	if err != nil {
		log.Warn().Err(err).Msg("no usable access token")
		return domain.SyncResult{}, err
	}

	start := o.now()
	r, err := o.engine.Reconcile(ctx, integration, token)
	o.count(r)
	if err != nil {
		o.handleReconnect(ctx, integration, err)
		log.Warn().Err(err).Int("pushed", r.Pushed).Int("pulled", r.Pulled).Msg("sync stopped")
		return r, err
	}

	now := o.now()
	if err := o.integrations.UpdateLastSyncAt(ctx, integration.ID, now); err != nil {
		log.Warn().Err(err).Msg("failed to update last_sync_at")
	} else {
		integration.LastSyncAt = &now
	}

	log.Info().
		Int("pushed", r.Pushed).
		Int("pulled", r.Pulled).
		Int("deleted_local", r.DeletedLocal).
		Int("failed", r.Failed).
		Dur("took", now.Sub(start)).
		Msg("user sync finished")
	return r, nil
}

// token wraps the token manager and notifies the user when the grant is gone.
func (o *Orchestrator) token(ctx context.Context, integration *domain.CalendarIntegration) (string, error) {
	token, err := o.tokens.EnsureValidAccessToken(ctx, integration)
	if err != nil {
		o.handleReconnect(ctx, integration, err)
		return "", err
	}
	return token, nil
}

func (o *Orchestrator) handleReconnect(ctx context.Context, integration *domain.CalendarIntegration, err error) {
	if !apperr.IsCode(err, apperr.CodeNeedsReconnect) {
		return
	}
	o.counters.Reconnects.Add(1)
	if o.notifier == nil {
		return
	}
	if nerr := o.notifier.NotifyReconnect(context.WithoutCancel(ctx), integration); nerr != nil {
		o.log.Warn().Err(nerr).Str("user_id", integration.UserID.String()).Msg("reconnect notification failed")
	}
}

func (o *Orchestrator) count(r domain.SyncResult) {
	o.counters.Runs.Add(1)
	o.counters.Pushed.Add(int64(r.Pushed))
	o.counters.Pulled.Add(int64(r.Pulled))
	o.counters.DeletedLocal.Add(int64(r.DeletedLocal))
	o.counters.ItemFailures.Add(int64(r.Failed))
}

func (o *Orchestrator) journal(ctx context.Context, run *domain.SyncRun) {
	if o.runs == nil {
		return
	}
	run.ID = uuid.NewString()
	run.CreatedAt = o.now()
	if err := o.runs.Record(context.WithoutCancel(ctx), run); err != nil {
		o.log.Warn().Err(err).Str("trigger", string(run.Trigger)).Msg("failed to record sync run")
	}
}

func notFoundOr(err error, resource string) error {
	if errors.Is(err, out.ErrNotFound) {
		return apperr.NotFound(resource)
	}
	return apperr.DatabaseError("load "+resource, err)
}
