package calendar

import (
	"context"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"

	"github.com/rs/zerolog"
)

const discardTimeout = 10 * time.Second

// orphanEdgeMargin keeps the absence rule away from the list window edges.
// All-day imports are stored as 09:00-18:00 in the integration's zone while
// Google bounds them by the calendar's zone, so near an edge a record can
// look in-window locally after Google has stopped listing it. Such records
// still follow cancellations.
const orphanEdgeMargin = 24 * time.Hour

// EngineConfig bounds every reconciliation run.
type EngineConfig struct {
	BatchSize       int           // push candidates per kind
	Lookback        time.Duration // list window before now
	Lookahead       time.Duration // list window after now
	MaxListItems    int
	TaskPrefix      string
	DefaultLocation *time.Location
}

// DefaultEngineConfig: 50 items, 30 days back, 90 days forward, 2500 listed events.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BatchSize:       50,
		Lookback:        30 * 24 * time.Hour,
		Lookahead:       90 * 24 * time.Hour,
		MaxListItems:    2500,
		TaskPrefix:      "[Tarea] ",
		DefaultLocation: time.UTC,
	}
}

// Engine reconciles local events/tasks with one remote calendar. All work
// within a run is sequential: every local write lands before the next remote call.
type Engine struct {
	remote out.RemoteCalendarClient
	events out.CalendarEventRepository
	tasks  out.TaskRepository
	cfg    EngineConfig
	now    func() time.Time
	log    zerolog.Logger
}

func NewEngine(
	remote out.RemoteCalendarClient,
	events out.CalendarEventRepository,
	tasks out.TaskRepository,
	cfg EngineConfig,
	log zerolog.Logger,
) *Engine {
	def := DefaultEngineConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = def.Lookahead
	}
	if cfg.MaxListItems <= 0 {
		cfg.MaxListItems = def.MaxListItems
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	return &Engine{
		remote: remote,
		events: events,
		tasks:  tasks,
		cfg:    cfg,
		now:    time.Now,
		log:    log.With().Str("component", "reconcile").Logger(),
	}
}

// Reconcile runs push, then pull and deletion reconciliation, as the
// integration's direction allows. Deletions run whenever the direction reads
// the remote, even with event import off, so task projections removed
// remotely are still mirrored. Item-level failures are counted in Failed;
// a returned error means the run stopped (token revoked, store unavailable,
// context done).
func (e *Engine) Reconcile(ctx context.Context, integration *domain.CalendarIntegration, token string) (domain.SyncResult, error) {
	var res domain.SyncResult
	log := e.runLogger(integration)

	if integration.PushesToRemote() {
		pushed, failed, err := e.push(ctx, integration, token, log)
		res.Pushed, res.Failed = pushed, failed
		if err != nil {
			return res, err
		}
	}

	if !integration.ReadsRemote() {
		return res, nil
	}

	snap, err := e.snapshot(ctx, integration, token)
	if err != nil {
		return res, err
	}

	if integration.PullsFromRemote() {
		pulled, failed, err := e.pull(ctx, integration, snap, log)
		res.Pulled = pulled
		res.Failed += failed
		if err != nil {
			return res, err
		}
	}

	deleted, failed, err := e.deletions(ctx, integration, snap, log)
	res.DeletedLocal = deleted
	res.Failed += failed
	return res, err
}

// ReconcileDeletions runs only the deletion pass. Used by the webhook path.
func (e *Engine) ReconcileDeletions(ctx context.Context, integration *domain.CalendarIntegration, token string) (domain.SyncResult, error) {
	var res domain.SyncResult
	log := e.runLogger(integration)

	snap, err := e.snapshot(ctx, integration, token)
	if err != nil {
		return res, err
	}

	deleted, failed, err := e.deletions(ctx, integration, snap, log)
	res.DeletedLocal, res.Failed = deleted, failed
	return res, err
}

func (e *Engine) runLogger(integration *domain.CalendarIntegration) zerolog.Logger {
	return e.log.With().
		Str("integration_id", integration.ID.String()).
		Str("user_id", integration.UserID.String()).
		Logger()
}

// push creates remote events for unlinked future events and tasks.
func (e *Engine) push(ctx context.Context, integration *domain.CalendarIntegration, token string, log zerolog.Logger) (pushed, failed int, err error) {
	log = log.With().Str("pass", string(domain.PassPush)).Logger()
	now := e.now()
	calendarID := integration.RemoteCalendarID()
	tz := integration.Location(e.cfg.DefaultLocation).String()

	if integration.SyncEvents {
		events, err := e.events.ListPushCandidates(ctx, integration.UserID, now, e.cfg.BatchSize)
		if err != nil {
			return pushed, failed, apperr.DatabaseError("list event push candidates", err)
		}
		for _, ev := range events {
			if err := ctx.Err(); err != nil {
				return pushed, failed, err
			}
			draft, err := domain.DraftFromEvent(ev, tz)
			if err != nil {
				log.Warn().Err(err).Str("event_id", ev.ID.String()).Msg("skipping invalid event")
				failed++
				continue
			}
			ok, err := e.pushOne(ctx, token, calendarID, draft, func(remoteID string) error {
				return e.events.SetRemoteLink(ctx, ev.ID, remoteID)
			}, log.With().Str("event_id", ev.ID.String()).Logger())
			if err != nil {
				return pushed, failed, err
			}
			if ok {
				pushed++
			} else {
				failed++
			}
		}
	}

	if integration.SyncTasks {
		tasks, err := e.tasks.ListPushCandidates(ctx, integration.UserID, now, e.cfg.BatchSize)
		if err != nil {
			return pushed, failed, apperr.DatabaseError("list task push candidates", err)
		}
		for _, task := range tasks {
			if err := ctx.Err(); err != nil {
				return pushed, failed, err
			}
			draft, err := domain.DraftFromTask(task, e.cfg.TaskPrefix, tz)
			if err != nil {
				log.Warn().Err(err).Str("task_id", task.ID.String()).Msg("skipping invalid task")
				failed++
				continue
			}
			ok, err := e.pushOne(ctx, token, calendarID, draft, func(remoteID string) error {
				return e.tasks.SetRemoteLink(ctx, task.ID, remoteID)
			}, log.With().Str("task_id", task.ID.String()).Logger())
			if err != nil {
				return pushed, failed, err
			}
			if ok {
				pushed++
			} else {
				failed++
			}
		}
	}

	if pushed > 0 || failed > 0 {
		log.Info().Int("pushed", pushed).Int("failed", failed).Msg("push pass done")
	}
	return pushed, failed, nil
}

// pushOne creates one remote event and links it. ok=false is an item skip.
// A link failure after a successful create stops the run: continuing could
// create duplicates on the next attempt for every following item as well.
func (e *Engine) pushOne(ctx context.Context, token, calendarID string, draft domain.RemoteEventDraft, link func(string) error, log zerolog.Logger) (bool, error) {
	remoteID, err := e.remote.CreateEvent(ctx, token, calendarID, draft)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNeedsReconnect) {
			return false, err
		}
		log.Warn().Err(err).Msg("remote create failed")
		return false, nil
	}
	if err := link(remoteID); err != nil {
		log.Error().Err(err).Str("remote_event_id", remoteID).Msg("remote event created but link not stored")
		e.discardRemote(ctx, token, calendarID, remoteID, log)
		return false, apperr.DatabaseError("store remote link", err)
	}
	return true, nil
}

// discardRemote deletes an event whose link could not be stored, so the next
// push does not leave a duplicate behind. Best effort.
func (e *Engine) discardRemote(ctx context.Context, token, calendarID, remoteID string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()
	if err := e.remote.DeleteEvent(ctx, token, calendarID, remoteID); err != nil {
		log.Warn().Err(err).Str("remote_event_id", remoteID).Msg("failed to delete unlinked remote event")
	}
}

// remoteSnapshot is one bounded list call plus the local link state it is compared against.
type remoteSnapshot struct {
	window      domain.SyncWindow
	listed      *out.ListEventsResult
	linkedEvent []out.LinkedRecord
	linkedTask  []out.LinkedRecord
}

func (e *Engine) snapshot(ctx context.Context, integration *domain.CalendarIntegration, token string) (*remoteSnapshot, error) {
	window := domain.NewSyncWindow(e.now(), e.cfg.Lookback, e.cfg.Lookahead)

	listed, err := e.remote.ListEvents(ctx, token, integration.RemoteCalendarID(), out.ListEventsQuery{
		TimeMin:          window.TimeMin,
		TimeMax:          window.TimeMax,
		IncludeCancelled: true,
		MaxItems:         e.cfg.MaxListItems,
	})
	if err != nil {
		return nil, err
	}

	linkedEvents, err := e.events.ListLinked(ctx, integration.UserID)
	if err != nil {
		return nil, apperr.DatabaseError("list linked events", err)
	}
	linkedTasks, err := e.tasks.ListLinked(ctx, integration.UserID)
	if err != nil {
		return nil, apperr.DatabaseError("list linked tasks", err)
	}

	return &remoteSnapshot{
		window:      window,
		listed:      listed,
		linkedEvent: linkedEvents,
		linkedTask:  linkedTasks,
	}, nil
}

// pull imports active remote events that no local record links to.
func (e *Engine) pull(ctx context.Context, integration *domain.CalendarIntegration, snap *remoteSnapshot, log zerolog.Logger) (pulled, failed int, err error) {
	log = log.With().Str("pass", string(domain.PassPull)).Logger()
	loc := integration.Location(e.cfg.DefaultLocation)

	linked := make(map[string]struct{}, len(snap.linkedEvent)+len(snap.linkedTask))
	for _, r := range snap.linkedEvent {
		linked[r.RemoteEventID] = struct{}{}
	}
	for _, r := range snap.linkedTask {
		linked[r.RemoteEventID] = struct{}{}
	}

	for _, re := range snap.listed.Events {
		if re.IsCancelled() {
			continue
		}
		if _, ok := linked[re.ID]; ok {
			continue
		}
		if domain.IsTaskProjection(re.Summary, e.cfg.TaskPrefix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return pulled, failed, err
		}

		ev, err := domain.LocalEventFromRemote(integration.UserID, re, loc)
		if err != nil {
			log.Warn().Err(err).Str("remote_event_id", re.ID).Msg("skipping unmappable remote event")
			failed++
			continue
		}
		inserted, err := e.events.Create(ctx, ev)
		if err != nil {
			log.Warn().Err(err).Str("remote_event_id", re.ID).Msg("import failed")
			failed++
			continue
		}
		linked[re.ID] = struct{}{}
		if inserted {
			pulled++
		}
	}

	if pulled > 0 || failed > 0 {
		log.Info().Int("pulled", pulled).Int("failed", failed).Msg("pull pass done")
	}
	return pulled, failed, nil
}

// deletions removes linked local records whose remote counterpart is gone:
// listed as cancelled, or absent from the active ids while the record lies in
// the listed window. The absence rule is skipped when the list was truncated.
func (e *Engine) deletions(ctx context.Context, integration *domain.CalendarIntegration, snap *remoteSnapshot, log zerolog.Logger) (deleted, failed int, err error) {
	log = log.With().Str("pass", string(domain.PassDelete)).Logger()

	cancelled := make(map[string]struct{})
	active := make(map[string]struct{}, len(snap.listed.Events))
	for _, re := range snap.listed.Events {
		if re.IsCancelled() {
			cancelled[re.ID] = struct{}{}
		} else {
			active[re.ID] = struct{}{}
		}
	}

	orphanWindow := snap.window.Inset(orphanEdgeMargin)
	gone := func(r out.LinkedRecord) (bool, string) {
		if _, ok := cancelled[r.RemoteEventID]; ok {
			return true, "cancelled"
		}
		if snap.listed.Truncated {
			return false, ""
		}
		if _, ok := active[r.RemoteEventID]; ok {
			return false, ""
		}
		if !orphanWindow.Overlaps(r.Start, r.End) {
			return false, ""
		}
		return true, "orphan"
	}

	sweep := func(records []out.LinkedRecord, kind string, del func(context.Context, out.LinkedRecord) error) error {
		for _, r := range records {
			ok, reason := gone(r)
			if !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := del(ctx, r); err != nil {
				log.Warn().Err(err).Str(kind+"_id", r.ID.String()).Msg("local delete failed")
				failed++
				continue
			}
			log.Debug().Str(kind+"_id", r.ID.String()).Str("remote_event_id", r.RemoteEventID).Str("reason", reason).Msg("local record deleted")
			deleted++
		}
		return nil
	}

	if err := sweep(snap.linkedEvent, "event", func(ctx context.Context, r out.LinkedRecord) error {
		return e.events.Delete(ctx, integration.UserID, r.ID)
	}); err != nil {
		return deleted, failed, err
	}
	if err := sweep(snap.linkedTask, "task", func(ctx context.Context, r out.LinkedRecord) error {
		return e.tasks.Delete(ctx, integration.UserID, r.ID)
	}); err != nil {
		return deleted, failed, err
	}

	if snap.listed.Truncated {
		log.Warn().Int("listed", len(snap.listed.Events)).Msg("list truncated, orphan check skipped")
	}
	if deleted > 0 || failed > 0 {
		log.Info().Int("deleted_local", deleted).Int("failed", failed).Msg("deletion pass done")
	}
	return deleted, failed, nil
}
