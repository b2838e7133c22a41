package calendar

import (
	"context"
	"testing"
	"time"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// scriptedEngine returns per-user results; block makes Reconcile wait for ctx.
type scriptedEngine struct {
	results map[uuid.UUID]domain.SyncResult
	block   map[uuid.UUID]bool
	calls   []uuid.UUID
}

func (s *scriptedEngine) Reconcile(ctx context.Context, i *domain.CalendarIntegration, _ string) (domain.SyncResult, error) {
	s.calls = append(s.calls, i.UserID)
	if s.block[i.UserID] {
		<-ctx.Done()
		return domain.SyncResult{Pushed: 99}, ctx.Err()
	}
	return s.results[i.UserID], nil
}

func (s *scriptedEngine) ReconcileDeletions(_ context.Context, i *domain.CalendarIntegration, _ string) (domain.SyncResult, error) {
	s.calls = append(s.calls, i.UserID)
	return domain.SyncResult{DeletedLocal: s.results[i.UserID].DeletedLocal}, nil
}

type orchestratorFixture struct {
	integrations *fakeIntegrations
	tokens       *fakeTokens
	engine       *scriptedEngine
	runs         *fakeRuns
	notifier     *fakeNotifier
	remote       *fakeRemote
	events       *fakeEvents
	tasks        *fakeTasks
	orch         *Orchestrator
}

func newOrchestratorFixture(cfg OrchestratorConfig, settingsErr error, list ...*domain.CalendarIntegration) *orchestratorFixture {
	f := &orchestratorFixture{
		integrations: newFakeIntegrations(list...),
		tokens:       &fakeTokens{errs: map[uuid.UUID]error{}},
		engine:       &scriptedEngine{results: map[uuid.UUID]domain.SyncResult{}, block: map[uuid.UUID]bool{}},
		runs:         &fakeRuns{},
		notifier:     &fakeNotifier{},
		remote:       newFakeRemote(),
		events:       newFakeEvents(),
		tasks:        newFakeTasks(),
	}
	f.orch = NewOrchestrator(f.integrations, f.events, f.tasks, f.remote, f.tokens, f.engine, fakeSettings{err: settingsErr}, cfg, zerolog.Nop())
	f.orch.SetRunStore(f.runs)
	f.orch.SetNotifier(f.notifier)
	return f
}

func TestOrchestrator_RunBatch_PartialFailure(t *testing.T) {
	a, b, c := connectedIntegration(), connectedIntegration(), connectedIntegration()
	f := newOrchestratorFixture(OrchestratorConfig{}, nil, a, b, c)
	f.tokens.errs[b.UserID] = apperr.NeedsReconnect("")
	f.engine.results[a.UserID] = domain.SyncResult{Pushed: 2, Pulled: 1}
	f.engine.results[c.UserID] = domain.SyncResult{Pulled: 3, DeletedLocal: 1}

	res, err := f.orch.RunBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}

	if res.Processed != 3 || res.Succeeded != 2 {
		t.Errorf("processed=%d succeeded=%d, want 3/2", res.Processed, res.Succeeded)
	}
	if res.ItemsSynced != 6 || res.DeletedLocal != 1 {
		t.Errorf("itemsSynced=%d deletedLocal=%d", res.ItemsSynced, res.DeletedLocal)
	}
	if len(res.Errors) != 1 || res.Errors[0].UserID != b.UserID || res.Errors[0].Code != apperr.CodeNeedsReconnect {
		t.Errorf("errors = %+v", res.Errors)
	}
	if _, ok := f.integrations.lastSync[a.ID]; !ok {
		t.Error("last_sync_at not updated for first user")
	}
	if _, ok := f.integrations.lastSync[b.ID]; ok {
		t.Error("last_sync_at updated for failed user")
	}
	if _, ok := f.integrations.lastSync[c.ID]; !ok {
		t.Error("last_sync_at not updated for third user")
	}
	if len(f.notifier.notified) != 1 || f.notifier.notified[0] != b.UserID {
		t.Errorf("reconnect notifications = %v", f.notifier.notified)
	}
	if len(f.runs.runs) != 1 || f.runs.runs[0].Trigger != domain.SyncTriggerBatch {
		t.Errorf("journal = %+v", f.runs.runs)
	}
	if got := f.orch.Counters().Reconnects.Load(); got != 1 {
		t.Errorf("reconnect counter = %d", got)
	}
}

func TestOrchestrator_RunBatch_ConfigurationMissing(t *testing.T) {
	f := newOrchestratorFixture(OrchestratorConfig{}, apperr.ConfigurationMissing("no client"), connectedIntegration())

	_, err := f.orch.RunBatch(context.Background(), 5)
	if !apperr.IsCode(err, apperr.CodeConfigurationMissing) {
		t.Fatalf("error = %v, want ConfigurationMissing", err)
	}
	if len(f.engine.calls) != 0 {
		t.Error("no user should be synced without settings")
	}
}

func TestOrchestrator_RunBatch_TimeoutDiscardsInFlight(t *testing.T) {
	a, b, c := connectedIntegration(), connectedIntegration(), connectedIntegration()
	f := newOrchestratorFixture(OrchestratorConfig{BatchTimeout: 50 * time.Millisecond}, nil, a, b, c)
	f.engine.results[a.UserID] = domain.SyncResult{Pushed: 1}
	f.engine.block[b.UserID] = true

	res, err := f.orch.RunBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if !res.TimedOut {
		t.Error("timedOut should be set")
	}
	if res.Processed != 1 || res.Pushed != 1 {
		t.Errorf("processed=%d pushed=%d, want only the first user", res.Processed, res.Pushed)
	}
	if len(res.Errors) != 0 {
		t.Errorf("in-flight user must not be reported: %+v", res.Errors)
	}
	for _, uid := range f.engine.calls {
		if uid == c.UserID {
			t.Error("third user should not start after the deadline")
		}
	}
}

func TestOrchestrator_RunBatch_SkipsManualOnly(t *testing.T) {
	auto, manual := connectedIntegration(), connectedIntegration()
	manual.AutoSync = false
	f := newOrchestratorFixture(OrchestratorConfig{}, nil, auto, manual)

	res, err := f.orch.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if res.Processed != 1 || len(f.engine.calls) != 1 || f.engine.calls[0] != auto.UserID {
		t.Errorf("calls = %v", f.engine.calls)
	}
}

func TestOrchestrator_SyncUser(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		i := connectedIntegration()
		f := newOrchestratorFixture(OrchestratorConfig{}, nil, i)
		f.engine.results[i.UserID] = domain.SyncResult{Pushed: 1, Pulled: 2}

		res, err := f.orch.SyncUser(context.Background(), i.UserID)
		if err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}
		if res.ItemsSynced() != 3 || res.Direction != domain.SyncDirectionBoth || !res.SyncedEvents {
			t.Errorf("result = %+v", res)
		}
		if len(f.runs.runs) != 1 || f.runs.runs[0].Trigger != domain.SyncTriggerManual {
			t.Errorf("journal = %+v", f.runs.runs)
		}
	})

	t.Run("not connected", func(t *testing.T) {
		f := newOrchestratorFixture(OrchestratorConfig{}, nil)
		_, err := f.orch.SyncUser(context.Background(), uuid.New())
		if !apperr.IsCode(err, apperr.CodeNotFound) {
			t.Fatalf("error = %v, want NotFound", err)
		}
	})

	t.Run("disconnected row", func(t *testing.T) {
		i := domain.NewCalendarIntegration(uuid.New())
		f := newOrchestratorFixture(OrchestratorConfig{}, nil, i)
		_, err := f.orch.SyncUser(context.Background(), i.UserID)
		if !apperr.IsCode(err, apperr.CodeNeedsReconnect) {
			t.Fatalf("error = %v, want NeedsReconnect", err)
		}
	})

	t.Run("needs reconnect", func(t *testing.T) {
		i := connectedIntegration()
		f := newOrchestratorFixture(OrchestratorConfig{}, nil, i)
		f.tokens.errs[i.UserID] = apperr.NeedsReconnect("")

		_, err := f.orch.SyncUser(context.Background(), i.UserID)
		if !apperr.IsCode(err, apperr.CodeNeedsReconnect) {
			t.Fatalf("error = %v, want NeedsReconnect", err)
		}
		if len(f.notifier.notified) != 1 {
			t.Errorf("notifications = %d", len(f.notifier.notified))
		}
	})

	t.Run("timeout", func(t *testing.T) {
		i := connectedIntegration()
		f := newOrchestratorFixture(OrchestratorConfig{ManualTimeout: 20 * time.Millisecond}, nil, i)
		f.engine.block[i.UserID] = true

		_, err := f.orch.SyncUser(context.Background(), i.UserID)
		if !apperr.IsCode(err, apperr.CodeTimeout) {
			t.Fatalf("error = %v, want Timeout", err)
		}
	})
}

func TestOrchestrator_UpdateRemote(t *testing.T) {
	i := connectedIntegration()
	f := newOrchestratorFixture(OrchestratorConfig{TaskPrefix: "[Tarea] "}, nil, i)

	linked := f.events.add(linkedEvent(i.UserID, "r-9", testNow.Add(time.Hour)))
	linked.Title = "Renamed"
	unlinked := f.events.add(&domain.LocalEvent{UserID: i.UserID, Title: "Local", StartTime: testNow, EndTime: testNow.Add(time.Hour)})

	if err := f.orch.UpdateRemote(context.Background(), i, domain.EntityEvent, linked.ID); err != nil {
		t.Fatalf("UpdateRemote() error = %v", err)
	}
	if got := f.remote.updated["r-9"]; got.Summary != "Renamed" {
		t.Errorf("remote update = %+v", got)
	}

	if err := f.orch.UpdateRemote(context.Background(), i, domain.EntityEvent, unlinked.ID); err != nil {
		t.Fatalf("unlinked UpdateRemote() error = %v", err)
	}
	if len(f.remote.updated) != 1 {
		t.Error("unlinked record must not be sent")
	}

	err := f.orch.UpdateRemote(context.Background(), i, domain.EntityTask, uuid.New())
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("missing task error = %v", err)
	}
}

func TestOrchestrator_RecentRuns(t *testing.T) {
	i := connectedIntegration()
	f := newOrchestratorFixture(OrchestratorConfig{}, nil, i)
	if _, err := f.orch.RunBatch(context.Background(), 1); err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}

	runs, err := f.orch.RecentRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].ID == "" {
		t.Errorf("runs = %+v", runs)
	}
}
