package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// fakeRemote is an in-memory Google Calendar.
type fakeRemote struct {
	mu        sync.Mutex
	events    map[string]*domain.RemoteEvent
	order     []string
	nextIDs   []string
	seq       int
	truncated bool

	createErr map[string]error // by summary
	listErr   error
	deleteErr error

	listCalls int
	created   []domain.RemoteEventDraft
	updated   map[string]domain.RemoteEventDraft
	deleted   []string

	watches       []string
	channelTokens []string
	stopped       []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		events:    make(map[string]*domain.RemoteEvent),
		createErr: make(map[string]error),
		updated:   make(map[string]domain.RemoteEventDraft),
	}
}

func (f *fakeRemote) put(e *domain.RemoteEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[e.ID]; !ok {
		f.order = append(f.order, e.ID)
	}
	f.events[e.ID] = e
}

func (f *fakeRemote) cancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.events[id]; ok {
		e.Status = domain.EventStatusCancelled
	}
}

func (f *fakeRemote) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events, id)
}

func (f *fakeRemote) ListEvents(_ context.Context, _, _ string, q out.ListEventsQuery) (*out.ListEventsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	res := &out.ListEventsResult{Truncated: f.truncated}
	for _, id := range f.order {
		e, ok := f.events[id]
		if !ok {
			continue
		}
		if e.IsCancelled() && !q.IncludeCancelled {
			continue
		}
		cp := *e
		res.Events = append(res.Events, &cp)
	}
	return res, nil
}

func (f *fakeRemote) CreateEvent(_ context.Context, _, _ string, draft domain.RemoteEventDraft) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr[draft.Summary]; err != nil {
		return "", err
	}
	var id string
	if len(f.nextIDs) > 0 {
		id, f.nextIDs = f.nextIDs[0], f.nextIDs[1:]
	} else {
		f.seq++
		id = fmt.Sprintf("remote-%d", f.seq)
	}
	f.created = append(f.created, draft)
	f.order = append(f.order, id)
	f.events[id] = &domain.RemoteEvent{
		ID:      id,
		Summary: draft.Summary,
		Start:   draft.Start,
		End:     draft.End,
		Status:  domain.EventStatusConfirmed,
	}
	return id, nil
}

func (f *fakeRemote) UpdateEvent(_ context.Context, _, _, remoteEventID string, draft domain.RemoteEventDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[remoteEventID] = draft
	return nil
}

func (f *fakeRemote) DeleteEvent(_ context.Context, _, _, remoteEventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, remoteEventID)
	delete(f.events, remoteEventID)
	return nil
}

func (f *fakeRemote) Watch(_ context.Context, _, _, channelID, channelToken, _ string, ttl time.Duration) (*domain.WatchChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watches = append(f.watches, channelID)
	f.channelTokens = append(f.channelTokens, channelToken)
	return &domain.WatchChannel{
		ChannelID:  channelID,
		ResourceID: "res-" + channelID,
		Expiration: time.Now().Add(ttl).UnixMilli(),
	}, nil
}

func (f *fakeRemote) StopWatch(_ context.Context, _, channelID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, channelID)
	return nil
}

// fakeEvents is an in-memory calendar_events table.
type fakeEvents struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]*domain.LocalEvent
	setLinkErr error
	deleteErr  error
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{rows: make(map[uuid.UUID]*domain.LocalEvent)}
}

func (f *fakeEvents) add(e *domain.LocalEvent) *domain.LocalEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	f.rows[e.ID] = e
	return e
}

func (f *fakeEvents) get(id uuid.UUID) (*domain.LocalEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[id]
	return e, ok
}

func (f *fakeEvents) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeEvents) sorted() []*domain.LocalEvent {
	list := make([]*domain.LocalEvent, 0, len(f.rows))
	for _, e := range f.rows {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartTime.Before(list[j].StartTime) })
	return list
}

func (f *fakeEvents) ListPushCandidates(_ context.Context, userID uuid.UUID, now time.Time, limit int) ([]*domain.LocalEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*domain.LocalEvent
	for _, e := range f.sorted() {
		if e.UserID == userID && e.RemoteEventID == nil && e.StartTime.After(now) {
			res = append(res, e)
		}
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (f *fakeEvents) SetRemoteLink(_ context.Context, id uuid.UUID, remoteEventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setLinkErr != nil {
		return f.setLinkErr
	}
	e, ok := f.rows[id]
	if !ok {
		return out.ErrNotFound
	}
	rid := remoteEventID
	e.RemoteEventID = &rid
	e.IsSynced = true
	return nil
}

func (f *fakeEvents) ListLinked(_ context.Context, userID uuid.UUID) ([]out.LinkedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []out.LinkedRecord
	for _, e := range f.sorted() {
		if e.UserID == userID && e.RemoteEventID != nil {
			res = append(res, out.LinkedRecord{ID: e.ID, RemoteEventID: *e.RemoteEventID, Start: e.StartTime, End: e.EndTime})
		}
	}
	return res, nil
}

func (f *fakeEvents) ClearRemoteLinks(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.rows {
		if e.UserID == userID && e.RemoteEventID != nil {
			e.RemoteEventID = nil
			e.IsSynced = false
			n++
		}
	}
	return n, nil
}

func (f *fakeEvents) Create(_ context.Context, event *domain.LocalEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.rows {
		if e.UserID == event.UserID && e.RemoteEventID != nil && event.RemoteEventID != nil && *e.RemoteEventID == *event.RemoteEventID {
			return false, nil
		}
	}
	f.rows[event.ID] = event
	return true, nil
}

func (f *fakeEvents) GetByID(_ context.Context, userID, id uuid.UUID) (*domain.LocalEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[id]
	if !ok || e.UserID != userID {
		return nil, out.ErrNotFound
	}
	return e, nil
}

func (f *fakeEvents) Delete(_ context.Context, userID, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if e, ok := f.rows[id]; !ok || e.UserID != userID {
		return out.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

// fakeTasks is an in-memory tasks table.
type fakeTasks struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.LocalTask
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{rows: make(map[uuid.UUID]*domain.LocalTask)}
}

func (f *fakeTasks) add(t *domain.LocalTask) *domain.LocalTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	f.rows[t.ID] = t
	return t
}

func (f *fakeTasks) get(id uuid.UUID) (*domain.LocalTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	return t, ok
}

func (f *fakeTasks) ListPushCandidates(_ context.Context, userID uuid.UUID, now time.Time, limit int) ([]*domain.LocalTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*domain.LocalTask
	for _, t := range f.rows {
		if t.UserID == userID && t.RemoteEventID == nil && t.DueDate != nil && t.DueDate.After(now) {
			res = append(res, t)
		}
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (f *fakeTasks) SetRemoteLink(_ context.Context, id uuid.UUID, remoteEventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	if !ok {
		return out.ErrNotFound
	}
	rid := remoteEventID
	t.RemoteEventID = &rid
	t.IsSynced = true
	return nil
}

func (f *fakeTasks) ListLinked(_ context.Context, userID uuid.UUID) ([]out.LinkedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []out.LinkedRecord
	for _, t := range f.rows {
		if t.UserID == userID && t.RemoteEventID != nil && t.DueDate != nil {
			res = append(res, out.LinkedRecord{
				ID:            t.ID,
				RemoteEventID: *t.RemoteEventID,
				Start:         *t.DueDate,
				End:           t.DueDate.Add(domain.TaskDuration),
			})
		}
	}
	return res, nil
}

func (f *fakeTasks) ClearRemoteLinks(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.rows {
		if t.UserID == userID && t.RemoteEventID != nil {
			t.RemoteEventID = nil
			t.IsSynced = false
			n++
		}
	}
	return n, nil
}

func (f *fakeTasks) GetByID(_ context.Context, userID, id uuid.UUID) (*domain.LocalTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	if !ok || t.UserID != userID {
		return nil, out.ErrNotFound
	}
	return t, nil
}

func (f *fakeTasks) Delete(_ context.Context, userID, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.rows[id]; !ok || t.UserID != userID {
		return out.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

// fakeIntegrations keeps integrations by user id.
type fakeIntegrations struct {
	out.IntegrationRepository

	mu           sync.Mutex
	byUser       map[uuid.UUID]*domain.CalendarIntegration
	order        []uuid.UUID
	getErr       error
	lastSync     map[uuid.UUID]time.Time
	channels     map[uuid.UUID]*domain.WatchChannel
	disconnected []uuid.UUID
	prefsUpdated int
	expiring     []*domain.CalendarIntegration
}

func newFakeIntegrations(list ...*domain.CalendarIntegration) *fakeIntegrations {
	f := &fakeIntegrations{
		byUser:   make(map[uuid.UUID]*domain.CalendarIntegration),
		lastSync: make(map[uuid.UUID]time.Time),
		channels: make(map[uuid.UUID]*domain.WatchChannel),
	}
	for _, i := range list {
		f.byUser[i.UserID] = i
		f.order = append(f.order, i.UserID)
	}
	return f
}

func (f *fakeIntegrations) GetByUserID(_ context.Context, userID uuid.UUID) (*domain.CalendarIntegration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	i, ok := f.byUser[userID]
	if !ok {
		return nil, out.ErrNotFound
	}
	return i, nil
}

func (f *fakeIntegrations) GetByWebhookChannelID(_ context.Context, channelID string) (*domain.CalendarIntegration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, i := range f.byUser {
		if i.WebhookChannelID != nil && *i.WebhookChannelID == channelID {
			return i, nil
		}
	}
	return nil, out.ErrNotFound
}

func (f *fakeIntegrations) ListAutoSync(_ context.Context, limit int) ([]*domain.CalendarIntegration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*domain.CalendarIntegration
	for _, id := range f.order {
		if i := f.byUser[id]; i.AutoSync {
			res = append(res, i)
		}
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (f *fakeIntegrations) ListExpiringWatches(_ context.Context, _ time.Time, _ int) ([]*domain.CalendarIntegration, error) {
	return f.expiring, nil
}

func (f *fakeIntegrations) UpdateLastSyncAt(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSync[id] = at
	return nil
}

func (f *fakeIntegrations) UpdateWebhookChannel(_ context.Context, id uuid.UUID, ch *domain.WatchChannel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[id] = ch
	return nil
}

func (f *fakeIntegrations) UpdatePreferences(_ context.Context, _ *domain.CalendarIntegration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefsUpdated++
	return nil
}

func (f *fakeIntegrations) Disconnect(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, id)
	return nil
}

// fakeTokens returns a fixed token, or a per-user error.
type fakeTokens struct {
	mu    sync.Mutex
	errs  map[uuid.UUID]error
	calls int
}

func (f *fakeTokens) EnsureValidAccessToken(_ context.Context, i *domain.CalendarIntegration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[i.UserID]; err != nil {
		return "", err
	}
	return "access-token", nil
}

type fakeSettings struct {
	err error
}

func (f fakeSettings) OAuthConfig(context.Context) (*oauth2.Config, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Config{ClientID: "id", ClientSecret: "secret"}, nil
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []*domain.SyncRun
}

func (f *fakeRuns) Record(_ context.Context, run *domain.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRuns) ListRecent(_ context.Context, limit int) ([]*domain.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runs) < limit {
		limit = len(f.runs)
	}
	return f.runs[:limit], nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	notified []uuid.UUID
}

func (f *fakeNotifier) NotifyReconnect(_ context.Context, i *domain.CalendarIntegration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, i.UserID)
	return nil
}

type fakeCache struct {
	mu     sync.Mutex
	claims map[string]bool
	err    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{claims: make(map[string]bool)}
}

func (f *fakeCache) GetJSON(context.Context, string, any) (bool, error)        { return false, nil }
func (f *fakeCache) SetJSON(context.Context, string, any, time.Duration) error { return nil }
func (f *fakeCache) Delete(context.Context, string) error                      { return nil }

func (f *fakeCache) SetNX(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.claims[key] {
		return false, nil
	}
	f.claims[key] = true
	return true, nil
}

// prefixSigner signs a channel as "sig:<id>".
type prefixSigner struct{}

func (prefixSigner) Sign(channelID string) string { return "sig:" + channelID }
func (prefixSigner) Verify(channelID, token string) bool {
	return token == "sig:"+channelID
}

type fakeProducer struct {
	mu   sync.Mutex
	jobs []*domain.CalendarFollowUpJob
	err  error
}

func (f *fakeProducer) PublishCalendarFollowUp(_ context.Context, job *domain.CalendarFollowUpJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type recordingFollowUps struct {
	mu     sync.Mutex
	jobs   []*domain.CalendarFollowUpJob
	inline []bool
	err    error
}

func (f *recordingFollowUps) Request(_ context.Context, job *domain.CalendarFollowUpJob, inline bool) (*domain.FollowUpOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	f.inline = append(f.inline, inline)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.FollowUpOutcome{JobID: job.ID, Mode: FollowUpModeInline, Result: &domain.SyncResult{}}, nil
}

func connectedIntegration() *domain.CalendarIntegration {
	i := domain.NewCalendarIntegration(uuid.New())
	i.AccessToken = "access-token"
	i.RefreshToken = "refresh-token"
	exp := time.Now().Add(time.Hour)
	i.TokenExpiresAt = &exp
	return i
}
