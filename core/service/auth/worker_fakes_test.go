package auth

import (
	"context"
	"sync"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

type staticConfig struct {
	cfg *oauth2.Config
	err error
}

func (s staticConfig) OAuthConfig(context.Context) (*oauth2.Config, error) {
	return s.cfg, s.err
}

type tokenUpdate struct {
	ID           uuid.UUID
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type fakeTokenWriter struct {
	mu      sync.Mutex
	updates []tokenUpdate
	err     error
}

func (f *fakeTokenWriter) UpdateTokens(_ context.Context, id uuid.UUID, access, refresh string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, tokenUpdate{id, access, refresh, exp})
	return nil
}

type fakeSettingsRepo struct {
	mu    sync.Mutex
	items map[string]*domain.OAuthSettings
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{items: map[string]*domain.OAuthSettings{}}
}

func (f *fakeSettingsRepo) GetOAuthSettings(_ context.Context, key string) (*domain.OAuthSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[key]
	if !ok {
		return nil, out.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSettingsRepo) SaveOAuthSettings(_ context.Context, key string, s *domain.OAuthSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.items[key] = &cp
	return nil
}

type fakeStateStore struct {
	mu     sync.Mutex
	states map[string]string
}

func (f *fakeStateStore) Save(_ context.Context, state, userID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.states == nil {
		f.states = map[string]string{}
	}
	f.states[state] = userID
	return nil
}

func (f *fakeStateStore) Consume(_ context.Context, state string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uid, ok := f.states[state]
	delete(f.states, state)
	return uid, ok, nil
}

type fakeAccounts struct{ email string }

func (f fakeAccounts) AccountEmail(context.Context, string) (string, error) {
	return f.email, nil
}

// fakeIntegrations implements out.IntegrationRepository for the OAuth flow.
type fakeIntegrations struct {
	out.IntegrationRepository
	upserted []*domain.CalendarIntegration
}

func (f *fakeIntegrations) UpsertFromOAuth(_ context.Context, i *domain.CalendarIntegration) (*domain.CalendarIntegration, error) {
	f.upserted = append(f.upserted, i)
	return i, nil
}

type recordingWatcher struct{ calls int }

func (r *recordingWatcher) Register(context.Context, *domain.CalendarIntegration) error {
	r.calls++
	return nil
}

type recordingFollowUps struct{ jobs []*domain.CalendarFollowUpJob }

func (r *recordingFollowUps) Request(_ context.Context, job *domain.CalendarFollowUpJob, _ bool) (*domain.FollowUpOutcome, error) {
	r.jobs = append(r.jobs, job)
	return &domain.FollowUpOutcome{Mode: "queued"}, nil
}
