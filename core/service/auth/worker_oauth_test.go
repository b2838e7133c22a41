package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"calsync_server/pkg/apperr"

	"github.com/google/uuid"
)

func TestOAuthService_AuthURL(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusOK, `{}`, 0)
	cfg := configFor(srv)
	cfg.cfg.Endpoint.AuthURL = "https://accounts.example.com/auth"
	cfg.cfg.RedirectURL = "https://api.example.com/callback"
	states := &fakeStateStore{}
	svc := NewOAuthService(cfg, &fakeIntegrations{}, states, fakeAccounts{}, srv.Client())

	userID := uuid.New()
	raw, err := svc.AuthURL(context.Background(), userID)
	if err != nil {
		t.Fatalf("AuthURL: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	state := q.Get("state")
	if !strings.HasPrefix(state, userID.String()+":") || len(state) != len(userID.String())+1+32 {
		t.Errorf("state = %q", state)
	}
	if q.Get("access_type") != "offline" || q.Get("prompt") != "consent" {
		t.Errorf("offline consent not requested: %s", raw)
	}
	if states.states[state] != userID.String() {
		t.Error("state not stored")
	}
}

func TestOAuthService_HandleCallback(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusOK,
		`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`, 0)
	repo := &fakeIntegrations{}
	watcher := &recordingWatcher{}
	followUps := &recordingFollowUps{}
	states := &fakeStateStore{}
	svc := NewOAuthService(configFor(srv), repo, states, fakeAccounts{email: "agent@example.com"}, srv.Client())
	svc.SetWatchRegistrar(watcher)
	svc.SetFollowUpRequester(followUps)

	userID := uuid.New()
	state := userID.String() + ":0123456789abcdef0123456789abcdef"
	_ = states.Save(context.Background(), state, userID.String(), 0)

	integ, err := svc.HandleCallback(context.Background(), "auth-code", state)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if integ.UserID != userID || integ.RemoteAccountEmail != "agent@example.com" {
		t.Errorf("integration = %+v", integ)
	}
	if integ.AccessToken != "at" || integ.RefreshToken != "rt" || integ.TokenExpiresAt == nil {
		t.Errorf("tokens not stored: %+v", integ)
	}
	if len(repo.upserted) != 1 || watcher.calls != 1 || len(followUps.jobs) != 1 {
		t.Errorf("upserts=%d watch=%d followups=%d", len(repo.upserted), watcher.calls, len(followUps.jobs))
	}

	// state is single use
	if _, err := svc.HandleCallback(context.Background(), "auth-code", state); !apperr.IsCode(err, apperr.CodeBadRequest) {
		t.Errorf("replayed state: err = %v", err)
	}
}

func TestOAuthService_HandleCallback_ForgedState(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusOK, `{}`, 0)
	states := &fakeStateStore{}
	svc := NewOAuthService(configFor(srv), &fakeIntegrations{}, states, fakeAccounts{}, srv.Client())

	victim, attacker := uuid.New(), uuid.New()
	state := victim.String() + ":abc"
	_ = states.Save(context.Background(), state, attacker.String(), 0)

	if _, err := svc.HandleCallback(context.Background(), "code", state); !apperr.IsCode(err, apperr.CodeBadRequest) {
		t.Errorf("err = %v, want BAD_REQUEST", err)
	}
}
