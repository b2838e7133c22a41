package auth

import (
	"context"
	"testing"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"
)

func TestSettingsService_MissingRecord(t *testing.T) {
	svc := NewSettingsService(newFakeSettingsRepo())

	if _, err := svc.OAuthConfig(context.Background()); !apperr.IsCode(err, apperr.CodeConfigurationMissing) {
		t.Fatalf("err = %v, want CONFIGURATION_MISSING", err)
	}
}

func TestSettingsService_UpdateKeepsSecret(t *testing.T) {
	repo := newFakeSettingsRepo()
	svc := NewSettingsService(repo)
	ctx := context.Background()

	_, err := svc.UpdateOAuthSettings(ctx, &domain.OAuthSettings{
		ClientID: "id-1", ClientSecret: "secret-1", RedirectURI: "https://x/cb",
	})
	if err != nil {
		t.Fatalf("first update: %v", err)
	}

	got, err := svc.UpdateOAuthSettings(ctx, &domain.OAuthSettings{
		ClientID: "id-2", ClientSecret: "", RedirectURI: "https://x/cb",
	})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if got.ClientSecret == "secret-1" {
		t.Error("response must mask the secret")
	}

	stored := repo.items[domain.SettingsKeyGoogleCalendar]
	if stored.ClientSecret != "secret-1" || stored.ClientID != "id-2" {
		t.Errorf("stored = %+v", stored)
	}

	cfg, err := svc.OAuthConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientID != "id-2" || cfg.ClientSecret != "secret-1" || len(cfg.Scopes) == 0 {
		t.Errorf("config = %+v", cfg)
	}
}

func TestSettingsService_UpdateValidation(t *testing.T) {
	svc := NewSettingsService(newFakeSettingsRepo())

	_, err := svc.UpdateOAuthSettings(context.Background(), &domain.OAuthSettings{ClientID: "id"})
	if !apperr.IsCode(err, apperr.CodeValidationFailed) {
		t.Errorf("err = %v, want VALIDATION_FAILED", err)
	}
}

func TestSettingsService_Seed(t *testing.T) {
	repo := newFakeSettingsRepo()
	svc := NewSettingsService(repo)
	ctx := context.Background()

	seed := &domain.OAuthSettings{ClientID: "env-id", ClientSecret: "env-secret", RedirectURI: "https://x/cb"}
	if err := svc.Seed(ctx, seed); err != nil {
		t.Fatal(err)
	}
	if repo.items[domain.SettingsKeyGoogleCalendar].ClientID != "env-id" {
		t.Fatal("seed not stored")
	}

	// an existing record wins over the environment
	if err := svc.Seed(ctx, &domain.OAuthSettings{ClientID: "other", ClientSecret: "s", RedirectURI: "r"}); err != nil {
		t.Fatal(err)
	}
	if repo.items[domain.SettingsKeyGoogleCalendar].ClientID != "env-id" {
		t.Error("seed overwrote existing settings")
	}
}
