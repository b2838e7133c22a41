package calendar

import (
	"context"
	"errors"
	"testing"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"

	"github.com/rs/zerolog"
)

func watchedIntegration(channel, resource string) *domain.CalendarIntegration {
	i := connectedIntegration()
	i.WebhookChannelID = &channel
	i.WebhookResourceID = &resource
	return i
}

func TestWebhookService_HandleNotification(t *testing.T) {
	tests := []struct {
		name         string
		n            domain.WebhookNotification
		lookupErr    error
		wantErr      bool
		wantRequests int
	}{
		{
			name:         "sync handshake is acked",
			n:            domain.WebhookNotification{ChannelID: "ch-1", ResourceState: "sync", MessageNumber: "1"},
			wantRequests: 0,
		},
		{
			name:         "exists runs deletion pass",
			n:            domain.WebhookNotification{ChannelID: "ch-1", ResourceID: "res-1", ResourceState: "exists", MessageNumber: "2"},
			wantRequests: 1,
		},
		{
			name:         "not_exists runs deletion pass",
			n:            domain.WebhookNotification{ChannelID: "ch-1", ResourceState: "not_exists", MessageNumber: "3"},
			wantRequests: 1,
		},
		{
			name:         "unknown channel is acked",
			n:            domain.WebhookNotification{ChannelID: "ch-unknown", ResourceState: "exists", MessageNumber: "4"},
			wantRequests: 0,
		},
		{
			name:         "stale resource is acked",
			n:            domain.WebhookNotification{ChannelID: "ch-1", ResourceID: "res-old", ResourceState: "exists", MessageNumber: "5"},
			wantRequests: 0,
		},
		{
			name:      "lookup failure asks for redelivery",
			n:         domain.WebhookNotification{ChannelID: "ch-1", ResourceState: "exists", MessageNumber: "6"},
			lookupErr: errors.New("db down"),
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			integrations := newFakeIntegrations(watchedIntegration("ch-1", "res-1"))
			integrations.getErr = tt.lookupErr
			followUps := &recordingFollowUps{}
			svc := NewWebhookService(integrations, newFakeCache(), followUps, zerolog.Nop())

			err := svc.HandleNotification(context.Background(), tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HandleNotification() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(followUps.jobs) != tt.wantRequests {
				t.Fatalf("follow-up requests = %d, want %d", len(followUps.jobs), tt.wantRequests)
			}
			if tt.wantRequests > 0 {
				job := followUps.jobs[0]
				if job.Kind != domain.FollowUpDeletion || !followUps.inline[0] {
					t.Errorf("job = %+v inline=%v", job, followUps.inline[0])
				}
			}
		})
	}
}

func TestWebhookService_DedupesMessageNumber(t *testing.T) {
	integrations := newFakeIntegrations(watchedIntegration("ch-1", "res-1"))
	followUps := &recordingFollowUps{}
	svc := NewWebhookService(integrations, newFakeCache(), followUps, zerolog.Nop())

	n := domain.WebhookNotification{ChannelID: "ch-1", ResourceState: "exists", MessageNumber: "42"}
	for i := 0; i < 3; i++ {
		if err := svc.HandleNotification(context.Background(), n); err != nil {
			t.Fatalf("delivery %d error = %v", i, err)
		}
	}
	if len(followUps.jobs) != 1 {
		t.Errorf("requests = %d, want 1", len(followUps.jobs))
	}
}

func TestWebhookService_FollowUpErrorIsAcked(t *testing.T) {
	integrations := newFakeIntegrations(watchedIntegration("ch-1", "res-1"))
	followUps := &recordingFollowUps{err: apperr.NeedsReconnect("")}
	svc := NewWebhookService(integrations, nil, followUps, zerolog.Nop())

	err := svc.HandleNotification(context.Background(), domain.WebhookNotification{ChannelID: "ch-1", ResourceState: "exists"})
	if err != nil {
		t.Errorf("error = %v, want ack", err)
	}
}

func TestWebhookService_RedeliveryAfterLookupFailure(t *testing.T) {
	integrations := newFakeIntegrations(watchedIntegration("ch-1", "res-1"))
	followUps := &recordingFollowUps{}
	svc := NewWebhookService(integrations, newFakeCache(), followUps, zerolog.Nop())
	n := domain.WebhookNotification{ChannelID: "ch-1", ResourceState: "exists", MessageNumber: "77"}

	integrations.getErr = errors.New("db down")
	if err := svc.HandleNotification(context.Background(), n); err == nil {
		t.Fatal("first delivery should fail so Google redelivers")
	}

	integrations.getErr = nil
	if err := svc.HandleNotification(context.Background(), n); err != nil {
		t.Fatalf("redelivery error = %v", err)
	}
	if len(followUps.jobs) != 1 {
		t.Errorf("follow-up requests = %d, want 1 from the redelivery", len(followUps.jobs))
	}
}

func TestWebhookService_ChannelToken(t *testing.T) {
	tests := []struct {
		name         string
		token        string
		wantRequests int
	}{
		{"signed token accepted", "sig:ch-1", 1},
		{"missing token ignored", "", 0},
		{"token for another channel ignored", "sig:ch-2", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			integrations := newFakeIntegrations(watchedIntegration("ch-1", "res-1"))
			followUps := &recordingFollowUps{}
			svc := NewWebhookService(integrations, newFakeCache(), followUps, zerolog.Nop())
			svc.SetChannelTokens(prefixSigner{})

			n := domain.WebhookNotification{ChannelID: "ch-1", ChannelToken: tt.token, ResourceState: "exists", MessageNumber: "1"}
			if err := svc.HandleNotification(context.Background(), n); err != nil {
				t.Fatalf("HandleNotification() error = %v", err)
			}
			if len(followUps.jobs) != tt.wantRequests {
				t.Errorf("follow-up requests = %d, want %d", len(followUps.jobs), tt.wantRequests)
			}
		})
	}
}
