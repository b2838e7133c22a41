package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"calsync_server/core/domain"

	"github.com/google/uuid"
)

type recordingSender struct {
	sent []domain.EmailMessage
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg domain.EmailMessage) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

type memoryCache struct {
	keys map[string]bool
}

func (m *memoryCache) GetJSON(context.Context, string, any) (bool, error)        { return false, nil }
func (m *memoryCache) SetJSON(context.Context, string, any, time.Duration) error { return nil }
func (m *memoryCache) Delete(context.Context, string) error                      { return nil }

func (m *memoryCache) SetNX(_ context.Context, key string, _ time.Duration) (bool, error) {
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func TestService_NotifyReconnect(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, &memoryCache{keys: map[string]bool{}}, "https://app.example.com")

	integration := domain.NewCalendarIntegration(uuid.New())
	integration.RemoteAccountEmail = "ana@example.com"

	for i := 0; i < 2; i++ {
		if err := svc.NotifyReconnect(context.Background(), integration); err != nil {
			t.Fatalf("NotifyReconnect() error = %v", err)
		}
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1 per day", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "ana@example.com" {
		t.Errorf("to = %q", msg.To)
	}
	if !strings.Contains(msg.Text, "https://app.example.com/settings?google_sync=reconnect") {
		t.Errorf("text missing reconnect link: %q", msg.Text)
	}
}

func TestService_NotifyReconnect_NoEmail(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, nil, "https://app.example.com")

	if err := svc.NotifyReconnect(context.Background(), domain.NewCalendarIntegration(uuid.New())); err != nil {
		t.Fatalf("NotifyReconnect() error = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("nothing should be sent without an account email")
	}
}

func TestService_NotifyReconnect_SendError(t *testing.T) {
	sender := &recordingSender{err: errors.New("relay down")}
	svc := NewService(sender, nil, "")

	integration := domain.NewCalendarIntegration(uuid.New())
	integration.RemoteAccountEmail = "ana@example.com"
	if err := svc.NotifyReconnect(context.Background(), integration); err == nil {
		t.Error("expected error")
	}
}
