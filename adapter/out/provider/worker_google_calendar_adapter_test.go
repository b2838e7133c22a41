package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"

	"github.com/goccy/go-json"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *GoogleCalendarAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGoogleCalendarAdapter(srv.Client(), GoogleCalendarConfig{
		Endpoint:   srv.URL + "/",
		RatePerSec: 1000,
		Burst:      100,
	}, nil)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func googleError(w http.ResponseWriter, status int) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": status, "message": http.StatusText(status)},
	})
}

var testWindow = out.ListEventsQuery{
	TimeMin: time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC),
	TimeMax: time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC),
}

func TestListEvents_Pagination(t *testing.T) {
	var pages atomic.Int32
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		q := r.URL.Query()
		if q.Get("singleEvents") != "true" || q.Get("maxResults") != "250" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("showDeleted") != "true" {
			t.Errorf("showDeleted = %q", q.Get("showDeleted"))
		}
		pages.Add(1)
		if q.Get("pageToken") == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"items": []map[string]any{{
					"id": "e1", "summary": "Visita", "status": "confirmed",
					"start": map[string]any{"dateTime": "2026-03-11T10:00:00-05:00"},
					"end":   map[string]any{"dateTime": "2026-03-11T11:00:00-05:00"},
				}},
				"nextPageToken": "p2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": []map[string]any{{
				"id": "e2", "summary": "Feriado",
				"start": map[string]any{"date": "2026-03-12"},
				"end":   map[string]any{"date": "2026-03-13"},
			}, {
				"id": "e3", "status": "cancelled",
			}},
		})
	})

	query := testWindow
	query.IncludeCancelled = true
	res, err := a.ListEvents(context.Background(), "tok", "primary", query)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if pages.Load() != 2 {
		t.Errorf("pages = %d, want 2", pages.Load())
	}
	if res.Truncated {
		t.Error("unexpected truncation")
	}
	if len(res.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(res.Events))
	}

	timed := res.Events[0]
	if timed.AllDay || !timed.Start.Equal(time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("timed event start = %v allDay=%v", timed.Start, timed.AllDay)
	}
	allDay := res.Events[1]
	if !allDay.AllDay || allDay.StartDate != "2026-03-12" {
		t.Errorf("all-day event = %+v", allDay)
	}
	if allDay.Status != domain.EventStatusConfirmed {
		t.Errorf("default status = %q", allDay.Status)
	}
	if !res.Events[2].IsCancelled() {
		t.Error("e3 should be cancelled")
	}
}

func TestListEvents_Truncated(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"items":         []map[string]any{{"id": "a"}, {"id": "b"}, {"id": "c"}},
			"nextPageToken": "more",
		})
	})

	query := testWindow
	query.MaxItems = 2
	res, err := a.ListEvents(context.Background(), "tok", "primary", query)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if !res.Truncated || len(res.Events) != 2 {
		t.Errorf("truncated=%v len=%d", res.Truncated, len(res.Events))
	}
}

func TestCreateEvent(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/calendars/primary/events") {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("sendUpdates") != "none" {
			t.Errorf("sendUpdates = %q", r.URL.Query().Get("sendUpdates"))
		}
		body, _ := io.ReadAll(r.Body)
		var ev struct {
			Summary string `json:"summary"`
			Start   struct {
				DateTime string `json:"dateTime"`
				TimeZone string `json:"timeZone"`
			} `json:"start"`
		}
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if ev.Summary != "Visita" || ev.Start.TimeZone != "America/Bogota" {
			t.Errorf("body = %s", body)
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "abc123"})
	})

	start := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)
	id, err := a.CreateEvent(context.Background(), "tok", "primary", domain.RemoteEventDraft{
		Summary:  "Visita",
		Start:    start,
		End:      start.Add(time.Hour),
		TimeZone: "America/Bogota",
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if id != "abc123" {
		t.Errorf("id = %q", id)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
	}{
		{"unauthorized", http.StatusUnauthorized, apperr.CodeNeedsReconnect},
		{"forbidden", http.StatusForbidden, apperr.CodeRemoteTransient},
		{"rate limited", http.StatusTooManyRequests, apperr.CodeRemoteTransient},
		{"unavailable", http.StatusServiceUnavailable, apperr.CodeRemoteTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				googleError(w, tt.status)
			})
			_, err := a.ListEvents(context.Background(), "tok", "primary", testWindow)
			if !apperr.IsCode(err, tt.code) {
				t.Errorf("err = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestDeleteEvent_GoneIsSuccess(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete {
				t.Errorf("method = %s", r.Method)
			}
			googleError(w, status)
		})
		if err := a.DeleteEvent(context.Background(), "tok", "primary", "gone"); err != nil {
			t.Errorf("status %d: DeleteEvent = %v, want nil", status, err)
		}
	}
}

func TestClientErrorsDoNotOpenCircuit(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		googleError(w, http.StatusUnauthorized)
	})
	for i := 0; i < 12; i++ {
		_, _ = a.ListEvents(context.Background(), "tok", "primary", testWindow)
	}
	if got := a.CircuitState(); got != "closed" {
		t.Errorf("circuit = %s, want closed", got)
	}
}

func TestWatch(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/events/watch") {
			t.Errorf("path = %s", r.URL.Path)
		}
		var ch map[string]any
		_ = json.NewDecoder(r.Body).Decode(&ch)
		if ch["type"] != "web_hook" || ch["address"] != "https://crm.example.com/api/webhooks/google-calendar" || ch["token"] != "signed" {
			t.Errorf("channel = %v", ch)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id": ch["id"], "resourceId": "res-1", "expiration": "1775000000000",
		})
	})

	got, err := a.Watch(context.Background(), "tok", "primary", "chan-1", "signed",
		"https://crm.example.com/api/webhooks/google-calendar", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if got.ChannelID != "chan-1" || got.ResourceID != "res-1" || got.Expiration != 1775000000000 {
		t.Errorf("channel = %+v", got)
	}
}

func TestAccountEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			googleError(w, http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"email": "ana@example.com"})
	}))
	defer srv.Close()

	a := NewGoogleAccountAdapter(srv.Client(), srv.URL+"/")
	email, err := a.AccountEmail(context.Background(), "tok")
	if err != nil {
		t.Fatalf("AccountEmail: %v", err)
	}
	if email != "ana@example.com" {
		t.Errorf("email = %q", email)
	}

	if _, err := a.AccountEmail(context.Background(), "bad"); !apperr.IsCode(err, apperr.CodeNeedsReconnect) {
		t.Errorf("bad token err = %v", err)
	}
}
