package out

import (
	"context"
	"time"

	"calsync_server/core/domain"
)

// ListEventsQuery bounds a single list call.
type ListEventsQuery struct {
	TimeMin          time.Time
	TimeMax          time.Time
	IncludeCancelled bool
	// MaxItems caps the total across pages; zero means the adapter default.
	MaxItems int
}

// ListEventsResult holds the listed events. Truncated is set when MaxItems
// was reached before the last page.
type ListEventsResult struct {
	Events    []*domain.RemoteEvent
	Truncated bool
}

// RemoteCalendarClient is the Google Calendar port. Every call takes an
// access token produced by the token manager.
//
// Errors: apperr NeedsReconnect on 401, apperr RemoteTransient otherwise.
// DeleteEvent treats 404/410 as success.
type RemoteCalendarClient interface {
	ListEvents(ctx context.Context, accessToken, calendarID string, query ListEventsQuery) (*ListEventsResult, error)
	CreateEvent(ctx context.Context, accessToken, calendarID string, draft domain.RemoteEventDraft) (string, error)
	UpdateEvent(ctx context.Context, accessToken, calendarID, remoteEventID string, draft domain.RemoteEventDraft) error
	DeleteEvent(ctx context.Context, accessToken, calendarID, remoteEventID string) error

	// Watch opens a push channel. channelToken is echoed back by Google in
	// X-Goog-Channel-Token; empty sends none.
	Watch(ctx context.Context, accessToken, calendarID, channelID, channelToken, address string, ttl time.Duration) (*domain.WatchChannel, error)
	StopWatch(ctx context.Context, accessToken, channelID, resourceID string) error
}

// AccountInfoProvider resolves the Google account behind an access token.
type AccountInfoProvider interface {
	AccountEmail(ctx context.Context, accessToken string) (string, error)
}
