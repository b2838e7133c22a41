package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/logger"
	"calsync_server/pkg/metrics"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	calendarPageSize    = 250
	defaultListMaxItems = 2500
	defaultRemoteRate   = 8
	defaultRemoteBurst  = 16
)

// GoogleCalendarConfig tunes the Google Calendar client.
type GoogleCalendarConfig struct {
	// Endpoint overrides the API base URL (tests).
	Endpoint   string
	RatePerSec float64
	Burst      int
	MaxItems   int
}

// GoogleCalendarAdapter implements out.RemoteCalendarClient for Google Calendar.
// Calls are paced by a process-wide limiter and guarded by a circuit breaker.
type GoogleCalendarAdapter struct {
	httpClient *http.Client
	endpoint   string
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker
	latency    *metrics.LatencyRegistry
	maxItems   int
}

// NewGoogleCalendarAdapter creates a new Google Calendar adapter.
func NewGoogleCalendarAdapter(httpClient *http.Client, cfg GoogleCalendarConfig, latency *metrics.LatencyRegistry) *GoogleCalendarAdapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRemoteRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultRemoteBurst
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultListMaxItems
	}
	if latency == nil {
		latency = metrics.NewLatencyRegistry(100)
	}

	cbSettings := gobreaker.Settings{
		Name:        "google-calendar",
		MaxRequests: 3,                // Half-open 상태에서 허용할 요청 수
		Interval:    60 * time.Second, // Closed 상태에서 카운터 리셋 간격
		Timeout:     30 * time.Second, // Open 상태 유지 시간
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		// client errors must not open the circuit
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			code := googleStatus(err)
			return code >= 400 && code < 500 && code != http.StatusTooManyRequests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &GoogleCalendarAdapter{
		httpClient: httpClient,
		endpoint:   cfg.Endpoint,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		cb:         gobreaker.NewCircuitBreaker(cbSettings),
		latency:    latency,
		maxItems:   cfg.MaxItems,
	}
}

// getService creates a Calendar service authorised with the access token.
func (a *GoogleCalendarAdapter) getService(ctx context.Context, accessToken string) (*calendar.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(bearerClient(a.httpClient, accessToken))}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, apperr.RemoteTransient("create calendar service", err)
	}
	return svc, nil
}

// bearerClient wraps base with a static bearer token.
func bearerClient(base *http.Client, accessToken string) *http.Client {
	return &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   base.Transport,
		},
	}
}

// call paces, guards and times one API request, then maps its error.
func (a *GoogleCalendarAdapter) call(ctx context.Context, operation string, fn func() error) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return apperr.RemoteTransient(operation, err)
	}

	start := time.Now()
	_, err := a.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	a.latency.Record("gcal."+operation, time.Since(start))

	return mapGoogleError(operation, err)
}

// ListEvents pages through the window, 250 per page, up to MaxItems.
func (a *GoogleCalendarAdapter) ListEvents(ctx context.Context, accessToken, calendarID string, query out.ListEventsQuery) (*out.ListEventsResult, error) {
	svc, err := a.getService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	maxItems := query.MaxItems
	if maxItems <= 0 {
		maxItems = a.maxItems
	}

	result := &out.ListEventsResult{}
	pageToken := ""
	for {
		req := svc.Events.List(calendarID).
			TimeMin(query.TimeMin.Format(time.RFC3339)).
			TimeMax(query.TimeMax.Format(time.RFC3339)).
			ShowDeleted(query.IncludeCancelled).
			SingleEvents(true).
			MaxResults(calendarPageSize).
			Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		var resp *calendar.Events
		if err := a.call(ctx, "events.list", func() error {
			var err error
			resp, err = req.Do()
			return err
		}); err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			if len(result.Events) >= maxItems {
				result.Truncated = true
				break
			}
			result.Events = append(result.Events, convertEvent(item))
		}
		if result.Truncated || resp.NextPageToken == "" {
			break
		}
		if len(result.Events) >= maxItems {
			result.Truncated = true
			break
		}
		pageToken = resp.NextPageToken
	}

	if result.Truncated {
		logger.Warn("[GoogleCalendarAdapter.ListEvents] Listing of %s truncated at %d events", calendarID, maxItems)
	}
	return result, nil
}

// CreateEvent inserts an event and returns its id. Attendees are never notified.
func (a *GoogleCalendarAdapter) CreateEvent(ctx context.Context, accessToken, calendarID string, draft domain.RemoteEventDraft) (string, error) {
	svc, err := a.getService(ctx, accessToken)
	if err != nil {
		return "", err
	}

	var created *calendar.Event
	err = a.call(ctx, "events.insert", func() error {
		var err error
		created, err = svc.Events.Insert(calendarID, toGoogleEvent(draft)).
			SendUpdates("none").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// UpdateEvent patches summary, description, location and times.
func (a *GoogleCalendarAdapter) UpdateEvent(ctx context.Context, accessToken, calendarID, remoteEventID string, draft domain.RemoteEventDraft) error {
	svc, err := a.getService(ctx, accessToken)
	if err != nil {
		return err
	}

	return a.call(ctx, "events.patch", func() error {
		_, err := svc.Events.Patch(calendarID, remoteEventID, toGoogleEvent(draft)).
			SendUpdates("none").
			Context(ctx).Do()
		return err
	})
}

// DeleteEvent deletes an event; an already deleted event is success.
func (a *GoogleCalendarAdapter) DeleteEvent(ctx context.Context, accessToken, calendarID, remoteEventID string) error {
	svc, err := a.getService(ctx, accessToken)
	if err != nil {
		return err
	}

	err = a.call(ctx, "events.delete", func() error {
		return svc.Events.Delete(calendarID, remoteEventID).
			SendUpdates("none").
			Context(ctx).Do()
	})
	if apperr.IsCode(err, apperr.CodeNotFound) {
		return nil
	}
	return err
}

// Watch opens a web_hook push channel on the calendar's events.
func (a *GoogleCalendarAdapter) Watch(ctx context.Context, accessToken, calendarID, channelID, channelToken, address string, ttl time.Duration) (*domain.WatchChannel, error) {
	svc, err := a.getService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	channel := &calendar.Channel{
		Id:         channelID,
		Type:       "web_hook",
		Address:    address,
		Token:      channelToken,
		Expiration: time.Now().Add(ttl).UnixMilli(),
	}

	var resp *calendar.Channel
	err = a.call(ctx, "events.watch", func() error {
		var err error
		resp, err = svc.Events.Watch(calendarID, channel).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	return &domain.WatchChannel{
		ChannelID:  resp.Id,
		ResourceID: resp.ResourceId,
		Expiration: resp.Expiration,
	}, nil
}

// StopWatch stops a push channel; an unknown channel is success.
func (a *GoogleCalendarAdapter) StopWatch(ctx context.Context, accessToken, channelID, resourceID string) error {
	svc, err := a.getService(ctx, accessToken)
	if err != nil {
		return err
	}

	channel := &calendar.Channel{
		Id:         channelID,
		ResourceId: resourceID,
	}
	err = a.call(ctx, "channels.stop", func() error {
		return svc.Channels.Stop(channel).Context(ctx).Do()
	})
	if apperr.IsCode(err, apperr.CodeNotFound) {
		return nil
	}
	return err
}

// CircuitState returns the breaker state for health output.
func (a *GoogleCalendarAdapter) CircuitState() string {
	return a.cb.State().String()
}

// =============================================================================
// Conversion
// =============================================================================

func convertEvent(item *calendar.Event) *domain.RemoteEvent {
	e := &domain.RemoteEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Status:      domain.EventStatus(item.Status),
	}
	if e.Status == "" {
		e.Status = domain.EventStatusConfirmed
	}

	if item.Start != nil {
		if item.Start.DateTime != "" {
			e.Start, _ = time.Parse(time.RFC3339, item.Start.DateTime)
		} else if item.Start.Date != "" {
			e.AllDay = true
			e.StartDate = item.Start.Date
		}
	}
	if item.End != nil {
		if item.End.DateTime != "" {
			e.End, _ = time.Parse(time.RFC3339, item.End.DateTime)
		} else if item.End.Date != "" {
			e.EndDate = item.End.Date
		}
	}
	return e
}

func toGoogleEvent(d domain.RemoteEventDraft) *calendar.Event {
	return &calendar.Event{
		Summary:     d.Summary,
		Description: d.Description,
		Location:    d.Location,
		Start: &calendar.EventDateTime{
			DateTime: d.Start.Format(time.RFC3339),
			TimeZone: d.TimeZone,
		},
		End: &calendar.EventDateTime{
			DateTime: d.End.Format(time.RFC3339),
			TimeZone: d.TimeZone,
		},
	}
}

// =============================================================================
// Errors
// =============================================================================

func googleStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// mapGoogleError: 401 => NeedsReconnect, 404/410 => NotFound, anything else => RemoteTransient.
func mapGoogleError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch code := googleStatus(err); {
	case code == http.StatusUnauthorized:
		return apperr.NeedsReconnect("google rejected the calendar access token").WithError(err)
	case code == http.StatusNotFound || code == http.StatusGone:
		return apperr.NotFound("remote calendar resource").WithError(err)
	case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
		var apiErr *googleapi.Error
		errors.As(err, &apiErr)
		logger.WithField("operation", operation).
			WithField("status", code).
			Warn("[GoogleCalendarAdapter] Request rejected: %s", apiErr.Body)
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.RemoteTransient(operation, err).WithDetail("circuit", "open")
	}
	return apperr.RemoteTransient(operation, err)
}
