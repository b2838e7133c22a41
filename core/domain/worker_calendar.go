package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventStatusConfirmed EventStatus = "confirmed"
	EventStatusTentative EventStatus = "tentative"
	EventStatusCancelled EventStatus = "cancelled"
)

// All-day remote events are imported as a working-hours block on their start date.
const (
	AllDayStartHour = 9
	AllDayEndHour   = 18
)

// TaskDuration is the length of the remote block a task is projected to.
const TaskDuration = time.Hour

const untitled = "(sin título)"

// LocalEvent is a row of calendar_events.
type LocalEvent struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Title         string    `json:"title"`
	Description   *string   `json:"description,omitempty"`
	Location      *string   `json:"location,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	RemoteEventID *string   `json:"remote_event_id,omitempty"`
	IsSynced      bool      `json:"is_synced"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LocalTask is a row of tasks. Only tasks with a due date are projected remotely.
type LocalTask struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	Title         string     `json:"title"`
	Description   *string    `json:"description,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	RemoteEventID *string    `json:"remote_event_id,omitempty"`
	IsSynced      bool       `json:"is_synced"`
}

// RemoteEvent is a Google Calendar event as returned by a list call.
type RemoteEvent struct {
	ID          string
	Summary     string
	Description string
	Location    string
	// Start/End are set for timed events.
	Start time.Time
	End   time.Time
	// AllDay events carry StartDate/EndDate as YYYY-MM-DD instead.
	AllDay    bool
	StartDate string
	EndDate   string
	Status    EventStatus
}

func (e *RemoteEvent) IsCancelled() bool {
	return e.Status == EventStatusCancelled
}

// RemoteEventDraft is what the engine sends on create or update.
type RemoteEventDraft struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	TimeZone    string
}

// DraftFromEvent validates a push candidate and maps it to a remote draft.
func DraftFromEvent(e *LocalEvent, timeZone string) (RemoteEventDraft, error) {
	if e.StartTime.IsZero() {
		return RemoteEventDraft{}, ErrMissingStart
	}
	if e.EndTime.IsZero() {
		return RemoteEventDraft{}, ErrMissingEnd
	}
	if e.EndTime.Before(e.StartTime) {
		return RemoteEventDraft{}, ErrEndBeforeStart
	}
	if strings.TrimSpace(e.Title) == "" {
		return RemoteEventDraft{}, ErrMissingTitle
	}
	return RemoteEventDraft{
		Summary:     e.Title,
		Description: StringValue(e.Description),
		Location:    StringValue(e.Location),
		Start:       e.StartTime,
		End:         e.EndTime,
		TimeZone:    timeZone,
	}, nil
}

// DraftFromTask projects a task to [due, due+1h] with the task prefix on the summary.
func DraftFromTask(t *LocalTask, prefix, timeZone string) (RemoteEventDraft, error) {
	if t.DueDate == nil || t.DueDate.IsZero() {
		return RemoteEventDraft{}, ErrMissingDueDate
	}
	if strings.TrimSpace(t.Title) == "" {
		return RemoteEventDraft{}, ErrMissingTitle
	}
	return RemoteEventDraft{
		Summary:     prefix + t.Title,
		Description: StringValue(t.Description),
		Start:       *t.DueDate,
		End:         t.DueDate.Add(TaskDuration),
		TimeZone:    timeZone,
	}, nil
}

// IsTaskProjection reports whether a remote summary was written by DraftFromTask.
func IsTaskProjection(summary, prefix string) bool {
	return prefix != "" && strings.HasPrefix(summary, prefix)
}

// AllDayWindow converts a YYYY-MM-DD date to 09:00-18:00 on that day in loc.
func AllDayWindow(date string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidAllDayDate
	}
	start := time.Date(d.Year(), d.Month(), d.Day(), AllDayStartHour, 0, 0, 0, loc)
	end := time.Date(d.Year(), d.Month(), d.Day(), AllDayEndHour, 0, 0, 0, loc)
	return start, end, nil
}

// LocalEventFromRemote builds the local row imported by the pull pass.
func LocalEventFromRemote(userID uuid.UUID, re *RemoteEvent, loc *time.Location) (*LocalEvent, error) {
	start, end := re.Start, re.End
	if re.AllDay {
		var err error
		start, end, err = AllDayWindow(re.StartDate, loc)
		if err != nil {
			return nil, err
		}
	}
	if start.IsZero() {
		return nil, ErrMissingStart
	}
	if end.IsZero() || end.Before(start) {
		end = start
	}

	title := strings.TrimSpace(re.Summary)
	if title == "" {
		title = untitled
	}
	remoteID := re.ID

	return &LocalEvent{
		ID:            uuid.New(),
		UserID:        userID,
		Title:         title,
		Description:   StringPtr(re.Description),
		Location:      StringPtr(re.Location),
		StartTime:     start,
		EndTime:       end,
		RemoteEventID: &remoteID,
		IsSynced:      true,
	}, nil
}

// SyncWindow is the bounded range a single list call covers.
type SyncWindow struct {
	TimeMin time.Time
	TimeMax time.Time
}

// NewSyncWindow returns [now-lookback, now+lookahead].
func NewSyncWindow(now time.Time, lookback, lookahead time.Duration) SyncWindow {
	return SyncWindow{TimeMin: now.Add(-lookback), TimeMax: now.Add(lookahead)}
}

// Inset shrinks the window by d on both ends.
func (w SyncWindow) Inset(d time.Duration) SyncWindow {
	return SyncWindow{TimeMin: w.TimeMin.Add(d), TimeMax: w.TimeMax.Add(-d)}
}

// Overlaps reports whether [start, end) intersects the window. A zero end is
// treated as an instant at start.
func (w SyncWindow) Overlaps(start, end time.Time) bool {
	if end.IsZero() || end.Before(start) {
		end = start
	}
	if end.Equal(start) {
		return !start.Before(w.TimeMin) && start.Before(w.TimeMax)
	}
	return start.Before(w.TimeMax) && end.After(w.TimeMin)
}
