package domain

import (
	"time"

	"github.com/google/uuid"
)

// SyncDirection controls which passes the reconciliation engine runs.
type SyncDirection string

const (
	SyncDirectionToRemote   SyncDirection = "to_remote"
	SyncDirectionFromRemote SyncDirection = "from_remote"
	SyncDirectionBoth       SyncDirection = "both"
)

func (d SyncDirection) Valid() bool {
	switch d {
	case SyncDirectionToRemote, SyncDirectionFromRemote, SyncDirectionBoth:
		return true
	}
	return false
}

// DefaultCalendarID is Google's alias for the account's main calendar.
const DefaultCalendarID = "primary"

// CalendarIntegration links one user to one Google Calendar.
type CalendarIntegration struct {
	ID                 uuid.UUID `json:"id"`
	UserID             uuid.UUID `json:"user_id"`
	RemoteAccountEmail string    `json:"remote_account_email"`

	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`

	CalendarID    string        `json:"calendar_id"`
	TimeZone      string        `json:"time_zone,omitempty"`
	SyncEvents    bool          `json:"sync_events"`
	SyncTasks     bool          `json:"sync_tasks"`
	SyncDirection SyncDirection `json:"sync_direction"`
	AutoSync      bool          `json:"auto_sync"`
	LastSyncAt    *time.Time    `json:"last_sync_at,omitempty"`

	// Push notification channel
	WebhookChannelID  *string    `json:"webhook_channel_id,omitempty"`
	WebhookResourceID *string    `json:"-"`
	WebhookExpiresAt  *time.Time `json:"webhook_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCalendarIntegration returns an integration with the default preferences.
func NewCalendarIntegration(userID uuid.UUID) *CalendarIntegration {
	return &CalendarIntegration{
		ID:            uuid.New(),
		UserID:        userID,
		CalendarID:    DefaultCalendarID,
		SyncEvents:    true,
		SyncTasks:     true,
		SyncDirection: SyncDirectionBoth,
		AutoSync:      true,
	}
}

// TokenValid reports whether the stored access token is usable for at least leeway.
func (i *CalendarIntegration) TokenValid(now time.Time, leeway time.Duration) bool {
	return i.AccessToken != "" && i.TokenExpiresAt != nil && i.TokenExpiresAt.After(now.Add(leeway))
}

// NeedsReconnect is true when no token can be produced without user interaction.
func (i *CalendarIntegration) NeedsReconnect(now time.Time) bool {
	return !i.TokenValid(now, 0) && i.RefreshToken == ""
}

// Connected is false after a disconnect or when the grant is gone.
func (i *CalendarIntegration) Connected() bool {
	return i.RefreshToken != "" || i.AccessToken != ""
}

func (i *CalendarIntegration) PushesToRemote() bool {
	return i.SyncDirection == SyncDirectionToRemote || i.SyncDirection == SyncDirectionBoth
}

// ReadsRemote is true when remote state flows back locally. Deletion
// reconciliation follows this alone; it is not gated by sync_events.
func (i *CalendarIntegration) ReadsRemote() bool {
	return i.SyncDirection == SyncDirectionFromRemote || i.SyncDirection == SyncDirectionBoth
}

// PullsFromRemote gates importing remote events.
func (i *CalendarIntegration) PullsFromRemote() bool {
	return i.SyncEvents && i.ReadsRemote()
}

// RemoteCalendarID falls back to the primary calendar.
func (i *CalendarIntegration) RemoteCalendarID() string {
	if i.CalendarID == "" {
		return DefaultCalendarID
	}
	return i.CalendarID
}

// Location resolves the integration's time zone, falling back to def.
func (i *CalendarIntegration) Location(def *time.Location) *time.Location {
	if i.TimeZone != "" {
		if loc, err := time.LoadLocation(i.TimeZone); err == nil {
			return loc
		}
	}
	if def != nil {
		return def
	}
	return time.UTC
}

func (i *CalendarIntegration) HasWatch() bool {
	return i.WebhookChannelID != nil && *i.WebhookChannelID != ""
}

// IntegrationPreferences is a partial update of the user-editable fields.
type IntegrationPreferences struct {
	SyncEvents    *bool          `json:"sync_events,omitempty"`
	SyncTasks     *bool          `json:"sync_tasks,omitempty"`
	SyncDirection *SyncDirection `json:"sync_direction,omitempty"`
	AutoSync      *bool          `json:"auto_sync,omitempty"`
	CalendarID    *string        `json:"calendar_id,omitempty"`
	TimeZone      *string        `json:"time_zone,omitempty"`
}

// Validate checks enum and time zone values.
func (p *IntegrationPreferences) Validate() error {
	if p.SyncDirection != nil && !p.SyncDirection.Valid() {
		return ErrInvalidSyncDirection
	}
	if p.TimeZone != nil && *p.TimeZone != "" {
		if _, err := time.LoadLocation(*p.TimeZone); err != nil {
			return ErrInvalidTimeZone
		}
	}
	if p.CalendarID != nil && *p.CalendarID == "" {
		return ErrInvalidCalendarID
	}
	return nil
}

// Apply copies the set fields onto i.
func (p *IntegrationPreferences) Apply(i *CalendarIntegration) {
	if p.SyncEvents != nil {
		i.SyncEvents = *p.SyncEvents
	}
	if p.SyncTasks != nil {
		i.SyncTasks = *p.SyncTasks
	}
	if p.SyncDirection != nil {
		i.SyncDirection = *p.SyncDirection
	}
	if p.AutoSync != nil {
		i.AutoSync = *p.AutoSync
	}
	if p.CalendarID != nil {
		i.CalendarID = *p.CalendarID
	}
	if p.TimeZone != nil {
		i.TimeZone = *p.TimeZone
	}
}
