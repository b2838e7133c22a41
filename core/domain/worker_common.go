package domain

import "errors"

// Validation errors returned by domain constructors. Services map them to
// apperr.ValidationFailed.
var (
	ErrMissingStart         = errors.New("start time is required")
	ErrMissingEnd           = errors.New("end time is required")
	ErrEndBeforeStart       = errors.New("end time is before start time")
	ErrMissingDueDate       = errors.New("task has no due date")
	ErrMissingTitle         = errors.New("title is required")
	ErrInvalidAllDayDate    = errors.New("invalid all-day date")
	ErrInvalidSyncDirection = errors.New("sync_direction must be to_remote, from_remote or both")
	ErrInvalidTimeZone      = errors.New("unknown time zone")
	ErrInvalidCalendarID    = errors.New("calendar_id must not be empty")
	ErrInvalidFollowUpKind  = errors.New("unknown follow-up kind")
	ErrMissingUserID        = errors.New("user_id is required")
	ErrMissingRemoteEventID = errors.New("remote_event_id is required")
	ErrMissingLocalRef      = errors.New("entity_type (event|task) and local_id are required")
)

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences s, returning "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
