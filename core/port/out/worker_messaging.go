package out

import (
	"context"
	"time"

	"calsync_server/core/domain"
)

// FollowUpProducer enqueues calendar follow-up jobs.
type FollowUpProducer interface {
	PublishCalendarFollowUp(ctx context.Context, job *domain.CalendarFollowUpJob) error
}

// OAuthStateStore holds the CSRF state of pending OAuth flows.
type OAuthStateStore interface {
	Save(ctx context.Context, state, userID string, ttl time.Duration) error
	// Consume returns the user id stored for state and deletes it.
	// ok is false when the state is unknown or expired.
	Consume(ctx context.Context, state string) (userID string, ok bool, err error)
}

// EmailSender delivers transactional email.
type EmailSender interface {
	Send(ctx context.Context, msg domain.EmailMessage) error
}
