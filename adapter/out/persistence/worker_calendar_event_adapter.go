package persistence

import (
	"context"
	"database/sql"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CalendarEventAdapter implements out.CalendarEventRepository using PostgreSQL.
type CalendarEventAdapter struct {
	db *sqlx.DB
}

// NewCalendarEventAdapter creates a new CalendarEventAdapter.
func NewCalendarEventAdapter(db *sqlx.DB) *CalendarEventAdapter {
	return &CalendarEventAdapter{db: db}
}

// calendarEventRow represents a calendar_events row.
type calendarEventRow struct {
	ID            uuid.UUID      `db:"id"`
	UserID        uuid.UUID      `db:"user_id"`
	Title         string         `db:"title"`
	Description   sql.NullString `db:"description"`
	Location      sql.NullString `db:"location"`
	StartTime     time.Time      `db:"start_time"`
	EndTime       time.Time      `db:"end_time"`
	RemoteEventID sql.NullString `db:"remote_event_id"`
	IsSynced      bool           `db:"is_synced"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r *calendarEventRow) toDomain() *domain.LocalEvent {
	return &domain.LocalEvent{
		ID:            r.ID,
		UserID:        r.UserID,
		Title:         r.Title,
		Description:   nullStringPtr(r.Description),
		Location:      nullStringPtr(r.Location),
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		RemoteEventID: nullStringPtr(r.RemoteEventID),
		IsSynced:      r.IsSynced,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

const calendarEventColumns = `id, user_id, title, description, location, start_time, end_time,
	remote_event_id, is_synced, created_at, updated_at`

// ListPushCandidates returns unlinked events starting after now, soonest first.
func (a *CalendarEventAdapter) ListPushCandidates(ctx context.Context, userID uuid.UUID, now time.Time, limit int) ([]*domain.LocalEvent, error) {
	query := `SELECT ` + calendarEventColumns + `
		FROM calendar_events
		WHERE user_id = $1 AND remote_event_id IS NULL AND start_time > $2
		ORDER BY start_time ASC
		LIMIT $3`

	var rows []calendarEventRow
	if err := a.db.SelectContext(ctx, &rows, query, userID, now, limit); err != nil {
		return nil, err
	}
	events := make([]*domain.LocalEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].toDomain()
	}
	return events, nil
}

// SetRemoteLink links an unlinked event. ErrNotFound when the row is gone or already linked.
func (a *CalendarEventAdapter) SetRemoteLink(ctx context.Context, id uuid.UUID, remoteEventID string) error {
	query := `
		UPDATE calendar_events
		SET remote_event_id = $2, is_synced = TRUE, updated_at = NOW()
		WHERE id = $1 AND remote_event_id IS NULL`
	res, err := a.db.ExecContext(ctx, query, id, remoteEventID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (a *CalendarEventAdapter) ClearRemoteLinks(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		UPDATE calendar_events
		SET remote_event_id = NULL, is_synced = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND remote_event_id IS NOT NULL`
	res, err := a.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (a *CalendarEventAdapter) ListLinked(ctx context.Context, userID uuid.UUID) ([]out.LinkedRecord, error) {
	query := `
		SELECT id, remote_event_id, start_time, end_time
		FROM calendar_events
		WHERE user_id = $1 AND remote_event_id IS NOT NULL`

	var rows []struct {
		ID            uuid.UUID `db:"id"`
		RemoteEventID string    `db:"remote_event_id"`
		StartTime     time.Time `db:"start_time"`
		EndTime       time.Time `db:"end_time"`
	}
	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}
	linked := make([]out.LinkedRecord, len(rows))
	for i, r := range rows {
		linked[i] = out.LinkedRecord{ID: r.ID, RemoteEventID: r.RemoteEventID, Start: r.StartTime, End: r.EndTime}
	}
	return linked, nil
}

// Create inserts an imported event; false when the remote id is already linked for the user.
func (a *CalendarEventAdapter) Create(ctx context.Context, e *domain.LocalEvent) (bool, error) {
	query := `
		INSERT INTO calendar_events (
			id, user_id, title, description, location, start_time, end_time,
			remote_event_id, is_synced, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (user_id, remote_event_id) DO NOTHING`

	res, err := a.db.ExecContext(ctx, query,
		e.ID, e.UserID, e.Title, stringPtrArg(e.Description), stringPtrArg(e.Location),
		e.StartTime, e.EndTime, stringPtrArg(e.RemoteEventID), e.IsSynced,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (a *CalendarEventAdapter) GetByID(ctx context.Context, userID, id uuid.UUID) (*domain.LocalEvent, error) {
	var row calendarEventRow
	query := `SELECT ` + calendarEventColumns + ` FROM calendar_events WHERE id = $1 AND user_id = $2`
	if err := a.db.GetContext(ctx, &row, query, id, userID); err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (a *CalendarEventAdapter) Delete(ctx context.Context, userID, id uuid.UUID) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM calendar_events WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}
