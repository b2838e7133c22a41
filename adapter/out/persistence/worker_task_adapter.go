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

// TaskAdapter implements out.TaskRepository. Only the columns the sync needs are touched.
type TaskAdapter struct {
	db *sqlx.DB
}

// NewTaskAdapter creates a new TaskAdapter.
func NewTaskAdapter(db *sqlx.DB) *TaskAdapter {
	return &TaskAdapter{db: db}
}

type taskRow struct {
	ID            uuid.UUID      `db:"id"`
	UserID        uuid.UUID      `db:"user_id"`
	Title         string         `db:"title"`
	Description   sql.NullString `db:"description"`
	DueDate       sql.NullTime   `db:"due_date"`
	RemoteEventID sql.NullString `db:"remote_event_id"`
	IsSynced      bool           `db:"is_synced"`
}

func (r *taskRow) toDomain() *domain.LocalTask {
	return &domain.LocalTask{
		ID:            r.ID,
		UserID:        r.UserID,
		Title:         r.Title,
		Description:   nullStringPtr(r.Description),
		DueDate:       nullTimePtr(r.DueDate),
		RemoteEventID: nullStringPtr(r.RemoteEventID),
		IsSynced:      r.IsSynced,
	}
}

const taskColumns = `id, user_id, title, description, due_date, remote_event_id, is_synced`

// ListPushCandidates returns unlinked tasks due after now.
func (a *TaskAdapter) ListPushCandidates(ctx context.Context, userID uuid.UUID, now time.Time, limit int) ([]*domain.LocalTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE user_id = $1 AND remote_event_id IS NULL AND due_date IS NOT NULL AND due_date > $2
		ORDER BY due_date ASC
		LIMIT $3`

	var rows []taskRow
	if err := a.db.SelectContext(ctx, &rows, query, userID, now, limit); err != nil {
		return nil, err
	}
	tasks := make([]*domain.LocalTask, len(rows))
	for i := range rows {
		tasks[i] = rows[i].toDomain()
	}
	return tasks, nil
}

func (a *TaskAdapter) SetRemoteLink(ctx context.Context, id uuid.UUID, remoteEventID string) error {
	query := `
		UPDATE tasks
		SET remote_event_id = $2, is_synced = TRUE, updated_at = NOW()
		WHERE id = $1 AND remote_event_id IS NULL`
	res, err := a.db.ExecContext(ctx, query, id, remoteEventID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (a *TaskAdapter) ClearRemoteLinks(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		UPDATE tasks
		SET remote_event_id = NULL, is_synced = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND remote_event_id IS NOT NULL`
	res, err := a.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListLinked returns linked tasks projected to [due_date, due_date+1h).
func (a *TaskAdapter) ListLinked(ctx context.Context, userID uuid.UUID) ([]out.LinkedRecord, error) {
	query := `
		SELECT id, remote_event_id, due_date
		FROM tasks
		WHERE user_id = $1 AND remote_event_id IS NOT NULL`

	var rows []struct {
		ID            uuid.UUID    `db:"id"`
		RemoteEventID string       `db:"remote_event_id"`
		DueDate       sql.NullTime `db:"due_date"`
	}
	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}
	linked := make([]out.LinkedRecord, 0, len(rows))
	for _, r := range rows {
		rec := out.LinkedRecord{ID: r.ID, RemoteEventID: r.RemoteEventID}
		if r.DueDate.Valid {
			rec.Start = r.DueDate.Time
			rec.End = r.DueDate.Time.Add(domain.TaskDuration)
		}
		linked = append(linked, rec)
	}
	return linked, nil
}

func (a *TaskAdapter) GetByID(ctx context.Context, userID, id uuid.UUID) (*domain.LocalTask, error) {
	var row taskRow
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND user_id = $2`
	if err := a.db.GetContext(ctx, &row, query, id, userID); err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (a *TaskAdapter) Delete(ctx context.Context, userID, id uuid.UUID) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}
