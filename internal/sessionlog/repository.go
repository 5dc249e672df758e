// Package sessionlog persists per-viewer attendance of live sessions.
package sessionlog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hostelcast/livesession/internal/models"
)

// AttendeeRow is one viewer's attendance of a session.
type AttendeeRow struct {
	ViewerID     string     `json:"viewer_id"`
	ViewerName   string     `json:"viewer_name"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
	LeaveReason  *string    `json:"leave_reason,omitempty"`
	WatchSeconds int64      `json:"watch_seconds"`
}

// Totals aggregates a session's attendance.
type Totals struct {
	Attendees         int   `json:"attendees"`
	TotalWatchSeconds int64 `json:"total_watch_seconds"`
}

// Repository handles session_attendance.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordJoin inserts the attendance row of a viewer.
func (r *Repository) RecordJoin(ctx context.Context, sessionID string, v models.Viewer) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_attendance (session_id, viewer_id, viewer_name, joined_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, viewer_id) DO NOTHING`,
		sessionID, v.ID, v.Name, v.JoinedAt)
	return err
}

// RecordLeave closes the attendance row of a viewer. Rows already closed are left alone.
func (r *Repository) RecordLeave(ctx context.Context, sessionID string, v models.Viewer, reason string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE session_attendance
		 SET left_at = $3, leave_reason = $4,
		     watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3 - joined_at))::BIGINT)
		 WHERE session_id = $1 AND viewer_id = $2 AND left_at IS NULL`,
		sessionID, v.ID, at, reason)
	return err
}

// ListBySession returns a session's attendance, most recent join first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]AttendeeRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT viewer_id, viewer_name, joined_at, left_at, leave_reason, watch_seconds
		 FROM session_attendance WHERE session_id = $1 ORDER BY joined_at DESC, id DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []AttendeeRow{}
	for rows.Next() {
		var row AttendeeRow
		if err := rows.Scan(&row.ViewerID, &row.ViewerName, &row.JoinedAt, &row.LeftAt, &row.LeaveReason, &row.WatchSeconds); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

// Totals returns the attendee count and the watch time of closed rows.
func (r *Repository) Totals(ctx context.Context, sessionID string) (*Totals, error) {
	var t Totals
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(watch_seconds), 0) FROM session_attendance WHERE session_id = $1`,
		sessionID).Scan(&t.Attendees, &t.TotalWatchSeconds)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
