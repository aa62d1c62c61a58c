package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinderly/liveclass/internal/models"
)

// LogRow is one join/leave log with the user's name and role.
type LogRow struct {
	models.UserSessionLog
	FullName string      `json:"full_name"`
	Role     models.Role `json:"role"`
}

// Repository handles user_session_logs and class_sessions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin inserts a row when a user first connects to a classroom.
func (r *Repository) LogJoin(ctx context.Context, classroomID, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_session_logs (classroom_id, user_id, joined_at) VALUES ($1, $2, $3)`,
		classroomID, userID, at)
	if err != nil {
		return fmt.Errorf("log join: %w", err)
	}
	return nil
}

// LogLeave closes the most recent open log for this user in this classroom.
func (r *Repository) LogLeave(ctx context.Context, classroomID, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE user_session_logs u SET left_at = $3, attend_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3 - u.joined_at))::BIGINT)
		 FROM (SELECT id FROM user_session_logs WHERE classroom_id = $1 AND user_id = $2 AND left_at IS NULL ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE u.id = sub.id`,
		classroomID, userID, at)
	if err != nil {
		return fmt.Errorf("log leave: %w", err)
	}
	return nil
}

// ListLogs returns every join/leave log of a classroom, oldest first.
func (r *Repository) ListLogs(ctx context.Context, classroomID uuid.UUID) ([]LogRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT l.id, l.classroom_id, l.user_id, l.joined_at, l.left_at, l.attend_seconds, l.created_at, u.full_name, u.role
		 FROM user_session_logs l JOIN users u ON u.id = l.user_id
		 WHERE l.classroom_id = $1 ORDER BY l.joined_at`,
		classroomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []LogRow
	for rows.Next() {
		var row LogRow
		if err := rows.Scan(&row.ID, &row.ClassroomID, &row.UserID, &row.JoinedAt, &row.LeftAt, &row.AttendSeconds, &row.CreatedAt, &row.FullName, &row.Role); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

const sessionColumns = `id, classroom_id, started_at, ended_at, peak_attendees, spotlight_events, created_at, updated_at`

func scanSession(row pgx.Row) (*models.ClassSession, error) {
	var s models.ClassSession
	err := row.Scan(&s.ID, &s.ClassroomID, &s.StartedAt, &s.EndedAt, &s.PeakAttendees, &s.SpotlightEvents, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetActiveSession returns the open class session of a classroom, or nil if there is none.
func (r *Repository) GetActiveSession(ctx context.Context, classroomID uuid.UUID) (*models.ClassSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM class_sessions WHERE classroom_id = $1 AND ended_at IS NULL ORDER BY started_at DESC LIMIT 1`,
		classroomID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// GetOrCreateActiveSession returns the open class session of a classroom, creating one if none exists.
func (r *Repository) GetOrCreateActiveSession(ctx context.Context, classroomID uuid.UUID) (*models.ClassSession, error) {
	s, err := r.GetActiveSession(ctx, classroomID)
	if err != nil || s != nil {
		return s, err
	}
	return scanSession(r.pool.QueryRow(ctx,
		`INSERT INTO class_sessions (id, classroom_id, started_at) VALUES (gen_random_uuid(), $1, NOW()) RETURNING `+sessionColumns,
		classroomID))
}

// UpdatePeak raises peak_attendees to peak if it is higher.
func (r *Repository) UpdatePeak(ctx context.Context, sessionID uuid.UUID, peak int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE class_sessions SET peak_attendees = $1, updated_at = NOW() WHERE id = $2 AND $1 > peak_attendees`,
		peak, sessionID)
	return err
}

// IncrementSpotlightEvents counts one spotlight change in the session.
func (r *Repository) IncrementSpotlightEvents(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE class_sessions SET spotlight_events = spotlight_events + 1, updated_at = NOW() WHERE id = $1`,
		sessionID)
	return err
}

// EndSession sets ended_at for a session.
func (r *Repository) EndSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE class_sessions SET ended_at = NOW(), updated_at = NOW() WHERE id = $1`, sessionID)
	return err
}

// ListSessions returns the class sessions of a classroom, newest first.
func (r *Repository) ListSessions(ctx context.Context, classroomID uuid.UUID) ([]models.ClassSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM class_sessions WHERE classroom_id = $1 ORDER BY started_at DESC`,
		classroomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ClassSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}
