package analytics

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Aggregates are the raw engagement counts of one classroom.
type Aggregates struct {
	Students          int   // distinct students with a join log
	AttendSeconds     int64 // summed over closed student logs
	PeakAttendees     int
	SpotlightEvents   int
	Sessions          int
	PollParticipants  int // distinct students who answered any poll
	Polls             int
	Questions         int
	AnsweredQuestions int
}

// Repository runs the aggregate queries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an analytics repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Aggregates loads every count for the classroom in one round trip.
func (r *Repository) Aggregates(ctx context.Context, classroomID uuid.UUID) (Aggregates, error) {
	const q = `SELECT
		(SELECT COUNT(DISTINCT l.user_id) FROM user_session_logs l JOIN users u ON u.id = l.user_id
		  WHERE l.classroom_id = $1 AND u.role = 'student'),
		(SELECT COALESCE(SUM(l.attend_seconds), 0) FROM user_session_logs l JOIN users u ON u.id = l.user_id
		  WHERE l.classroom_id = $1 AND u.role = 'student' AND l.left_at IS NOT NULL),
		(SELECT COALESCE(MAX(peak_attendees), 0) FROM class_sessions WHERE classroom_id = $1),
		(SELECT COALESCE(SUM(spotlight_events), 0) FROM class_sessions WHERE classroom_id = $1),
		(SELECT COUNT(*) FROM class_sessions WHERE classroom_id = $1),
		(SELECT COUNT(DISTINCT pa.user_id) FROM poll_answers pa JOIN polls p ON p.id = pa.poll_id WHERE p.classroom_id = $1),
		(SELECT COUNT(*) FROM polls WHERE classroom_id = $1),
		(SELECT COUNT(*) FROM questions WHERE classroom_id = $1),
		(SELECT COUNT(*) FROM questions WHERE classroom_id = $1 AND answered)`
	var a Aggregates
	err := r.pool.QueryRow(ctx, q, classroomID).Scan(&a.Students, &a.AttendSeconds, &a.PeakAttendees, &a.SpotlightEvents,
		&a.Sessions, &a.PollParticipants, &a.Polls, &a.Questions, &a.AnsweredQuestions)
	if err != nil {
		return Aggregates{}, fmt.Errorf("classroom aggregates: %w", err)
	}
	return a, nil
}
