package questions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinderly/liveclass/internal/models"
)

// ErrNotFound is returned when a question does not exist.
var ErrNotFound = errors.New("question not found")

// Repository handles question persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a questions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const questionColumns = `q.id, q.classroom_id, q.user_id, q.content, q.approved, q.answered,
	(SELECT COUNT(*) FROM question_votes v WHERE v.question_id = q.id), q.created_at`

func scanQuestion(row pgx.Row) (*models.Question, error) {
	var q models.Question
	err := row.Scan(&q.ID, &q.ClassroomID, &q.UserID, &q.Content, &q.Approved, &q.Answered, &q.Votes, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Create inserts a new question.
func (r *Repository) Create(ctx context.Context, q *models.Question) error {
	const query = `INSERT INTO questions (id, classroom_id, user_id, content, approved, answered)
		VALUES (gen_random_uuid(), $1, $2, $3, FALSE, FALSE)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query, q.ClassroomID, q.UserID, q.Content).
		Scan(&q.ID, &q.CreatedAt)
}

// GetByID returns a question by ID with its vote count.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	return scanQuestion(r.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions q WHERE q.id = $1`, id))
}

// ListByClassroom returns the questions of a classroom, most voted first.
func (r *Repository) ListByClassroom(ctx context.Context, classroomID uuid.UUID, approvedOnly bool) ([]models.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions q WHERE q.classroom_id = $1`
	if approvedOnly {
		query += ` AND q.approved`
	}
	query += ` ORDER BY 7 DESC, q.created_at`
	rows, err := r.pool.Query(ctx, query, classroomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *q)
	}
	return list, rows.Err()
}

// Approve sets question approved to true.
func (r *Repository) Approve(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE questions SET approved = TRUE WHERE id = $1`, id)
	return err
}

// MarkAnswered sets question answered to true.
func (r *Repository) MarkAnswered(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE questions SET answered = TRUE WHERE id = $1`, id)
	return err
}

// Upvote records one vote per user and returns the new vote count.
func (r *Repository) Upvote(ctx context.Context, questionID, userID uuid.UUID) (int, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO question_votes (question_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		questionID, userID)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM question_votes WHERE question_id = $1`, questionID).Scan(&n)
	return n, err
}
