package polls

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinderly/liveclass/internal/models"
)

// ErrNotFound is returned when a poll does not exist.
var ErrNotFound = errors.New("poll not found")

// Repository handles poll persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const pollColumns = `id, classroom_id, question, option_a, option_b, option_c, option_d, correct_option, launched, closed, created_at`

func scanPoll(row pgx.Row) (*models.Poll, error) {
	var p models.Poll
	err := row.Scan(&p.ID, &p.ClassroomID, &p.Question, &p.OptionA, &p.OptionB, &p.OptionC, &p.OptionD, &p.CorrectOption, &p.Launched, &p.Closed, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new poll.
func (r *Repository) Create(ctx context.Context, p *models.Poll) error {
	const query = `INSERT INTO polls (id, classroom_id, question, option_a, option_b, option_c, option_d, correct_option, launched, closed)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, FALSE, FALSE)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query, p.ClassroomID, p.Question, p.OptionA, p.OptionB, p.OptionC, p.OptionD, p.CorrectOption).
		Scan(&p.ID, &p.CreatedAt)
}

// GetByID returns a poll by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	return scanPoll(r.pool.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id))
}

// ListByClassroom returns the polls of a classroom, newest first.
func (r *Repository) ListByClassroom(ctx context.Context, classroomID uuid.UUID) ([]models.Poll, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+pollColumns+` FROM polls WHERE classroom_id = $1 ORDER BY created_at DESC`, classroomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// Launch sets poll launched to true.
func (r *Repository) Launch(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE polls SET launched = TRUE WHERE id = $1`, id)
	return err
}

// Close sets poll closed to true.
func (r *Repository) Close(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE polls SET closed = TRUE WHERE id = $1`, id)
	return err
}

// Answer records a user's poll answer (A/B/C/D). One per user per poll; answering again replaces it.
func (r *Repository) Answer(ctx context.Context, pollID, userID uuid.UUID, option string) error {
	const query = `INSERT INTO poll_answers (poll_id, user_id, option) VALUES ($1, $2, $3)
		ON CONFLICT (poll_id, user_id) DO UPDATE SET option = EXCLUDED.option, answered_at = NOW()`
	_, err := r.pool.Exec(ctx, query, pollID, userID, option)
	return err
}

// CountAnswers returns the number of answers per option.
func (r *Repository) CountAnswers(ctx context.Context, pollID uuid.UUID) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT option, COUNT(*) FROM poll_answers WHERE poll_id = $1 GROUP BY option`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var option string
		var n int
		if err := rows.Scan(&option, &n); err != nil {
			return nil, err
		}
		counts[option] = n
	}
	return counts, rows.Err()
}
