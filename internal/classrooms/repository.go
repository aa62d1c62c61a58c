package classrooms

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

// ErrNotFound is returned when a classroom does not exist.
var ErrNotFound = errors.New("classroom not found")

// Repository handles classroom persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a classroom repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const classroomColumns = `id, title, subject, grade, description, starts_at, ends_at, teacher_id, created_at, updated_at`

func scanClassroom(row pgx.Row) (*models.Classroom, error) {
	var c models.Classroom
	err := row.Scan(&c.ID, &c.Title, &c.Subject, &c.Grade, &c.Description, &c.StartsAt, &c.EndsAt, &c.TeacherID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new classroom.
func (r *Repository) Create(ctx context.Context, c *models.Classroom) error {
	const q = `INSERT INTO classrooms (id, title, subject, grade, description, starts_at, ends_at, teacher_id)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	if err := r.pool.QueryRow(ctx, q, c.Title, c.Subject, c.Grade, c.Description, c.StartsAt, c.EndsAt, c.TeacherID).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return fmt.Errorf("insert classroom: %w", err)
	}
	return nil
}

// GetByID returns a classroom by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Classroom, error) {
	return scanClassroom(r.pool.QueryRow(ctx, `SELECT `+classroomColumns+` FROM classrooms WHERE id = $1`, id))
}

// List returns classrooms, optionally only those taught (or co-taught) by teacherID.
func (r *Repository) List(ctx context.Context, teacherID *uuid.UUID) ([]models.Classroom, error) {
	q := `SELECT ` + classroomColumns + ` FROM classrooms`
	var args []interface{}
	if teacherID != nil {
		q += ` WHERE teacher_id = $1 OR id IN (SELECT classroom_id FROM classroom_teachers WHERE user_id = $1)`
		args = append(args, *teacherID)
	}
	rows, err := r.pool.Query(ctx, q+` ORDER BY starts_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Classroom
	for rows.Next() {
		c, err := scanClassroom(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// Update updates classroom fields; nil times keep the stored value.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, title, subject, description string, grade int, startsAt, endsAt *time.Time) error {
	const q = `UPDATE classrooms SET title = $1, subject = $2, description = $3, grade = $4,
		starts_at = COALESCE($5, starts_at), ends_at = COALESCE($6, ends_at), updated_at = NOW() WHERE id = $7`
	tag, err := r.pool.Exec(ctx, q, title, subject, description, grade, startsAt, endsAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a classroom by ID.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM classrooms WHERE id = $1`, id)
	return err
}

// AddTeacher adds a co-teacher to a classroom.
func (r *Repository) AddTeacher(ctx context.Context, classroomID, userID uuid.UUID) error {
	const q = `INSERT INTO classroom_teachers (classroom_id, user_id) VALUES ($1, $2)
		ON CONFLICT (classroom_id, user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, classroomID, userID)
	return err
}

// IsTeacher returns true if the user owns the classroom or co-teaches it.
func (r *Repository) IsTeacher(ctx context.Context, classroomID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM classrooms WHERE id = $1 AND teacher_id = $2
		UNION ALL
		SELECT 1 FROM classroom_teachers WHERE classroom_id = $1 AND user_id = $2)`
	var ok bool
	if err := r.pool.QueryRow(ctx, q, classroomID, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
