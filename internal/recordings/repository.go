package recordings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinderly/liveclass/internal/models"
)

// ErrNotFound is returned when a recording does not exist.
var ErrNotFound = errors.New("recording not found")

const recordingColumns = `id, classroom_id, COALESCE(provider_recording_id,''), COALESCE(original_url,''), COALESCE(s3_url,''),
	COALESCE(s3_key,''), duration, file_size, status, created_at, updated_at`

// Repository handles recording persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.ClassroomID, &rec.ProviderRecordingID, &rec.OriginalURL, &rec.S3URL,
		&rec.S3Key, &rec.Duration, &rec.FileSize, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Create inserts a new recording.
func (r *Repository) Create(ctx context.Context, rec *models.Recording) error {
	const q = `INSERT INTO recordings (id, classroom_id, provider_recording_id, original_url, s3_url, s3_key, duration, file_size, status)
		VALUES (gen_random_uuid(), $1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), $6, $7, $8)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, rec.ClassroomID, rec.ProviderRecordingID, rec.OriginalURL, rec.S3URL, rec.S3Key,
		rec.Duration, rec.FileSize, rec.Status).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

// GetByID returns a recording by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	return scanRecording(r.pool.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = $1`, id))
}

// GetByProviderID returns a recording by provider_recording_id.
func (r *Repository) GetByProviderID(ctx context.Context, providerID string) (*models.Recording, error) {
	return scanRecording(r.pool.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE provider_recording_id = $1`, providerID))
}

// ListByClassroom returns a classroom's recordings, newest first.
func (r *Repository) ListByClassroom(ctx context.Context, classroomID uuid.UUID) ([]models.Recording, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE classroom_id = $1 ORDER BY created_at DESC`, classroomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

// FindByClassroomStatus returns the newest recording of the classroom in status, or nil.
func (r *Repository) FindByClassroomStatus(ctx context.Context, classroomID uuid.UUID, status string) (*models.Recording, error) {
	rec, err := scanRecording(r.pool.QueryRow(ctx, `SELECT `+recordingColumns+`
		FROM recordings WHERE classroom_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1`, classroomID, status))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// CreateFromClassStart creates a recording row in status recording.
func (r *Repository) CreateFromClassStart(ctx context.Context, classroomID uuid.UUID, providerRecordingID string) (*models.Recording, error) {
	rec := &models.Recording{
		ClassroomID:         classroomID,
		ProviderRecordingID: providerRecordingID,
		Status:              models.RecordingStatusRecording,
	}
	if err := r.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateStatus sets recording status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `UPDATE recordings SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	return err
}

// MarkProcessing records the local duration of a stopped in-app recording.
func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID, durationSec int) error {
	const q = `UPDATE recordings SET status = $1, duration = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, models.RecordingStatusProcessing, durationSec, id)
	return err
}

// UpdateS3Result stores the S3 location and completes the recording. A zero duration keeps the stored one.
func (r *Repository) UpdateS3Result(ctx context.Context, id uuid.UUID, s3URL, s3Key string, fileSize int64, duration int) error {
	const q = `UPDATE recordings SET s3_url = $1, s3_key = $2, file_size = $3,
		duration = CASE WHEN $4 > 0 THEN $4 ELSE duration END, status = $5, updated_at = NOW() WHERE id = $6`
	_, err := r.pool.Exec(ctx, q, s3URL, s3Key, fileSize, duration, models.RecordingStatusCompleted, id)
	return err
}

// UpdateOriginalURL sets original_url from a provider webhook and moves the recording to processing.
func (r *Repository) UpdateOriginalURL(ctx context.Context, id uuid.UUID, originalURL string) error {
	const q = `UPDATE recordings SET original_url = $1, status = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, originalURL, models.RecordingStatusProcessing, id)
	return err
}

// Delete removes a recording row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
