package spotlight

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HistoryRow is one row for GET /classrooms/:id/spotlight/history.
type HistoryRow struct {
	ID                    uuid.UUID       `json:"id"`
	ClassroomID           uuid.UUID       `json:"classroom_id"`
	ParticipantID         uuid.UUID       `json:"participant_id"`
	Kind                  EventKind       `json:"kind"`
	Entry                 json.RawMessage `json:"entry,omitempty"`
	PromotedParticipantID *uuid.UUID      `json:"promoted_participant_id,omitempty"`
	Expired               bool            `json:"expired"`
	CreatedAt             time.Time       `json:"created_at"`
}

// Repository stores the spotlight event history.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a spotlight history repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record inserts one event.
func (r *Repository) Record(ctx context.Context, classroomID uuid.UUID, ev Event) error {
	var entry []byte
	if ev.Entry != nil {
		var err error
		if entry, err = json.Marshal(ev.Entry); err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
	}
	var promoted *uuid.UUID
	if ev.Promoted != nil {
		id := ev.Promoted.ParticipantID
		promoted = &id
	}
	const q = `INSERT INTO spotlight_events (id, classroom_id, participant_id, kind, entry, promoted_participant_id, expired)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)`
	if _, err := r.pool.Exec(ctx, q, classroomID, ev.ParticipantID, string(ev.Kind), entry, promoted, ev.Expired); err != nil {
		return fmt.Errorf("insert spotlight event: %w", err)
	}
	return nil
}

// ListByClassroom returns the newest events first, at most limit rows.
func (r *Repository) ListByClassroom(ctx context.Context, classroomID uuid.UUID, limit int) ([]HistoryRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, classroom_id, participant_id, kind, entry, promoted_participant_id, expired, created_at
		 FROM spotlight_events WHERE classroom_id = $1 ORDER BY created_at DESC LIMIT $2`,
		classroomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []HistoryRow
	for rows.Next() {
		var row HistoryRow
		var kind string
		if err := rows.Scan(&row.ID, &row.ClassroomID, &row.ParticipantID, &kind, &row.Entry, &row.PromotedParticipantID, &row.Expired, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.Kind = EventKind(kind)
		list = append(list, row)
	}
	return list, rows.Err()
}
