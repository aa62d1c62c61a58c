package models

import (
	"time"

	"github.com/google/uuid"
)

// Classroom is a scheduled live class.
type Classroom struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Subject     string     `json:"subject"`
	Grade       int        `json:"grade"` // 0 = kindergarten
	Description string     `json:"description"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	TeacherID   uuid.UUID  `json:"teacher_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ClassroomTeacher links a co-teacher to a classroom.
type ClassroomTeacher struct {
	ClassroomID uuid.UUID `json:"classroom_id"`
	UserID      uuid.UUID `json:"user_id"`
	AddedAt     time.Time `json:"added_at"`
}
