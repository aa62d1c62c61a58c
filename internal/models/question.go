package models

import (
	"time"

	"github.com/google/uuid"
)

// Question represents a student question in a classroom.
type Question struct {
	ID          uuid.UUID `json:"id"`
	ClassroomID uuid.UUID `json:"classroom_id"`
	UserID      uuid.UUID `json:"user_id"`
	Content     string    `json:"content"`
	Approved    bool      `json:"approved"`
	Answered    bool      `json:"answered"`
	Votes       int       `json:"votes"`
	CreatedAt   time.Time `json:"created_at"`
}
