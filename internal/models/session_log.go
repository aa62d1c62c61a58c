package models

import (
	"time"

	"github.com/google/uuid"
)

// UserSessionLog tracks one join/leave of a user in a live class.
type UserSessionLog struct {
	ID            uuid.UUID  `json:"id"`
	ClassroomID   uuid.UUID  `json:"classroom_id"`
	UserID        uuid.UUID  `json:"user_id"`
	JoinedAt      time.Time  `json:"joined_at"`
	LeftAt        *time.Time `json:"left_at,omitempty"`
	AttendSeconds int64      `json:"attend_seconds"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ClassSession tracks one live run of a classroom (teacher went live until class ended).
type ClassSession struct {
	ID              uuid.UUID  `json:"id"`
	ClassroomID     uuid.UUID  `json:"classroom_id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	PeakAttendees   int        `json:"peak_attendees"`
	SpotlightEvents int        `json:"spotlight_events"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AttendanceStatus is the computed attendance outcome of a student.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceAbsent  AttendanceStatus = "absent"
)

// AttendanceRecord is the attendance of one user for one classroom.
type AttendanceRecord struct {
	UserID        uuid.UUID        `json:"user_id"`
	FullName      string           `json:"full_name,omitempty"`
	Status        AttendanceStatus `json:"status"`
	FirstJoinedAt *time.Time       `json:"first_joined_at,omitempty"`
	AttendSeconds int64            `json:"attend_seconds"`
	Joins         int              `json:"joins"`
}
