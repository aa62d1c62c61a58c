package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantRole is the role of a connected user inside a live class.
type ParticipantRole string

const (
	ParticipantStudent  ParticipantRole = "student"
	ParticipantTeacher  ParticipantRole = "teacher"
	ParticipantObserver ParticipantRole = "observer"
)

// ParticipantRoleFor maps a platform role to the in-class role.
// Admins and co-teachers run the class; parents watch.
func ParticipantRoleFor(r Role) ParticipantRole {
	switch r {
	case RoleTeacher, RoleAdmin:
		return ParticipantTeacher
	case RoleStudent:
		return ParticipantStudent
	default:
		return ParticipantObserver
	}
}

// ConnectionQuality is the client-reported network quality.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityPoor      ConnectionQuality = "poor"
	QualityUnknown   ConnectionQuality = "unknown"
)

// Valid reports whether q is a known quality tag.
func (q ConnectionQuality) Valid() bool {
	switch q {
	case QualityExcellent, QualityGood, QualityPoor, QualityUnknown:
		return true
	}
	return false
}

// Participant is the live roster entry of one user in a classroom.
type Participant struct {
	ID                uuid.UUID         `json:"id"`
	DisplayName       string            `json:"display_name"`
	Role              ParticipantRole   `json:"role"`
	Present           bool              `json:"present"`
	AudioOn           bool              `json:"audio_on"`
	VideoOn           bool              `json:"video_on"`
	HandRaised        bool              `json:"hand_raised"`
	HandRaisedAt      *time.Time        `json:"hand_raised_at,omitempty"`
	ConnectionQuality ConnectionQuality `json:"connection_quality"`
	JoinedAt          time.Time         `json:"joined_at"`
}
