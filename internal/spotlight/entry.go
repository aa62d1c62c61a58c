package spotlight

import (
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Kind describes why a participant is in the spotlight.
type Kind string

const (
	KindPresentation Kind = "presentation"
	KindQuestion     Kind = "question"
	KindAchievement  Kind = "achievement"
	KindAssistance   Kind = "assistance"
	KindManual       Kind = "manual"
)

// Valid reports whether k is a known spotlight kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPresentation, KindQuestion, KindAchievement, KindAssistance, KindManual:
		return true
	}
	return false
}

// Priority is descriptive metadata; promotion order is FIFO regardless of priority.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Entry is one spotlight slot, either active or waiting in the queue.
// QueuePosition is 1-based and only set while Active is false.
type Entry struct {
	ID               uuid.UUID `json:"id"`
	ParticipantID    uuid.UUID `json:"participant_id"`
	Kind             Kind      `json:"kind"`
	Priority         Priority  `json:"priority"`
	DurationSeconds  int       `json:"duration_seconds"`
	RemainingSeconds int       `json:"remaining_seconds"`
	Reason           string    `json:"reason,omitempty"`
	Active           bool      `json:"active"`
	QueuePosition    int       `json:"queue_position,omitempty"`
}

// Snapshot is a point-in-time copy of the store state, safe to hand to other goroutines.
type Snapshot struct {
	Active []Entry `json:"active"`
	Queue  []Entry `json:"queue"`
}

// Config holds the spotlight settings of one classroom.
type Config struct {
	MaxActive        int  `json:"max_active" validate:"min=1"`
	DefaultDuration  int  `json:"default_duration" validate:"min=1"`
	AutoRotate       bool `json:"auto_rotate"`
	RotationInterval int  `json:"rotation_interval" validate:"min=1"`
	QueueEnabled     bool `json:"queue_enabled"`
}

const (
	DefaultMaxActive        = 3
	DefaultDurationSec      = 300
	DefaultRotationInterval = 180
)

// DefaultConfig returns the stock spotlight settings.
func DefaultConfig() Config {
	return Config{
		MaxActive:        DefaultMaxActive,
		DefaultDuration:  DefaultDurationSec,
		AutoRotate:       false,
		RotationInterval: DefaultRotationInterval,
		QueueEnabled:     true,
	}
}

var validate = validator.New()

// Validate checks capacity and durations are positive.
func (c Config) Validate() error {
	return validate.Struct(c)
}

// EventKind names a store mutation.
type EventKind string

const (
	EventAdd    EventKind = "add"
	EventRemove EventKind = "remove"
	EventExtend EventKind = "extend"
	EventRotate EventKind = "rotate"
)

// Event is emitted after a mutation has been applied.
// For rotate, ParticipantID is the displaced participant and Promoted the one that took its slot.
// For remove, Promoted is set when a queued entry moved up into the freed slot.
type Event struct {
	Kind          EventKind `json:"kind"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Entry         *Entry    `json:"entry,omitempty"`
	Promoted      *Entry    `json:"promoted,omitempty"`
	Expired       bool      `json:"expired,omitempty"`
}

// Listener receives store events synchronously.
type Listener func(Event)
