package models

import (
	"time"

	"github.com/google/uuid"
)

// Poll represents a multiple-choice poll in a classroom. A poll with CorrectOption set is a quiz.
type Poll struct {
	ID            uuid.UUID `json:"id"`
	ClassroomID   uuid.UUID `json:"classroom_id"`
	Question      string    `json:"question"`
	OptionA       string    `json:"option_a"`
	OptionB       string    `json:"option_b"`
	OptionC       string    `json:"option_c"`
	OptionD       string    `json:"option_d"`
	CorrectOption *string   `json:"correct_option,omitempty"`
	Launched      bool      `json:"launched"`
	Closed        bool      `json:"closed"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsQuiz reports whether the poll has a correct answer.
func (p *Poll) IsQuiz() bool { return p.CorrectOption != nil && *p.CorrectOption != "" }

// PollAnswer represents a student's answer to a poll (A/B/C/D).
type PollAnswer struct {
	PollID     uuid.UUID `json:"poll_id"`
	UserID     uuid.UUID `json:"user_id"`
	Option     string    `json:"option"` // "A", "B", "C", "D"
	AnsweredAt time.Time `json:"answered_at"`
}

// PollOptionResult is the tally of one option.
type PollOptionResult struct {
	Option  string  `json:"option"`
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
	Correct bool    `json:"correct,omitempty"`
}

// PollResults aggregates answers of a poll.
type PollResults struct {
	PollID       uuid.UUID          `json:"poll_id"`
	TotalAnswers int                `json:"total_answers"`
	Options      []PollOptionResult `json:"options"`
	CorrectCount *int               `json:"correct_count,omitempty"`
}
