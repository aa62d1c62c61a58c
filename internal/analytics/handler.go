package analytics

import (
	"context"
	"math"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/classrooms"
	"github.com/kinderly/liveclass/pkg/response"
)

// Source loads classroom aggregates (implemented by Repository).
type Source interface {
	Aggregates(ctx context.Context, classroomID uuid.UUID) (Aggregates, error)
}

// Handler handles GET /classrooms/:id/analytics.
type Handler struct {
	source Source
	logger *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(source Source, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{source: source, logger: logger}
}

// SummaryResponse is the engagement summary of one classroom.
type SummaryResponse struct {
	StudentsAttended         int     `json:"students_attended"`
	PeakAttendees            int     `json:"peak_attendees"`
	AvgAttendSeconds         int64   `json:"avg_attend_seconds"`
	Sessions                 int     `json:"sessions"`
	SpotlightEvents          int     `json:"spotlight_events"`
	Polls                    int     `json:"polls"`
	PollParticipationPercent float64 `json:"poll_participation_percent"`
	QuestionsCount           int     `json:"questions_count"`
	QuestionsAnswered        int     `json:"questions_answered"`
}

// Summarize derives averages and percentages from raw counts.
func Summarize(a Aggregates) SummaryResponse {
	out := SummaryResponse{
		StudentsAttended:  a.Students,
		PeakAttendees:     a.PeakAttendees,
		Sessions:          a.Sessions,
		SpotlightEvents:   a.SpotlightEvents,
		Polls:             a.Polls,
		QuestionsCount:    a.Questions,
		QuestionsAnswered: a.AnsweredQuestions,
	}
	if a.Students > 0 {
		out.AvgAttendSeconds = a.AttendSeconds / int64(a.Students)
		pct := float64(a.PollParticipants) / float64(a.Students) * 100
		out.PollParticipationPercent = math.Round(math.Min(pct, 100)*10) / 10
	}
	return out
}

// GetByClassroom handles GET /classrooms/:id/analytics. Teacher access is enforced by route middleware.
func (h *Handler) GetByClassroom(c *gin.Context) {
	id := c.MustGet(classrooms.ContextClassroomID).(uuid.UUID)
	agg, err := h.source.Aggregates(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("load classroom analytics failed", zap.Error(err), zap.String("classroom_id", id.String()))
		response.Internal(c, "failed to load analytics")
		return
	}
	response.OK(c, Summarize(agg))
}
