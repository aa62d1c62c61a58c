package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/classrooms"
	"github.com/kinderly/liveclass/internal/models"
	"github.com/kinderly/liveclass/pkg/response"
)

// LogLister reads session logs and class sessions (implemented by Repository).
type LogLister interface {
	ListLogs(ctx context.Context, classroomID uuid.UUID) ([]LogRow, error)
	ListSessions(ctx context.Context, classroomID uuid.UUID) ([]models.ClassSession, error)
}

// ClassroomGetter loads a classroom (implemented by classrooms.Repository).
type ClassroomGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Classroom, error)
}

// Handler serves attendance reports.
type Handler struct {
	logs       LogLister
	classrooms ClassroomGetter
	policy     Policy
	logger     *zap.Logger
	now        func() time.Time
}

// NewHandler creates an attendance handler.
func NewHandler(logs LogLister, classrooms ClassroomGetter, policy Policy, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logs: logs, classrooms: classrooms, policy: policy, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Report handles GET /classrooms/:id/attendance (classroom teachers).
// The class window runs from starts_at to ends_at, or to now while the class has no end.
func (h *Handler) Report(c *gin.Context) {
	id := c.MustGet(classrooms.ContextClassroomID).(uuid.UUID)
	cl, err := h.classrooms.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, classrooms.ErrNotFound) {
			response.NotFound(c, "classroom not found")
			return
		}
		h.logger.Error("load classroom failed", zap.Error(err), zap.String("classroom_id", id.String()))
		response.Internal(c, "failed to load classroom")
		return
	}
	logs, err := h.logs.ListLogs(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list session logs failed", zap.Error(err), zap.String("classroom_id", id.String()))
		response.Internal(c, "failed to load attendance")
		return
	}
	now := h.now()
	w := Window{Start: cl.StartsAt, End: now}
	if cl.EndsAt != nil && cl.EndsAt.Before(now) {
		w.End = *cl.EndsAt
	}
	records := Compute(w, logs, h.policy, now)
	summary := map[models.AttendanceStatus]int{}
	for _, r := range records {
		summary[r.Status]++
	}
	response.OK(c, gin.H{
		"classroom_id": id,
		"window":       gin.H{"start": w.Start, "end": w.End},
		"records":      records,
		"summary":      summary,
	})
}

// Sessions handles GET /classrooms/:id/sessions (classroom teachers).
func (h *Handler) Sessions(c *gin.Context) {
	id := c.MustGet(classrooms.ContextClassroomID).(uuid.UUID)
	list, err := h.logs.ListSessions(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to list class sessions")
		return
	}
	if list == nil {
		list = []models.ClassSession{}
	}
	response.OK(c, gin.H{"sessions": list})
}
