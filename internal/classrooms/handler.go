package classrooms

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/middleware"
	"github.com/kinderly/liveclass/internal/models"
	"github.com/kinderly/liveclass/pkg/response"
)

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// Store is the classroom persistence used by the handler (implemented by Repository).
type Store interface {
	TeacherChecker
	Create(ctx context.Context, c *models.Classroom) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Classroom, error)
	List(ctx context.Context, teacherID *uuid.UUID) ([]models.Classroom, error)
	Update(ctx context.Context, id uuid.UUID, title, subject, description string, grade int, startsAt, endsAt *time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	AddTeacher(ctx context.Context, classroomID, userID uuid.UUID) error
}

// Roster is the live view of who is connected (implemented by realtime.Hub).
type Roster interface {
	AudienceCount(classroomID uuid.UUID) int
	Participants(classroomID uuid.UUID) []models.Participant
	RaisedHands(classroomID uuid.UUID) []models.Participant
}

// CreateRequest is the body for POST /classrooms.
type CreateRequest struct {
	Title        string   `json:"title" binding:"required"`
	Subject      string   `json:"subject" binding:"required"`
	Grade        int      `json:"grade" binding:"min=0,max=12"`
	Description  string   `json:"description"`
	StartsAt     string   `json:"starts_at" binding:"required"`
	EndsAt       *string  `json:"ends_at"`
	CoTeacherIDs []string `json:"co_teacher_ids"`
}

// UpdateRequest is the body for PATCH /classrooms/:id.
type UpdateRequest struct {
	Title       *string `json:"title"`
	Subject     *string `json:"subject"`
	Grade       *int    `json:"grade" binding:"omitempty,min=0,max=12"`
	Description *string `json:"description"`
	StartsAt    *string `json:"starts_at"`
	EndsAt      *string `json:"ends_at"`
}

// AddTeacherRequest is the body for POST /classrooms/:id/teachers.
type AddTeacherRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
}

// Handler handles classroom HTTP endpoints.
type Handler struct {
	repo   Store
	logger *zap.Logger
}

// NewHandler creates a classroom handler.
func NewHandler(repo Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Create handles POST /classrooms (teacher or admin). The caller becomes the classroom's teacher.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	startsAt, err := parseTime(req.StartsAt)
	if err != nil {
		response.BadRequest(c, "invalid starts_at")
		return
	}
	var endsAt *time.Time
	if req.EndsAt != nil {
		t, err := parseTime(*req.EndsAt)
		if err != nil {
			response.BadRequest(c, "invalid ends_at")
			return
		}
		if !t.After(startsAt) {
			response.BadRequest(c, "ends_at must be after starts_at")
			return
		}
		endsAt = &t
	}

	cl := &models.Classroom{
		Title:       req.Title,
		Subject:     req.Subject,
		Grade:       req.Grade,
		Description: req.Description,
		StartsAt:    startsAt,
		EndsAt:      endsAt,
		TeacherID:   userID,
	}
	if err := h.repo.Create(c.Request.Context(), cl); err != nil {
		h.logger.Error("create classroom failed", zap.Error(err))
		response.Internal(c, "failed to create classroom")
		return
	}
	for _, idStr := range req.CoTeacherIDs {
		teacherID, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		if err := h.repo.AddTeacher(c.Request.Context(), cl.ID, teacherID); err != nil {
			h.logger.Warn("add co-teacher failed", zap.Error(err), zap.String("classroom_id", cl.ID.String()))
		}
	}
	response.Created(c, cl)
}

// GetByID handles GET /classrooms/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid classroom id")
		return
	}
	cl, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrInternal(c, err)
		return
	}
	response.OK(c, cl)
}

// List handles GET /classrooms. Query ?mine=1 returns only classrooms the caller teaches.
func (h *Handler) List(c *gin.Context) {
	var teacherID *uuid.UUID
	if c.Query("mine") == "1" {
		uid := c.MustGet(middleware.ContextUserID).(uuid.UUID)
		teacherID = &uid
	}
	list, err := h.repo.List(c.Request.Context(), teacherID)
	if err != nil {
		response.Internal(c, "failed to list classrooms")
		return
	}
	response.OK(c, list)
}

// Update handles PATCH /classrooms/:id (classroom teachers, via RequireClassroomTeacher).
func (h *Handler) Update(c *gin.Context) {
	id := c.MustGet(ContextClassroomID).(uuid.UUID)
	cl, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrInternal(c, err)
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	title, subject, desc, grade := cl.Title, cl.Subject, cl.Description, cl.Grade
	if req.Title != nil {
		title = *req.Title
	}
	if req.Subject != nil {
		subject = *req.Subject
	}
	if req.Description != nil {
		desc = *req.Description
	}
	if req.Grade != nil {
		grade = *req.Grade
	}
	var startsAt, endsAt *time.Time
	if req.StartsAt != nil {
		t, err := parseTime(*req.StartsAt)
		if err != nil {
			response.BadRequest(c, "invalid starts_at")
			return
		}
		startsAt = &t
	}
	if req.EndsAt != nil {
		t, err := parseTime(*req.EndsAt)
		if err != nil {
			response.BadRequest(c, "invalid ends_at")
			return
		}
		endsAt = &t
	}
	if err := h.repo.Update(c.Request.Context(), id, title, subject, desc, grade, startsAt, endsAt); err != nil {
		h.notFoundOrInternal(c, err)
		return
	}
	updated, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrInternal(c, err)
		return
	}
	response.OK(c, updated)
}

// Delete handles DELETE /classrooms/:id (classroom teachers).
func (h *Handler) Delete(c *gin.Context) {
	id := c.MustGet(ContextClassroomID).(uuid.UUID)
	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		response.Internal(c, "failed to delete classroom")
		return
	}
	response.NoContent(c)
}

// AddTeacher handles POST /classrooms/:id/teachers (classroom teachers).
func (h *Handler) AddTeacher(c *gin.Context) {
	id := c.MustGet(ContextClassroomID).(uuid.UUID)
	var req AddTeacherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	teacherID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(c, "invalid user_id")
		return
	}
	if err := h.repo.AddTeacher(c.Request.Context(), id, teacherID); err != nil {
		response.Internal(c, "failed to add teacher")
		return
	}
	response.Created(c, gin.H{"classroom_id": id, "user_id": teacherID})
}

// AudienceCount returns a handler with the live connection count of a classroom (from the WebSocket hub).
func (h *Handler) AudienceCount(roster Roster) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid classroom id")
			return
		}
		response.OK(c, gin.H{"classroom_id": id, "count": roster.AudienceCount(id)})
	}
}

// Participants returns a handler listing the live roster. ?hand_raised=1 lists raised hands, longest waiting first.
func (h *Handler) Participants(roster Roster) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid classroom id")
			return
		}
		list := roster.Participants(id)
		if c.Query("hand_raised") == "1" {
			list = roster.RaisedHands(id)
		}
		if list == nil {
			list = []models.Participant{}
		}
		response.OK(c, gin.H{"classroom_id": id, "participants": list})
	}
}

func (h *Handler) notFoundOrInternal(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "classroom not found")
		return
	}
	h.logger.Error("classroom query failed", zap.Error(err))
	response.Internal(c, "failed to load classroom")
}
