package questions

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/classrooms"
	"github.com/kinderly/liveclass/internal/middleware"
	"github.com/kinderly/liveclass/internal/models"
	"github.com/kinderly/liveclass/internal/spotlight"
	"github.com/kinderly/liveclass/pkg/response"
)

// Store is the question persistence used by the handler (implemented by Repository).
type Store interface {
	Create(ctx context.Context, q *models.Question) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error)
	ListByClassroom(ctx context.Context, classroomID uuid.UUID, approvedOnly bool) ([]models.Question, error)
	Approve(ctx context.Context, id uuid.UUID) error
	MarkAnswered(ctx context.Context, id uuid.UUID) error
	Upvote(ctx context.Context, questionID, userID uuid.UUID) (int, error)
}

// Hub broadcasts question events and knows who is in the live class (implemented by realtime.Hub).
type Hub interface {
	BroadcastToClassroomAndPublish(classroomID uuid.UUID, event string, payload interface{})
	spotlight.Roster
}

// Sessions finds a classroom's running spotlight session (implemented by spotlight.Registry).
type Sessions interface {
	Get(classroomID uuid.UUID) (*spotlight.Session, bool)
}

// CreateRequest is the body for POST /classrooms/:id/questions.
type CreateRequest struct {
	Content string `json:"content" binding:"required,max=1000"`
}

// SpotlightRequest is the optional body for POST /questions/:id/spotlight.
type SpotlightRequest struct {
	DurationSeconds int `json:"duration_seconds" binding:"omitempty,min=1"`
}

// Handler handles question HTTP endpoints.
type Handler struct {
	repo      Store
	teachers  classrooms.TeacherChecker
	hub       Hub
	spotlight Sessions
	logger    *zap.Logger
}

// NewHandler creates a questions handler.
func NewHandler(repo Store, teachers classrooms.TeacherChecker, hub Hub, sessions Sessions, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, teachers: teachers, hub: hub, spotlight: sessions, logger: logger}
}

// ListByClassroom handles GET /classrooms/:id/questions. Students only see approved questions.
func (h *Handler) ListByClassroom(c *gin.Context) {
	classroomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid classroom id")
		return
	}
	teacher, err := h.canManage(c, classroomID)
	if err != nil {
		response.Internal(c, "failed to check classroom access")
		return
	}
	list, err := h.repo.ListByClassroom(c.Request.Context(), classroomID, !teacher)
	if err != nil {
		response.Internal(c, "failed to list questions")
		return
	}
	if list == nil {
		list = []models.Question{}
	}
	response.OK(c, gin.H{"questions": list})
}

// Create handles POST /classrooms/:id/questions (student asks a question).
func (h *Handler) Create(c *gin.Context) {
	classroomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid classroom id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	q := &models.Question{ClassroomID: classroomID, UserID: userID, Content: req.Content}
	if err := h.repo.Create(c.Request.Context(), q); err != nil {
		h.logger.Error("create question failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
		response.Internal(c, "failed to create question")
		return
	}

	h.hub.BroadcastToClassroomAndPublish(classroomID, "ask_question", q)
	response.Created(c, q)
}

// Approve handles PATCH /questions/:id/approve (classroom teachers).
func (h *Handler) Approve(c *gin.Context) {
	q, ok := h.loadManaged(c)
	if !ok {
		return
	}
	if err := h.repo.Approve(c.Request.Context(), q.ID); err != nil {
		response.Internal(c, "failed to approve question")
		return
	}
	q.Approved = true
	h.hub.BroadcastToClassroomAndPublish(q.ClassroomID, "approve_question", q)
	response.OK(c, gin.H{"id": q.ID, "approved": true})
}

// Answer handles PATCH /questions/:id/answer (classroom teachers).
func (h *Handler) Answer(c *gin.Context) {
	q, ok := h.loadManaged(c)
	if !ok {
		return
	}
	if err := h.repo.MarkAnswered(c.Request.Context(), q.ID); err != nil {
		response.Internal(c, "failed to mark question answered")
		return
	}
	h.hub.BroadcastToClassroomAndPublish(q.ClassroomID, "question_answered", map[string]interface{}{
		"id": q.ID, "answered": true,
	})
	response.OK(c, gin.H{"id": q.ID, "answered": true})
}

// Upvote handles POST /questions/:id/upvote (one vote per user).
func (h *Handler) Upvote(c *gin.Context) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	q, err := h.repo.GetByID(c.Request.Context(), questionID)
	if err != nil {
		h.notFoundOrInternal(c, err)
		return
	}
	if q.UserID == userID {
		response.BadRequest(c, "cannot upvote your own question")
		return
	}
	votes, err := h.repo.Upvote(c.Request.Context(), questionID, userID)
	if err != nil {
		response.Internal(c, "failed to upvote question")
		return
	}

	h.hub.BroadcastToClassroomAndPublish(q.ClassroomID, "question_votes", map[string]interface{}{
		"id": q.ID, "votes": votes,
	})
	response.OK(c, gin.H{"id": q.ID, "votes": votes})
}

// Spotlight handles POST /questions/:id/spotlight (classroom teachers): the asker joins the spotlight with kind question.
func (h *Handler) Spotlight(c *gin.Context) {
	q, ok := h.loadManaged(c)
	if !ok {
		return
	}
	var req SpotlightRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	s, running := h.spotlight.Get(q.ClassroomID)
	if !running {
		response.Conflict(c, "spotlight session not running")
		return
	}
	if !h.hub.HasParticipant(q.ClassroomID, q.UserID) {
		response.BadRequest(c, "asker is not in the live class")
		return
	}
	entry, err := s.Add(q.UserID, spotlight.KindQuestion, q.Content, req.DurationSeconds, "")
	switch {
	case err == nil:
	case errors.Is(err, spotlight.ErrDuplicateEntry), errors.Is(err, spotlight.ErrCapacityExceeded), errors.Is(err, spotlight.ErrSessionStopped):
		response.Conflict(c, err.Error())
		return
	default:
		h.logger.Error("spotlight question failed", zap.Error(err), zap.String("question_id", q.ID.String()))
		response.Internal(c, "failed to spotlight question")
		return
	}
	response.Created(c, gin.H{"question_id": q.ID, "entry": entry})
}

func (h *Handler) canManage(c *gin.Context, classroomID uuid.UUID) (bool, error) {
	if role, _ := c.Get(middleware.ContextUserRole); role == string(models.RoleAdmin) {
		return true, nil
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	return h.teachers.IsTeacher(c.Request.Context(), classroomID, userID)
}

func (h *Handler) loadManaged(c *gin.Context) (*models.Question, bool) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return nil, false
	}
	q, err := h.repo.GetByID(c.Request.Context(), questionID)
	if err != nil {
		h.notFoundOrInternal(c, err)
		return nil, false
	}
	ok, err := h.canManage(c, q.ClassroomID)
	if err != nil {
		response.Internal(c, "failed to check classroom access")
		return nil, false
	}
	if !ok {
		response.Forbidden(c, "only the classroom's teachers can do this")
		return nil, false
	}
	return q, true
}

func (h *Handler) notFoundOrInternal(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "question not found")
		return
	}
	h.logger.Error("load question failed", zap.Error(err))
	response.Internal(c, "failed to load question")
}
