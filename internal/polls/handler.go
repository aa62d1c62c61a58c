package polls

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/classrooms"
	"github.com/kinderly/liveclass/internal/middleware"
	"github.com/kinderly/liveclass/internal/models"
	"github.com/kinderly/liveclass/pkg/response"
)

// Store is the poll persistence used by the handler (implemented by Repository).
type Store interface {
	Create(ctx context.Context, p *models.Poll) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	ListByClassroom(ctx context.Context, classroomID uuid.UUID) ([]models.Poll, error)
	Launch(ctx context.Context, id uuid.UUID) error
	Close(ctx context.Context, id uuid.UUID) error
	Answer(ctx context.Context, pollID, userID uuid.UUID, option string) error
	CountAnswers(ctx context.Context, pollID uuid.UUID) (map[string]int, error)
}

// Broadcaster is implemented by realtime.Hub.
type Broadcaster interface {
	BroadcastToClassroomAndPublish(classroomID uuid.UUID, event string, payload interface{})
}

// CreateRequest is the body for POST /classrooms/:id/polls. Setting correct_option makes the poll a quiz.
type CreateRequest struct {
	Question      string `json:"question" binding:"required"`
	OptionA       string `json:"option_a" binding:"required"`
	OptionB       string `json:"option_b" binding:"required"`
	OptionC       string `json:"option_c" binding:"required"`
	OptionD       string `json:"option_d" binding:"required"`
	CorrectOption string `json:"correct_option" binding:"omitempty,oneof=A B C D"`
}

// AnswerRequest is the body for POST /polls/:id/answer.
type AnswerRequest struct {
	Option string `json:"option" binding:"required,oneof=A B C D"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	repo     Store
	teachers classrooms.TeacherChecker
	hub      Broadcaster
	logger   *zap.Logger
}

// NewHandler creates a polls handler.
func NewHandler(repo Store, teachers classrooms.TeacherChecker, hub Broadcaster, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, teachers: teachers, hub: hub, logger: logger}
}

// Create handles POST /classrooms/:id/polls (classroom teachers).
func (h *Handler) Create(c *gin.Context) {
	classroomID := c.MustGet(classrooms.ContextClassroomID).(uuid.UUID)
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p := &models.Poll{
		ClassroomID: classroomID,
		Question:    req.Question,
		OptionA:     req.OptionA,
		OptionB:     req.OptionB,
		OptionC:     req.OptionC,
		OptionD:     req.OptionD,
	}
	if req.CorrectOption != "" {
		p.CorrectOption = &req.CorrectOption
	}
	if err := h.repo.Create(c.Request.Context(), p); err != nil {
		h.logger.Error("create poll failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
		response.Internal(c, "failed to create poll")
		return
	}
	response.Created(c, p)
}

// List handles GET /classrooms/:id/polls (classroom teachers).
func (h *Handler) List(c *gin.Context) {
	classroomID := c.MustGet(classrooms.ContextClassroomID).(uuid.UUID)
	list, err := h.repo.ListByClassroom(c.Request.Context(), classroomID)
	if err != nil {
		response.Internal(c, "failed to list polls")
		return
	}
	if list == nil {
		list = []models.Poll{}
	}
	response.OK(c, list)
}

// Launch handles POST /polls/:id/launch (classroom teachers).
func (h *Handler) Launch(c *gin.Context) {
	p, ok := h.loadManaged(c)
	if !ok {
		return
	}
	if p.Closed {
		response.Conflict(c, "poll is closed")
		return
	}
	if err := h.repo.Launch(c.Request.Context(), p.ID); err != nil {
		response.Internal(c, "failed to launch poll")
		return
	}
	h.hub.BroadcastToClassroomAndPublish(p.ClassroomID, "launch_poll", launchPayload(p))
	response.OK(c, gin.H{"id": p.ID, "launched": true})
}

// Close handles POST /polls/:id/close (classroom teachers). The final results, with the correct answer for quizzes, go to the class.
func (h *Handler) Close(c *gin.Context) {
	p, ok := h.loadManaged(c)
	if !ok {
		return
	}
	if err := h.repo.Close(c.Request.Context(), p.ID); err != nil {
		response.Internal(c, "failed to close poll")
		return
	}
	res, err := h.results(c.Request.Context(), p)
	if err != nil {
		h.logger.Warn("poll results failed", zap.Error(err), zap.String("poll_id", p.ID.String()))
		h.hub.BroadcastToClassroomAndPublish(p.ClassroomID, "close_poll", map[string]interface{}{"id": p.ID})
	} else {
		h.hub.BroadcastToClassroomAndPublish(p.ClassroomID, "close_poll", map[string]interface{}{"id": p.ID, "results": res})
	}
	response.OK(c, gin.H{"id": p.ID, "closed": true})
}

// Answer handles POST /polls/:id/answer.
// Live tallies are broadcast for plain polls; quizzes only broadcast how many have answered.
func (h *Handler) Answer(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	p, err := h.repo.GetByID(c.Request.Context(), pollID)
	if err != nil {
		h.notFoundOrInternal(c, err)
		return
	}
	if !p.Launched || p.Closed {
		response.BadRequest(c, "poll is not open for answers")
		return
	}

	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: option must be A, B, C, or D")
		return
	}
	if err := h.repo.Answer(c.Request.Context(), pollID, userID, req.Option); err != nil {
		response.Internal(c, "failed to record answer")
		return
	}

	if res, err := h.results(c.Request.Context(), p); err == nil {
		if p.IsQuiz() {
			h.hub.BroadcastToClassroomAndPublish(p.ClassroomID, "answer_poll", map[string]interface{}{
				"poll_id": pollID, "total_answers": res.TotalAnswers,
			})
		} else {
			h.hub.BroadcastToClassroomAndPublish(p.ClassroomID, "poll_results", res)
		}
	}
	response.OK(c, gin.H{"poll_id": pollID, "option": req.Option})
}

// Results handles GET /polls/:id/results. Teachers see results any time, everyone else once the poll is closed.
func (h *Handler) Results(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	p, err := h.repo.GetByID(c.Request.Context(), pollID)
	if err != nil {
		h.notFoundOrInternal(c, err)
		return
	}
	if !p.Closed {
		ok, err := h.canManage(c, p.ClassroomID)
		if err != nil {
			response.Internal(c, "failed to check classroom access")
			return
		}
		if !ok {
			response.Forbidden(c, "results are available when the poll closes")
			return
		}
	}
	res, err := h.results(c.Request.Context(), p)
	if err != nil {
		response.Internal(c, "failed to count answers")
		return
	}
	response.OK(c, res)
}

func (h *Handler) results(ctx context.Context, p *models.Poll) (models.PollResults, error) {
	counts, err := h.repo.CountAnswers(ctx, p.ID)
	if err != nil {
		return models.PollResults{}, err
	}
	return Tally(p, counts), nil
}

func (h *Handler) canManage(c *gin.Context, classroomID uuid.UUID) (bool, error) {
	if role, _ := c.Get(middleware.ContextUserRole); role == string(models.RoleAdmin) {
		return true, nil
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	return h.teachers.IsTeacher(c.Request.Context(), classroomID, userID)
}

// loadManaged loads the poll named in the path and checks the caller teaches its classroom.
func (h *Handler) loadManaged(c *gin.Context) (*models.Poll, bool) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return nil, false
	}
	p, err := h.repo.GetByID(c.Request.Context(), pollID)
	if err != nil {
		h.notFoundOrInternal(c, err)
		return nil, false
	}
	ok, err := h.canManage(c, p.ClassroomID)
	if err != nil {
		response.Internal(c, "failed to check classroom access")
		return nil, false
	}
	if !ok {
		response.Forbidden(c, "only the classroom's teachers can manage polls")
		return nil, false
	}
	return p, true
}

func (h *Handler) notFoundOrInternal(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "poll not found")
		return
	}
	h.logger.Error("load poll failed", zap.Error(err))
	response.Internal(c, "failed to load poll")
}
