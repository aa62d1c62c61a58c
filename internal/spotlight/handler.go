package spotlight

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/pkg/response"
)

// Roster answers whether a participant is currently connected to a classroom (implemented by realtime.Hub).
type Roster interface {
	HasParticipant(classroomID, participantID uuid.UUID) bool
}

// HistoryLister lists recorded spotlight events (implemented by Repository).
type HistoryLister interface {
	ListByClassroom(ctx context.Context, classroomID uuid.UUID, limit int) ([]HistoryRow, error)
}

// StartRequest is the optional body for POST /classrooms/:id/spotlight/start; nil fields use the server defaults.
type StartRequest struct {
	MaxActive        *int  `json:"max_active" binding:"omitempty,min=1"`
	DefaultDuration  *int  `json:"default_duration" binding:"omitempty,min=1"`
	AutoRotate       *bool `json:"auto_rotate"`
	RotationInterval *int  `json:"rotation_interval" binding:"omitempty,min=1"`
	QueueEnabled     *bool `json:"queue_enabled"`
}

// AddRequest is the body for POST /classrooms/:id/spotlight/entries.
type AddRequest struct {
	ParticipantID   string `json:"participant_id" binding:"required,uuid"`
	Kind            string `json:"kind" binding:"required"`
	Reason          string `json:"reason"`
	DurationSeconds int    `json:"duration_seconds" binding:"omitempty,min=1"`
	Priority        string `json:"priority"`
}

// ExtendRequest is the body for POST /classrooms/:id/spotlight/entries/:participantId/extend.
type ExtendRequest struct {
	Seconds int `json:"seconds" binding:"required,min=1"`
}

// AutoRotateRequest is the body for PUT /classrooms/:id/spotlight/auto-rotate.
type AutoRotateRequest struct {
	Enabled         *bool `json:"enabled" binding:"required"`
	IntervalSeconds int   `json:"interval_seconds" binding:"omitempty,min=1"`
}

// StateResponse is the spotlight state returned by most endpoints.
type StateResponse struct {
	ClassroomID  uuid.UUID `json:"classroom_id"`
	Active       []Entry   `json:"active"`
	Queue        []Entry   `json:"queue"`
	Config       Config    `json:"config"`
	AutoRotating bool      `json:"auto_rotating"`
}

// Handler handles spotlight HTTP endpoints. Teacher access is enforced by route middleware.
type Handler struct {
	registry *Registry
	defaults Config
	roster   Roster
	history  HistoryLister
	logger   *zap.Logger
}

// NewHandler creates a spotlight handler. roster and history may be nil.
func NewHandler(registry *Registry, defaults Config, roster Roster, history HistoryLister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, defaults: defaults, roster: roster, history: history, logger: logger}
}

// Start handles POST /classrooms/:id/spotlight/start.
func (h *Handler) Start(c *gin.Context) {
	classroomID, ok := classroomParam(c)
	if !ok {
		return
	}
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	cfg := h.defaults
	if req.MaxActive != nil {
		cfg.MaxActive = *req.MaxActive
	}
	if req.DefaultDuration != nil {
		cfg.DefaultDuration = *req.DefaultDuration
	}
	if req.AutoRotate != nil {
		cfg.AutoRotate = *req.AutoRotate
	}
	if req.RotationInterval != nil {
		cfg.RotationInterval = *req.RotationInterval
	}
	if req.QueueEnabled != nil {
		cfg.QueueEnabled = *req.QueueEnabled
	}
	if err := cfg.Validate(); err != nil {
		response.BadRequest(c, "invalid spotlight config: "+err.Error())
		return
	}
	s, created := h.registry.Start(classroomID, cfg)
	if created {
		response.Created(c, state(s))
		return
	}
	response.OK(c, state(s))
}

// Stop handles POST /classrooms/:id/spotlight/stop.
func (h *Handler) Stop(c *gin.Context) {
	classroomID, ok := classroomParam(c)
	if !ok {
		return
	}
	if !h.registry.Stop(classroomID) {
		response.NotFound(c, "spotlight session not running")
		return
	}
	response.OK(c, gin.H{"classroom_id": classroomID, "stopped": true})
}

// Get handles GET /classrooms/:id/spotlight.
func (h *Handler) Get(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.OK(c, state(s))
}

// Add handles POST /classrooms/:id/spotlight/entries.
func (h *Handler) Add(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	participantID, err := uuid.Parse(req.ParticipantID)
	if err != nil {
		response.BadRequest(c, "invalid participant_id")
		return
	}
	if h.roster != nil && !h.roster.HasParticipant(s.ClassroomID, participantID) {
		response.BadRequest(c, "participant is not in the live class")
		return
	}
	entry, err := s.Add(participantID, Kind(req.Kind), req.Reason, req.DurationSeconds, Priority(req.Priority))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, entry)
}

// Remove handles DELETE /classrooms/:id/spotlight/entries/:participantId.
func (h *Handler) Remove(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	participantID, ok := participantParam(c)
	if !ok {
		return
	}
	if err := s.Remove(participantID); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, state(s))
}

// Extend handles POST /classrooms/:id/spotlight/entries/:participantId/extend.
func (h *Handler) Extend(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	participantID, ok := participantParam(c)
	if !ok {
		return
	}
	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := s.Extend(participantID, req.Seconds); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, state(s))
}

// Rotate handles POST /classrooms/:id/spotlight/rotate.
func (h *Handler) Rotate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	rotated, err := s.Rotate()
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"rotated": rotated, "state": state(s)})
}

// SetAutoRotate handles PUT /classrooms/:id/spotlight/auto-rotate.
func (h *Handler) SetAutoRotate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req AutoRotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := s.SetAutoRotate(*req.Enabled, req.IntervalSeconds); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, state(s))
}

// History handles GET /classrooms/:id/spotlight/history?limit=N.
func (h *Handler) History(c *gin.Context) {
	classroomID, ok := classroomParam(c)
	if !ok {
		return
	}
	if h.history == nil {
		response.ServiceUnavailable(c, "spotlight history not configured")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.history.ListByClassroom(c.Request.Context(), classroomID, limit)
	if err != nil {
		h.logger.Error("list spotlight history failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
		response.Internal(c, "failed to list spotlight history")
		return
	}
	response.OK(c, gin.H{"events": list})
}

func (h *Handler) session(c *gin.Context) (*Session, bool) {
	classroomID, ok := classroomParam(c)
	if !ok {
		return nil, false
	}
	s, ok := h.registry.Get(classroomID)
	if !ok {
		response.NotFound(c, "spotlight session not running")
		return nil, false
	}
	return s, true
}

func state(s *Session) StateResponse {
	snap := s.Snapshot()
	return StateResponse{
		ClassroomID:  s.ClassroomID,
		Active:       snap.Active,
		Queue:        snap.Queue,
		Config:       s.Config(),
		AutoRotating: s.AutoRotating(),
	}
}

func classroomParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid classroom id")
		return uuid.Nil, false
	}
	return id, true
}

func participantParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("participantId"))
	if err != nil {
		response.BadRequest(c, "invalid participant id")
		return uuid.Nil, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDuplicateEntry), errors.Is(err, ErrCapacityExceeded):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrSessionStopped):
		response.NotFound(c, "spotlight session not running")
	case errors.Is(err, ErrInvalidKind), errors.Is(err, ErrInvalidPriority), errors.Is(err, ErrInvalidDuration):
		response.BadRequest(c, err.Error())
	default:
		response.Internal(c, "spotlight operation failed")
	}
}
