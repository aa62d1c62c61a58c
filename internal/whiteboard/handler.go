package whiteboard

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kinderly/liveclass/pkg/response"
)

// Handler serves whiteboard snapshots over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a whiteboard handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Snapshot handles GET /classrooms/:id/whiteboard.
func (h *Handler) Snapshot(c *gin.Context) {
	classroomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid classroom id")
		return
	}
	response.OK(c, h.svc.Board(c.Request.Context(), classroomID).Snapshot())
}
