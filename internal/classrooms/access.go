package classrooms

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/middleware"
	"github.com/kinderly/liveclass/internal/models"
	"github.com/kinderly/liveclass/pkg/response"
)

// ContextClassroomID is the context key for the classroom ID once teacher access is checked.
const ContextClassroomID = "classroom_id"

// TeacherChecker answers whether a user teaches a classroom (implemented by Repository).
type TeacherChecker interface {
	IsTeacher(ctx context.Context, classroomID, userID uuid.UUID) (bool, error)
}

// RequireClassroomTeacher allows admins and the classroom's teachers. Call after JWT.
func RequireClassroomTeacher(checker TeacherChecker, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		classroomID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid classroom id")
			c.Abort()
			return
		}
		if role, _ := c.Get(middleware.ContextUserRole); role == string(models.RoleAdmin) {
			c.Set(ContextClassroomID, classroomID)
			c.Next()
			return
		}
		userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
		ok, err := checker.IsTeacher(c.Request.Context(), classroomID, userID)
		if err != nil {
			logger.Error("teacher check failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
			response.Internal(c, "failed to check classroom access")
			c.Abort()
			return
		}
		if !ok {
			response.Forbidden(c, "only the classroom's teachers can do this")
			c.Abort()
			return
		}
		c.Set(ContextClassroomID, classroomID)
		c.Next()
	}
}
