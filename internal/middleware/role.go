package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/kinderly/liveclass/internal/models"
	"github.com/kinderly/liveclass/pkg/response"
)

// RequireRole allows only callers whose token role is one of roles. Call after JWT.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		v, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		role, _ := v.(string)
		if !allowed[models.Role(role)] {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
