package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Body{Success: true, Data: data})
}

// Error sends an error envelope with the given status.
func Error(c *gin.Context, status int, err string) {
	c.JSON(status, Body{Error: err})
}

func OK(c *gin.Context, data interface{})      { success(c, http.StatusOK, data) }
func Created(c *gin.Context, data interface{}) { success(c, http.StatusCreated, data) }

// NoContent sends 204 with no body.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func BadRequest(c *gin.Context, err string)         { Error(c, http.StatusBadRequest, err) }
func Unauthorized(c *gin.Context, err string)       { Error(c, http.StatusUnauthorized, err) }
func Forbidden(c *gin.Context, err string)          { Error(c, http.StatusForbidden, err) }
func NotFound(c *gin.Context, err string)           { Error(c, http.StatusNotFound, err) }
func Conflict(c *gin.Context, err string)           { Error(c, http.StatusConflict, err) }
func ServiceUnavailable(c *gin.Context, err string) { Error(c, http.StatusServiceUnavailable, err) }

// Internal sends 500. err is shown to clients, so callers pass a generic message and log the cause.
func Internal(c *gin.Context, err string) { Error(c, http.StatusInternalServerError, err) }
