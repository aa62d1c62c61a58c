package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinderly/liveclass/internal/classrooms"
	"github.com/kinderly/liveclass/internal/models"
)

type fakeLogs struct {
	logs []LogRow
	err  error
}

func (f *fakeLogs) ListLogs(context.Context, uuid.UUID) ([]LogRow, error) { return f.logs, f.err }

func (f *fakeLogs) ListSessions(context.Context, uuid.UUID) ([]models.ClassSession, error) {
	return nil, f.err
}

type fakeClassrooms map[uuid.UUID]*models.Classroom

func (f fakeClassrooms) GetByID(_ context.Context, id uuid.UUID) (*models.Classroom, error) {
	if c, ok := f[id]; ok {
		return c, nil
	}
	return nil, classrooms.ErrNotFound
}

func serve(h *Handler, classroomID uuid.UUID, path string, fn gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, path, nil)
	c.Set(classrooms.ContextClassroomID, classroomID)
	fn(c)
	return w
}

func TestHandlerReport(t *testing.T) {
	classroomID, student := uuid.New(), uuid.New()
	end := classStart.Add(time.Hour)
	cls := fakeClassrooms{classroomID: {ID: classroomID, StartsAt: classStart, EndsAt: &end}}
	logs := &fakeLogs{logs: []LogRow{logRow(student, models.RoleStudent, 0, 50*time.Minute)}}
	h := NewHandler(logs, cls, Policy{LateAfter: 5 * time.Minute, MinPresentShare: 0.5}, nil)
	h.now = func() time.Time { return classStart.Add(3 * time.Hour) }

	w := serve(h, classroomID, "/classrooms/x/attendance", h.Report)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Data struct {
			Records []models.AttendanceRecord       `json:"records"`
			Summary map[models.AttendanceStatus]int `json:"summary"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data.Records, 1)
	assert.Equal(t, int64(50*60), body.Data.Records[0].AttendSeconds)
	assert.Equal(t, 1, body.Data.Summary[models.AttendancePresent])

	w = serve(h, uuid.New(), "/classrooms/x/attendance", h.Report)
	assert.Equal(t, http.StatusNotFound, w.Code)

	logs.err = errors.New("db down")
	w = serve(h, classroomID, "/classrooms/x/attendance", h.Report)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	w = serve(h, classroomID, "/classrooms/x/sessions", h.Sessions)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
