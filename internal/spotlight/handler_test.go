package spotlight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoster map[uuid.UUID]bool

func (f fakeRoster) HasParticipant(_, participantID uuid.UUID) bool { return f[participantID] }

type fakeHistory struct {
	rows []HistoryRow
	err  error
}

func (f *fakeHistory) ListByClassroom(_ context.Context, _ uuid.UUID, _ int) ([]HistoryRow, error) {
	return f.rows, f.err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func setupSpotlightRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/classrooms/:id/spotlight")
	g.GET("", h.Get)
	g.POST("/start", h.Start)
	g.POST("/stop", h.Stop)
	g.POST("/entries", h.Add)
	g.DELETE("/entries/:participantId", h.Remove)
	g.POST("/entries/:participantId/extend", h.Extend)
	g.POST("/rotate", h.Rotate)
	g.PUT("/auto-rotate", h.SetAutoRotate)
	g.GET("/history", h.History)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestHandlerSpotlightFlow(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.StopAll()
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	roster := fakeRoster{p1: true, p2: true, p3: true}
	r := setupSpotlightRouter(NewHandler(reg, DefaultConfig(), roster, nil, nil))
	base := "/classrooms/" + uuid.NewString() + "/spotlight"

	w, _ := doJSON(t, r, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env := doJSON(t, r, http.MethodPost, base+"/start", map[string]interface{}{"max_active": 1, "queue_enabled": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var st StateResponse
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 1, st.Config.MaxActive)

	w, _ = doJSON(t, r, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = doJSON(t, r, http.MethodPost, base+"/entries", AddRequest{ParticipantID: p1.String(), Kind: "presentation", DurationSeconds: 120})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var entry Entry
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	assert.True(t, entry.Active)
	assert.Equal(t, PriorityMedium, entry.Priority)

	w, _ = doJSON(t, r, http.MethodPost, base+"/entries", AddRequest{ParticipantID: p2.String(), Kind: "question"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, env = doJSON(t, r, http.MethodPost, base+"/entries", AddRequest{ParticipantID: p1.String(), Kind: "question"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, env.Success)

	w, _ = doJSON(t, r, http.MethodPost, base+"/entries/"+p1.String()+"/extend", ExtendRequest{Seconds: 30})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, base+"/entries/"+p2.String()+"/extend", ExtendRequest{Seconds: 30})
	assert.Equal(t, http.StatusNotFound, w.Code, "queued entries cannot be extended")

	w, env = doJSON(t, r, http.MethodPost, base+"/rotate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rot struct {
		Rotated bool `json:"rotated"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &rot))
	assert.False(t, rot.Rotated, "one active slot never rotates")

	w, env = doJSON(t, r, http.MethodDelete, base+"/entries/"+p1.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	require.Len(t, st.Active, 1)
	assert.Equal(t, p2, st.Active[0].ParticipantID)
	assert.Empty(t, st.Queue)

	w, _ = doJSON(t, r, http.MethodDelete, base+"/entries/"+p3.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = doJSON(t, r, http.MethodPut, base+"/auto-rotate", map[string]interface{}{"enabled": true, "interval_seconds": 90})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.AutoRotating)
	assert.Equal(t, 90, st.Config.RotationInterval)

	w, _ = doJSON(t, r, http.MethodPost, base+"/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, r, http.MethodPost, base+"/stop", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerAddValidation(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.StopAll()
	member := uuid.New()
	r := setupSpotlightRouter(NewHandler(reg, DefaultConfig(), fakeRoster{member: true}, nil, nil))
	classroomID := uuid.New()
	reg.Start(classroomID, Config{MaxActive: 1, QueueEnabled: false})
	base := "/classrooms/" + classroomID.String() + "/spotlight"

	tests := []struct {
		name string
		body AddRequest
		code int
	}{
		{"missing participant", AddRequest{Kind: "manual"}, http.StatusBadRequest},
		{"not in class", AddRequest{ParticipantID: uuid.NewString(), Kind: "manual"}, http.StatusBadRequest},
		{"unknown kind", AddRequest{ParticipantID: member.String(), Kind: "dance"}, http.StatusBadRequest},
		{"unknown priority", AddRequest{ParticipantID: member.String(), Kind: "manual", Priority: "urgent"}, http.StatusBadRequest},
		{"ok", AddRequest{ParticipantID: member.String(), Kind: "achievement"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := doJSON(t, r, http.MethodPost, base+"/entries", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestHandlerCapacityExceeded(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.StopAll()
	r := setupSpotlightRouter(NewHandler(reg, DefaultConfig(), nil, nil, nil))
	classroomID := uuid.New()
	reg.Start(classroomID, Config{MaxActive: 1, QueueEnabled: false})
	base := "/classrooms/" + classroomID.String() + "/spotlight"

	w, _ := doJSON(t, r, http.MethodPost, base+"/entries", AddRequest{ParticipantID: uuid.NewString(), Kind: "manual"})
	require.Equal(t, http.StatusCreated, w.Code)
	w, env := doJSON(t, r, http.MethodPost, base+"/entries", AddRequest{ParticipantID: uuid.NewString(), Kind: "manual"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, ErrCapacityExceeded.Error(), env.Error)
}

func TestHandlerStartRejectsInvalidConfig(t *testing.T) {
	reg := NewRegistry(nil)
	r := setupSpotlightRouter(NewHandler(reg, DefaultConfig(), nil, nil, nil))
	w, _ := doJSON(t, r, http.MethodPost, "/classrooms/"+uuid.NewString()+"/spotlight/start", map[string]interface{}{"max_active": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, reg.Count())

	w, _ = doJSON(t, r, http.MethodPost, "/classrooms/not-a-uuid/spotlight/start", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerHistory(t *testing.T) {
	reg := NewRegistry(nil)
	base := "/classrooms/" + uuid.NewString() + "/spotlight/history"

	r := setupSpotlightRouter(NewHandler(reg, DefaultConfig(), nil, nil, nil))
	w, _ := doJSON(t, r, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	hist := &fakeHistory{rows: []HistoryRow{{ID: uuid.New(), Kind: EventRotate}}}
	r = setupSpotlightRouter(NewHandler(reg, DefaultConfig(), nil, hist, nil))
	w, env := doJSON(t, r, http.MethodGet, base+"?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Events []HistoryRow `json:"events"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, EventRotate, body.Events[0].Kind)

	hist.err = errors.New("db down")
	w, _ = doJSON(t, r, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
