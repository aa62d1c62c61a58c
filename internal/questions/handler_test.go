package questions

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinderly/liveclass/internal/middleware"
	"github.com/kinderly/liveclass/internal/models"
	"github.com/kinderly/liveclass/internal/spotlight"
)

type fakeStore struct {
	mu        sync.Mutex
	questions map[uuid.UUID]*models.Question
	votes     map[uuid.UUID]map[uuid.UUID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{questions: map[uuid.UUID]*models.Question{}, votes: map[uuid.UUID]map[uuid.UUID]bool{}}
}

func (f *fakeStore) Create(_ context.Context, q *models.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q.ID = uuid.New()
	cp := *q
	f.questions[q.ID] = &cp
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *q
	cp.Votes = len(f.votes[id])
	return &cp, nil
}

func (f *fakeStore) ListByClassroom(_ context.Context, classroomID uuid.UUID, approvedOnly bool) ([]models.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Question
	for _, q := range f.questions {
		if q.ClassroomID == classroomID && (!approvedOnly || q.Approved) {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (f *fakeStore) Approve(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions[id].Approved = true
	return nil
}

func (f *fakeStore) MarkAnswered(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions[id].Answered = true
	return nil
}

func (f *fakeStore) Upvote(_ context.Context, questionID, userID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.votes[questionID] == nil {
		f.votes[questionID] = map[uuid.UUID]bool{}
	}
	f.votes[questionID][userID] = true
	return len(f.votes[questionID]), nil
}

type fakeTeachers map[uuid.UUID]bool

func (f fakeTeachers) IsTeacher(_ context.Context, _, userID uuid.UUID) (bool, error) {
	return f[userID], nil
}

type fakeHub struct {
	mu      sync.Mutex
	events  []string
	present map[uuid.UUID]bool
}

func (f *fakeHub) HasParticipant(_, participantID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[participantID]
}

func (f *fakeHub) BroadcastToClassroomAndPublish(_ uuid.UUID, event string, _ interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func router(h *Handler, userID uuid.UUID, role models.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Set(middleware.ContextUserRole, string(role))
	})
	r.GET("/classrooms/:id/questions", h.ListByClassroom)
	r.POST("/classrooms/:id/questions", h.Create)
	r.PATCH("/questions/:id/approve", h.Approve)
	r.PATCH("/questions/:id/answer", h.Answer)
	r.POST("/questions/:id/upvote", h.Upvote)
	r.POST("/questions/:id/spotlight", h.Spotlight)
	return r
}

func call(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestQuestionFlow(t *testing.T) {
	store, hub := newFakeStore(), &fakeHub{}
	reg := spotlight.NewRegistry(nil)
	defer reg.StopAll()
	teacher, asker, classmate := uuid.New(), uuid.New(), uuid.New()
	classroomID := uuid.New()
	h := NewHandler(store, fakeTeachers{teacher: true}, hub, reg, nil)
	asTeacher := router(h, teacher, models.RoleTeacher)
	asAsker := router(h, asker, models.RoleStudent)
	asClassmate := router(h, classmate, models.RoleStudent)
	listPath := "/classrooms/" + classroomID.String() + "/questions"

	w := call(t, asAsker, http.MethodPost, listPath, CreateRequest{Content: "Why is the sky blue?"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data models.Question `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	qPath := "/questions/" + created.Data.ID.String()

	var listed struct {
		Data struct {
			Questions []models.Question `json:"questions"`
		} `json:"data"`
	}
	w = call(t, asClassmate, http.MethodGet, listPath, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Empty(t, listed.Data.Questions, "unapproved questions are hidden from students")
	w = call(t, asTeacher, http.MethodGet, listPath, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Len(t, listed.Data.Questions, 1)

	assert.Equal(t, http.StatusForbidden, call(t, asClassmate, http.MethodPatch, qPath+"/approve", nil).Code)
	assert.Equal(t, http.StatusOK, call(t, asTeacher, http.MethodPatch, qPath+"/approve", nil).Code)

	assert.Equal(t, http.StatusBadRequest, call(t, asAsker, http.MethodPost, qPath+"/upvote", nil).Code)
	assert.Equal(t, http.StatusOK, call(t, asClassmate, http.MethodPost, qPath+"/upvote", nil).Code)
	w = call(t, asClassmate, http.MethodPost, qPath+"/upvote", nil)
	assert.JSONEq(t, `{"id":"`+created.Data.ID.String()+`","votes":1}`, string(dataOf(t, w)), "one vote per user")

	assert.Equal(t, http.StatusOK, call(t, asTeacher, http.MethodPatch, qPath+"/answer", nil).Code)
	assert.Equal(t, []string{"ask_question", "approve_question", "question_votes", "question_votes", "question_answered"}, hub.events)
}

func TestQuestionSpotlight(t *testing.T) {
	store := newFakeStore()
	reg := spotlight.NewRegistry(nil)
	defer reg.StopAll()
	teacher, asker := uuid.New(), uuid.New()
	classroomID := uuid.New()
	q := &models.Question{ClassroomID: classroomID, UserID: asker, Content: "Can I share my drawing?"}
	require.NoError(t, store.Create(context.Background(), q))
	hub := &fakeHub{present: map[uuid.UUID]bool{}}
	h := NewHandler(store, fakeTeachers{teacher: true}, hub, reg, nil)
	r := router(h, teacher, models.RoleTeacher)
	path := "/questions/" + q.ID.String() + "/spotlight"

	w := call(t, r, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "no spotlight session yet")

	s, _ := reg.Start(classroomID, spotlight.DefaultConfig())
	w = call(t, r, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "asker already left the class")
	assert.Empty(t, s.Snapshot().Active)

	hub.mu.Lock()
	hub.present[asker] = true
	hub.mu.Unlock()
	w = call(t, r, http.MethodPost, path, SpotlightRequest{DurationSeconds: 45})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	snap := s.Snapshot()
	require.Len(t, snap.Active, 1)
	assert.Equal(t, asker, snap.Active[0].ParticipantID)
	assert.Equal(t, spotlight.KindQuestion, snap.Active[0].Kind)
	assert.Equal(t, 45, snap.Active[0].DurationSeconds)
	assert.Equal(t, q.Content, snap.Active[0].Reason)

	w = call(t, r, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "asker is already in the spotlight")

	w = call(t, router(h, asker, models.RoleStudent), http.MethodPost, path, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = call(t, r, http.MethodPost, "/questions/"+uuid.NewString()+"/spotlight", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) json.RawMessage {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Data
}
