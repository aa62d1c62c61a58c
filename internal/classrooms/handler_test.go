package classrooms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinderly/liveclass/internal/middleware"
	"github.com/kinderly/liveclass/internal/models"
)

type fakeStore struct {
	mu         sync.Mutex
	classrooms map[uuid.UUID]*models.Classroom
	teachers   map[uuid.UUID][]uuid.UUID
	checkErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{classrooms: map[uuid.UUID]*models.Classroom{}, teachers: map[uuid.UUID][]uuid.UUID{}}
}

func (f *fakeStore) IsTeacher(_ context.Context, classroomID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return false, f.checkErr
	}
	for _, id := range f.teachers[classroomID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) Create(_ context.Context, c *models.Classroom) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = uuid.New()
	cp := *c
	f.classrooms[c.ID] = &cp
	f.teachers[c.ID] = append(f.teachers[c.ID], c.TeacherID)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Classroom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.classrooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) List(_ context.Context, teacherID *uuid.UUID) ([]models.Classroom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Classroom
	for id, c := range f.classrooms {
		if teacherID != nil {
			found := false
			for _, t := range f.teachers[id] {
				found = found || t == *teacherID
			}
			if !found {
				continue
			}
		}
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeStore) Update(_ context.Context, id uuid.UUID, title, subject, description string, grade int, startsAt, endsAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.classrooms[id]
	if !ok {
		return ErrNotFound
	}
	c.Title, c.Subject, c.Description, c.Grade = title, subject, description, grade
	if startsAt != nil {
		c.StartsAt = *startsAt
	}
	if endsAt != nil {
		c.EndsAt = endsAt
	}
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.classrooms, id)
	return nil
}

func (f *fakeStore) AddTeacher(_ context.Context, classroomID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teachers[classroomID] = append(f.teachers[classroomID], userID)
	return nil
}

type fakeRoster struct {
	participants []models.Participant
}

func (f fakeRoster) AudienceCount(uuid.UUID) int { return len(f.participants) }

func (f fakeRoster) Participants(uuid.UUID) []models.Participant { return f.participants }

func (f fakeRoster) RaisedHands(uuid.UUID) []models.Participant {
	var out []models.Participant
	for _, p := range f.participants {
		if p.HandRaised {
			out = append(out, p)
		}
	}
	return out
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// asUser stands in for the JWT middleware.
func asUser(userID uuid.UUID, role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Set(middleware.ContextUserRole, string(role))
		c.Next()
	}
}

func setupRouter(store *fakeStore, userID uuid.UUID, role models.Role, roster Roster) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(store, nil)
	r := gin.New()
	g := r.Group("/classrooms", asUser(userID, role))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.GetByID)
	g.GET("/:id/audience_count", h.AudienceCount(roster))
	g.GET("/:id/participants", h.Participants(roster))
	teach := g.Group("/:id", RequireClassroomTeacher(store, nil))
	teach.PATCH("", h.Update)
	teach.DELETE("", h.Delete)
	teach.POST("/teachers", h.AddTeacher)
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
	if w.Code != http.StatusNoContent {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func TestClassroomCreateAndUpdate(t *testing.T) {
	store := newFakeStore()
	teacher, coTeacher := uuid.New(), uuid.New()
	r := setupRouter(store, teacher, models.RoleTeacher, fakeRoster{})

	w, env := doJSON(t, r, http.MethodPost, "/classrooms", map[string]interface{}{
		"title":          "Fractions",
		"subject":        "Math",
		"grade":          4,
		"starts_at":      "2026-10-19T09:00:00Z",
		"co_teacher_ids": []string{coTeacher.String(), "not-a-uuid"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.Classroom
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, teacher, created.TeacherID)
	assert.Equal(t, 4, created.Grade)

	ok, err := store.IsTeacher(context.Background(), created.ID, coTeacher)
	require.NoError(t, err)
	assert.True(t, ok)

	w, env = doJSON(t, r, http.MethodPatch, "/classrooms/"+created.ID.String(), map[string]interface{}{"title": "Fractions II"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Classroom
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "Fractions II", updated.Title)
	assert.Equal(t, "Math", updated.Subject)

	w, env = doJSON(t, r, http.MethodGet, "/classrooms?mine=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine []models.Classroom
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	assert.Len(t, mine, 1)

	w, _ = doJSON(t, r, http.MethodDelete, "/classrooms/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = doJSON(t, r, http.MethodGet, "/classrooms/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClassroomCreateValidation(t *testing.T) {
	r := setupRouter(newFakeStore(), uuid.New(), models.RoleTeacher, fakeRoster{})
	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing title", map[string]interface{}{"subject": "Art", "starts_at": "2026-10-19T09:00:00Z"}},
		{"grade above 12", map[string]interface{}{"title": "t", "subject": "Art", "grade": 13, "starts_at": "2026-10-19T09:00:00Z"}},
		{"bad start", map[string]interface{}{"title": "t", "subject": "Art", "starts_at": "tomorrow"}},
		{"end before start", map[string]interface{}{"title": "t", "subject": "Art", "starts_at": "2026-10-19T09:00:00Z", "ends_at": "2026-10-19T08:00:00Z"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := doJSON(t, r, http.MethodPost, "/classrooms", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestRequireClassroomTeacher(t *testing.T) {
	store := newFakeStore()
	owner := uuid.New()
	cl := &models.Classroom{Title: "Reading", Subject: "English", TeacherID: owner, StartsAt: time.Now()}
	require.NoError(t, store.Create(context.Background(), cl))
	path := "/classrooms/" + cl.ID.String()

	w, _ := doJSON(t, setupRouter(store, uuid.New(), models.RoleTeacher, fakeRoster{}), http.MethodPatch, path, map[string]string{"title": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code, "other teachers are rejected")

	w, _ = doJSON(t, setupRouter(store, uuid.New(), models.RoleAdmin, fakeRoster{}), http.MethodPatch, path, map[string]string{"title": "x"})
	assert.Equal(t, http.StatusOK, w.Code, "admins bypass the check")

	w, _ = doJSON(t, setupRouter(store, owner, models.RoleTeacher, fakeRoster{}), http.MethodPatch, "/classrooms/nope", map[string]string{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	store.checkErr = errors.New("db down")
	w, _ = doJSON(t, setupRouter(store, owner, models.RoleTeacher, fakeRoster{}), http.MethodPatch, path, map[string]string{"title": "x"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestClassroomParticipants(t *testing.T) {
	raisedAt := time.Now().UTC()
	roster := fakeRoster{participants: []models.Participant{
		{ID: uuid.New(), DisplayName: "Ada", Role: models.ParticipantStudent, Present: true},
		{ID: uuid.New(), DisplayName: "Grace", Role: models.ParticipantStudent, Present: true, HandRaised: true, HandRaisedAt: &raisedAt},
	}}
	r := setupRouter(newFakeStore(), uuid.New(), models.RoleStudent, roster)
	id := uuid.NewString()

	w, env := doJSON(t, r, http.MethodGet, "/classrooms/"+id+"/participants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Participants []models.Participant `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Len(t, body.Participants, 2)

	_, env = doJSON(t, r, http.MethodGet, "/classrooms/"+id+"/participants?hand_raised=1", nil)
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Participants, 1)
	assert.Equal(t, "Grace", body.Participants[0].DisplayName)

	_, env = doJSON(t, r, http.MethodGet, "/classrooms/"+id+"/audience_count", nil)
	assert.JSONEq(t, `{"classroom_id":"`+id+`","count":2}`, string(env.Data))
}
