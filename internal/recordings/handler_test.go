package recordings

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

	"github.com/kinderly/liveclass/internal/classrooms"
	"github.com/kinderly/liveclass/internal/middleware"
	"github.com/kinderly/liveclass/internal/models"
	"github.com/kinderly/liveclass/internal/recorder"
	"github.com/kinderly/liveclass/pkg/queue"
)

type fakeStore struct {
	mu   sync.Mutex
	recs map[uuid.UUID]*models.Recording
}

func newFakeStore() *fakeStore { return &fakeStore{recs: map[uuid.UUID]*models.Recording{}} }

func (f *fakeStore) put(rec models.Recording) *models.Recording {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	f.recs[rec.ID] = &rec
	return &rec
}

func (f *fakeStore) get(id uuid.UUID) models.Recording {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.recs[id]
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) GetByProviderID(_ context.Context, providerID string) (*models.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.recs {
		if rec.ProviderRecordingID == providerID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) ListByClassroom(_ context.Context, classroomID uuid.UUID) ([]models.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Recording{}
	for _, rec := range f.recs {
		if rec.ClassroomID == classroomID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeStore) Create(_ context.Context, rec *models.Recording) error {
	rec.ID = uuid.New()
	f.put(*rec)
	return nil
}

func (f *fakeStore) CreateFromClassStart(ctx context.Context, classroomID uuid.UUID, provider string) (*models.Recording, error) {
	rec := &models.Recording{ClassroomID: classroomID, ProviderRecordingID: provider, Status: models.RecordingStatusRecording}
	return rec, f.Create(ctx, rec)
}

func (f *fakeStore) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[id].Status = status
	return nil
}

func (f *fakeStore) MarkProcessing(_ context.Context, id uuid.UUID, sec int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[id].Status = models.RecordingStatusProcessing
	f.recs[id].Duration = sec
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.recs[id]; !ok {
		return ErrNotFound
	}
	delete(f.recs, id)
	return nil
}

func (f *fakeStore) UpdateOriginalURL(_ context.Context, id uuid.UUID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[id].OriginalURL = url
	f.recs[id].Status = models.RecordingStatusProcessing
	return nil
}

type fakeJobs struct {
	jobs []queue.RecordingUploadPayload
	err  error
}

func (f *fakeJobs) EnqueueRecordingUpload(_ context.Context, p queue.RecordingUploadPayload) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, p)
	return nil
}

type fakePresigner struct {
	deleted *[]string
}

func (fakePresigner) GeneratePresignedDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (fakePresigner) PresignExpire() time.Duration { return 15 * time.Minute }

func (f fakePresigner) DeleteRecording(_ context.Context, key string) error {
	*f.deleted = append(*f.deleted, key)
	return nil
}

type fakeRecorder struct {
	active map[uuid.UUID]uuid.UUID
	err    error
}

func (f *fakeRecorder) StartRecording(_ context.Context, classroomID, recordingID uuid.UUID) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.active[classroomID] = recordingID
	return "/tmp/" + recordingID.String() + ".mp4", nil
}

func (f *fakeRecorder) StopRecording(classroomID uuid.UUID) (recorder.Result, error) {
	id, ok := f.active[classroomID]
	if !ok {
		return recorder.Result{}, recorder.ErrNotRecording
	}
	delete(f.active, classroomID)
	return recorder.Result{RecordingID: id, Path: "/tmp/" + id.String() + ".mp4", Duration: 90 * time.Second}, nil
}

func (f *fakeRecorder) HasActiveRecording(classroomID uuid.UUID) bool {
	_, ok := f.active[classroomID]
	return ok
}

type fakeTeachers map[uuid.UUID]bool

func (f fakeTeachers) IsTeacher(_ context.Context, _, userID uuid.UUID) (bool, error) {
	return f[userID], nil
}

func router(h *Handler, userID uuid.UUID, role models.Role, classroomID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Set(middleware.ContextUserRole, string(role))
		c.Set(classrooms.ContextClassroomID, classroomID)
	})
	r.GET("/classrooms/:id/recordings", h.ListByClassroom)
	r.POST("/classrooms/:id/recording/start", h.StartRecording)
	r.POST("/classrooms/:id/recording/stop", h.StopRecording)
	r.GET("/recordings/:id/download-url", h.GenerateDownloadURL)
	r.DELETE("/recordings/:id", h.Delete)
	return r
}

func call(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRecordingStartStop(t *testing.T) {
	store, jobs := newFakeStore(), &fakeJobs{}
	rec := &fakeRecorder{active: map[uuid.UUID]uuid.UUID{}}
	teacher, classroomID := uuid.New(), uuid.New()
	h := NewHandler(store, fakeTeachers{teacher: true}, jobs, fakePresigner{deleted: new([]string)}, nil)
	r := router(h, teacher, models.RoleTeacher, classroomID)
	base := "/classrooms/" + classroomID.String() + "/recording"

	assert.Equal(t, http.StatusServiceUnavailable, call(r, http.MethodPost, base+"/start").Code)
	h.SetRecordingService(rec)

	w := call(r, http.MethodPost, base+"/start")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, http.StatusConflict, call(r, http.MethodPost, base+"/start").Code)

	w = call(r, http.MethodPost, base+"/stop")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, jobs.jobs, 1)
	job := jobs.jobs[0]
	assert.Equal(t, classroomID, job.ClassroomID)
	assert.NotEmpty(t, job.LocalPath)
	assert.Empty(t, job.OriginalURL)

	stored := store.get(job.RecordingID)
	assert.Equal(t, models.RecordingStatusProcessing, stored.Status)
	assert.Equal(t, 90, stored.Duration)

	assert.Equal(t, http.StatusNotFound, call(r, http.MethodPost, base+"/stop").Code)
}

func TestRecordingStartWithoutShare(t *testing.T) {
	store := newFakeStore()
	classroomID := uuid.New()
	h := NewHandler(store, fakeTeachers{}, &fakeJobs{}, nil, nil)
	h.SetRecordingService(&fakeRecorder{active: map[uuid.UUID]uuid.UUID{}, err: recorder.ErrNoTracks})
	r := router(h, uuid.New(), models.RoleAdmin, classroomID)

	w := call(r, http.MethodPost, "/classrooms/"+classroomID.String()+"/recording/start")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	list, _ := store.ListByClassroom(context.Background(), classroomID)
	require.Len(t, list, 1)
	assert.Equal(t, models.RecordingStatusFailed, list[0].Status)
}

func TestRecordingStopEnqueueFails(t *testing.T) {
	store := newFakeStore()
	classroomID := uuid.New()
	fr := &fakeRecorder{active: map[uuid.UUID]uuid.UUID{}}
	h := NewHandler(store, fakeTeachers{}, &fakeJobs{err: errors.New("redis down")}, nil, nil)
	h.SetRecordingService(fr)
	r := router(h, uuid.New(), models.RoleAdmin, classroomID)

	require.Equal(t, http.StatusOK, call(r, http.MethodPost, "/classrooms/"+classroomID.String()+"/recording/start").Code)
	w := call(r, http.MethodPost, "/classrooms/"+classroomID.String()+"/recording/stop")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	list, _ := store.ListByClassroom(context.Background(), classroomID)
	require.Len(t, list, 1)
	assert.Equal(t, models.RecordingStatusFailed, list[0].Status)
}

func TestDownloadURL(t *testing.T) {
	store := newFakeStore()
	teacher, classroomID := uuid.New(), uuid.New()
	done := store.put(models.Recording{ClassroomID: classroomID, Status: models.RecordingStatusCompleted, S3Key: "recordings/a/b.mp4"})
	pending := store.put(models.Recording{ClassroomID: classroomID, Status: models.RecordingStatusProcessing})
	deleted := []string{}
	h := NewHandler(store, fakeTeachers{teacher: true}, &fakeJobs{}, fakePresigner{deleted: &deleted}, nil)

	asTeacher := router(h, teacher, models.RoleTeacher, classroomID)
	w := call(asTeacher, http.MethodGet, "/recordings/"+done.ID.String()+"/download-url")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			DownloadURL string `json:"download_url"`
			ExpiresIn   int    `json:"expires_in"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "https://signed.example/recordings/a/b.mp4", body.Data.DownloadURL)
	assert.Equal(t, 900, body.Data.ExpiresIn)

	assert.Equal(t, http.StatusBadRequest, call(asTeacher, http.MethodGet, "/recordings/"+pending.ID.String()+"/download-url").Code)
	assert.Equal(t, http.StatusNotFound, call(asTeacher, http.MethodGet, "/recordings/"+uuid.NewString()+"/download-url").Code)

	asStudent := router(h, uuid.New(), models.RoleStudent, classroomID)
	assert.Equal(t, http.StatusForbidden, call(asStudent, http.MethodGet, "/recordings/"+done.ID.String()+"/download-url").Code)
	assert.Equal(t, http.StatusForbidden, call(asStudent, http.MethodDelete, "/recordings/"+done.ID.String()).Code)

	assert.Equal(t, http.StatusConflict, call(asTeacher, http.MethodDelete, "/recordings/"+pending.ID.String()).Code)
	assert.Equal(t, http.StatusNoContent, call(asTeacher, http.MethodDelete, "/recordings/"+done.ID.String()).Code)
	assert.Equal(t, []string{"recordings/a/b.mp4"}, deleted)
	assert.Equal(t, http.StatusNotFound, call(asTeacher, http.MethodGet, "/recordings/"+done.ID.String()+"/download-url").Code)
}

func TestWebhookSignature(t *testing.T) {
	store, jobs := newFakeStore(), &fakeJobs{}
	h := NewWebhookHandler(store, jobs, "s3cret", nil)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/recording-ready", h.RecordingReady)

	classroomID := uuid.New()
	body, err := json.Marshal(RecordingReadyPayload{
		ProviderRecordingID: "prov-1", ClassroomID: classroomID.String(), FileURL: "https://cdn.example/rec.mp4",
	})
	require.NoError(t, err)

	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/recording-ready", bytes.NewReader(body))
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, send("").Code)
	assert.Equal(t, http.StatusUnauthorized, send(Sign([]byte("wrong"), body)).Code)
	assert.Empty(t, jobs.jobs)

	w := send(Sign([]byte("s3cret"), body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, classroomID, jobs.jobs[0].ClassroomID)
	assert.Equal(t, "https://cdn.example/rec.mp4", jobs.jobs[0].OriginalURL)

	// A redelivery finds the same recording by provider id.
	require.Equal(t, http.StatusOK, send(Sign([]byte("s3cret"), body)).Code)
	list, _ := store.ListByClassroom(context.Background(), classroomID)
	assert.Len(t, list, 1)
}

func TestWebhookUnknownRecording(t *testing.T) {
	h := NewWebhookHandler(newFakeStore(), &fakeJobs{}, "", nil)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/hook", h.RecordingReady)

	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader([]byte(`{"file_url":"https://x/y.mp4"}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
