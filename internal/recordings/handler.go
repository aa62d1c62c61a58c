package recordings

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/classrooms"
	"github.com/kinderly/liveclass/internal/middleware"
	"github.com/kinderly/liveclass/internal/models"
	"github.com/kinderly/liveclass/internal/recorder"
	"github.com/kinderly/liveclass/pkg/queue"
	"github.com/kinderly/liveclass/pkg/response"
)

// Store is the recording persistence used by the handlers (implemented by Repository).
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	ListByClassroom(ctx context.Context, classroomID uuid.UUID) ([]models.Recording, error)
	CreateFromClassStart(ctx context.Context, classroomID uuid.UUID, providerRecordingID string) (*models.Recording, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	MarkProcessing(ctx context.Context, id uuid.UUID, durationSec int) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// RecordingService starts and stops in-app recording of the screen share (implemented by recorder.Service).
type RecordingService interface {
	StartRecording(ctx context.Context, classroomID, recordingID uuid.UUID) (outputPath string, err error)
	StopRecording(classroomID uuid.UUID) (recorder.Result, error)
	HasActiveRecording(classroomID uuid.UUID) bool
}

// Enqueuer hands recordings to the upload worker (implemented by queue.Queue).
type Enqueuer interface {
	EnqueueRecordingUpload(ctx context.Context, payload queue.RecordingUploadPayload) error
}

// ObjectStore issues download links and removes uploaded files (implemented by storage.S3).
type ObjectStore interface {
	GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
	DeleteRecording(ctx context.Context, key string) error
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	repo     Store
	teachers classrooms.TeacherChecker
	jobs     Enqueuer
	s3       ObjectStore
	recorder RecordingService
	logger   *zap.Logger
}

// NewHandler creates a recordings handler. s3 may be nil when storage is not configured.
func NewHandler(repo Store, teachers classrooms.TeacherChecker, jobs Enqueuer, s3 ObjectStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, teachers: teachers, jobs: jobs, s3: s3, logger: logger}
}

// SetRecordingService enables start/stop of in-app recording.
func (h *Handler) SetRecordingService(s RecordingService) { h.recorder = s }

// ListByClassroom handles GET /classrooms/:id/recordings (classroom teachers).
func (h *Handler) ListByClassroom(c *gin.Context) {
	classroomID := c.MustGet(classrooms.ContextClassroomID).(uuid.UUID)
	list, err := h.repo.ListByClassroom(c.Request.Context(), classroomID)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
		response.Internal(c, "failed to list recordings")
		return
	}
	response.OK(c, list)
}

// GenerateDownloadURL handles GET /recordings/:id/download-url. Admins and the classroom's teachers only.
func (h *Handler) GenerateDownloadURL(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), recordingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "recording not found")
			return
		}
		h.logger.Error("get recording failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		response.Internal(c, "failed to get recording")
		return
	}
	if !h.canManage(c, rec.ClassroomID) {
		return
	}
	if rec.Status != models.RecordingStatusCompleted || rec.S3Key == "" {
		response.BadRequest(c, "recording not ready for download")
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "storage not configured")
		return
	}
	expire := h.s3.PresignExpire()
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), rec.S3Key, expire)
	if err != nil {
		h.logger.Error("presign recording download failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expire.Seconds())})
}

// StartRecording handles POST /classrooms/:id/recording/start. The teacher must be sharing their screen.
func (h *Handler) StartRecording(c *gin.Context) {
	if h.recorder == nil {
		response.ServiceUnavailable(c, "recording service not configured")
		return
	}
	classroomID := c.MustGet(classrooms.ContextClassroomID).(uuid.UUID)
	if h.recorder.HasActiveRecording(classroomID) {
		response.Conflict(c, "recording already in progress")
		return
	}
	rec, err := h.repo.CreateFromClassStart(c.Request.Context(), classroomID, "sfu")
	if err != nil {
		h.logger.Error("create recording row failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
		response.Internal(c, "failed to start recording")
		return
	}
	if _, err := h.recorder.StartRecording(c.Request.Context(), classroomID, rec.ID); err != nil {
		_ = h.repo.UpdateStatus(c.Request.Context(), rec.ID, models.RecordingStatusFailed)
		switch {
		case errors.Is(err, recorder.ErrNoTracks):
			response.BadRequest(c, err.Error())
		case errors.Is(err, recorder.ErrAlreadyRunning):
			response.Conflict(c, err.Error())
		default:
			h.logger.Error("start recording failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
			response.Internal(c, "failed to start recording")
		}
		return
	}
	response.OK(c, gin.H{"recording_id": rec.ID, "status": models.RecordingStatusRecording})
}

// StopRecording handles POST /classrooms/:id/recording/stop. The file is uploaded by the worker.
func (h *Handler) StopRecording(c *gin.Context) {
	if h.recorder == nil {
		response.ServiceUnavailable(c, "recording service not configured")
		return
	}
	classroomID := c.MustGet(classrooms.ContextClassroomID).(uuid.UUID)
	res, err := h.recorder.StopRecording(classroomID)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	if err := h.repo.MarkProcessing(ctx, res.RecordingID, int(res.Duration.Seconds())); err != nil {
		h.logger.Error("mark recording processing failed", zap.Error(err), zap.String("recording_id", res.RecordingID.String()))
	}
	err = h.jobs.EnqueueRecordingUpload(ctx, queue.RecordingUploadPayload{
		RecordingID: res.RecordingID,
		ClassroomID: classroomID,
		LocalPath:   res.Path,
	})
	if err != nil {
		_ = h.repo.UpdateStatus(ctx, res.RecordingID, models.RecordingStatusFailed)
		h.logger.Error("enqueue recording file failed", zap.Error(err), zap.String("recording_id", res.RecordingID.String()),
			zap.String("path", res.Path))
		response.Internal(c, "failed to queue recording upload")
		return
	}
	response.OK(c, gin.H{"recording_id": res.RecordingID, "status": models.RecordingStatusProcessing})
}

// Delete handles DELETE /recordings/:id: removes the S3 object (if any) and the row.
func (h *Handler) Delete(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	ctx := c.Request.Context()
	rec, err := h.repo.GetByID(ctx, recordingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "recording not found")
			return
		}
		h.logger.Error("get recording failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		response.Internal(c, "failed to get recording")
		return
	}
	if !h.canManage(c, rec.ClassroomID) {
		return
	}
	if rec.Status == models.RecordingStatusRecording || rec.Status == models.RecordingStatusProcessing {
		response.Conflict(c, "recording is still in progress")
		return
	}
	if rec.S3Key != "" {
		if h.s3 == nil {
			response.ServiceUnavailable(c, "storage not configured")
			return
		}
		if err := h.s3.DeleteRecording(ctx, rec.S3Key); err != nil {
			h.logger.Error("delete recording object failed", zap.Error(err), zap.String("s3_key", rec.S3Key))
			response.Internal(c, "failed to delete recording")
			return
		}
	}
	if err := h.repo.Delete(ctx, recordingID); err != nil && !errors.Is(err, ErrNotFound) {
		h.logger.Error("delete recording failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		response.Internal(c, "failed to delete recording")
		return
	}
	response.NoContent(c)
}

func (h *Handler) canManage(c *gin.Context, classroomID uuid.UUID) bool {
	if role, _ := c.Get(middleware.ContextUserRole); role == string(models.RoleAdmin) {
		return true
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ok, err := h.teachers.IsTeacher(c.Request.Context(), classroomID, userID)
	if err != nil {
		h.logger.Error("teacher check failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
		response.Internal(c, "failed to check classroom access")
		return false
	}
	if !ok {
		response.Forbidden(c, "only the classroom's teachers can do this")
		return false
	}
	return true
}
