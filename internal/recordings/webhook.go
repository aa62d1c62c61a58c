package recordings

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/models"
	"github.com/kinderly/liveclass/pkg/queue"
	"github.com/kinderly/liveclass/pkg/response"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)), optionally prefixed with "sha256=".
const SignatureHeader = "X-Webhook-Signature"

const maxWebhookBody = 1 << 20

// RecordingReadyPayload is the body of the provider's recording_ready webhook.
type RecordingReadyPayload struct {
	ProviderRecordingID string `json:"provider_recording_id"`
	ClassroomID         string `json:"classroom_id"`
	RecordingID         string `json:"recording_id"`
	FileURL             string `json:"file_url"`
	Duration            int    `json:"duration"`
	FileSize            int64  `json:"file_size"`
}

// WebhookStore is the persistence the webhook needs (implemented by Repository).
type WebhookStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	GetByProviderID(ctx context.Context, providerID string) (*models.Recording, error)
	Create(ctx context.Context, rec *models.Recording) error
	UpdateOriginalURL(ctx context.Context, id uuid.UUID, originalURL string) error
}

// WebhookHandler handles recording webhooks from an external video provider.
type WebhookHandler struct {
	repo   WebhookStore
	jobs   Enqueuer
	secret []byte
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler. An empty secret disables signature checks.
func NewWebhookHandler(repo WebhookStore, jobs Enqueuer, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{repo: repo, jobs: jobs, secret: []byte(secret), logger: logger}
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) validSignature(header string, body []byte) bool {
	if len(h.secret) == 0 {
		return true
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// RecordingReady handles POST /webhooks/recording-ready: verifies the signature, records the file URL
// and enqueues the S3 copy.
func (h *WebhookHandler) RecordingReady(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	if !h.validSignature(c.GetHeader(SignatureHeader), raw) {
		h.logger.Warn("recording webhook rejected: bad signature", zap.String("ip", c.ClientIP()))
		response.Unauthorized(c, "invalid signature")
		return
	}
	var body RecordingReadyPayload
	if err := json.Unmarshal(raw, &body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if body.FileURL == "" {
		response.BadRequest(c, "file_url required")
		return
	}

	var recordingID, classroomID uuid.UUID
	if body.RecordingID != "" {
		if recordingID, err = uuid.Parse(body.RecordingID); err != nil {
			response.BadRequest(c, "invalid recording_id")
			return
		}
	}
	if body.ClassroomID != "" {
		if classroomID, err = uuid.Parse(body.ClassroomID); err != nil {
			response.BadRequest(c, "invalid classroom_id")
			return
		}
	}

	ctx := c.Request.Context()
	rec, err := h.lookup(ctx, body.ProviderRecordingID, recordingID)
	if err != nil {
		h.logger.Error("lookup recording failed", zap.Error(err))
		response.Internal(c, "failed to find recording")
		return
	}
	if rec == nil && classroomID != uuid.Nil {
		// The provider did not echo our recording id; start tracking it now.
		rec = &models.Recording{
			ClassroomID:         classroomID,
			ProviderRecordingID: body.ProviderRecordingID,
			OriginalURL:         body.FileURL,
			Duration:            body.Duration,
			FileSize:            body.FileSize,
			Status:              models.RecordingStatusProcessing,
		}
		if err := h.repo.Create(ctx, rec); err != nil {
			h.logger.Error("create recording failed", zap.Error(err), zap.String("classroom_id", classroomID.String()))
			response.Internal(c, "failed to create recording")
			return
		}
	}
	if rec == nil {
		response.BadRequest(c, "could not identify recording (provide recording_id or provider_recording_id + classroom_id)")
		return
	}
	if rec.Status == models.RecordingStatusCompleted {
		c.JSON(http.StatusOK, gin.H{"success": true, "recording_id": rec.ID, "status": rec.Status})
		return
	}

	if rec.OriginalURL != body.FileURL || rec.Status != models.RecordingStatusProcessing {
		if err := h.repo.UpdateOriginalURL(ctx, rec.ID, body.FileURL); err != nil {
			h.logger.Error("update original_url failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
			response.Internal(c, "failed to update recording")
			return
		}
	}

	if err := h.jobs.EnqueueRecordingUpload(ctx, queue.RecordingUploadPayload{
		RecordingID: rec.ID,
		ClassroomID: rec.ClassroomID,
		OriginalURL: body.FileURL,
	}); err != nil {
		h.logger.Error("enqueue recording upload failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		response.Internal(c, "failed to enqueue upload")
		return
	}

	h.logger.Info("recording_ready webhook processed", zap.String("recording_id", rec.ID.String()), zap.String("original_url", body.FileURL))
	c.JSON(http.StatusOK, gin.H{"success": true, "recording_id": rec.ID, "status": models.RecordingStatusProcessing})
}

func (h *WebhookHandler) lookup(ctx context.Context, providerID string, recordingID uuid.UUID) (*models.Recording, error) {
	if providerID != "" {
		rec, err := h.repo.GetByProviderID(ctx, providerID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if recordingID != uuid.Nil {
		rec, err := h.repo.GetByID(ctx, recordingID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}
