package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinderly/liveclass/internal/models"
	"github.com/kinderly/liveclass/pkg/queue"
	"github.com/kinderly/liveclass/pkg/storage"
)

// Store is the recording persistence the worker needs (implemented by recordings.Repository).
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	UpdateS3Result(ctx context.Context, id uuid.UUID, s3URL, s3Key string, fileSize int64, duration int) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

// Uploader writes recordings to object storage (implemented by storage.S3).
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
}

// JobQueue is the job source (implemented by queue.Queue).
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) (dead bool, err error)
}

// Counter records job outcomes (implemented by metrics.Metrics).
type Counter interface {
	JobProcessed(jobType, outcome string)
}

// RecordingProcessor uploads recordings to S3 and completes their rows. Provider recordings are
// downloaded from a URL; in-app recordings are read from the shared recording directory.
type RecordingProcessor struct {
	recRepo Store
	s3      Uploader
	queue   JobQueue
	metrics Counter
	http    *http.Client
	backoff time.Duration
	logger  *zap.Logger
}

// NewRecordingProcessor creates a recording upload processor. metrics may be nil.
func NewRecordingProcessor(recRepo Store, s3 Uploader, q JobQueue, metrics Counter, logger *zap.Logger) *RecordingProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingProcessor{
		recRepo: recRepo,
		s3:      s3,
		queue:   q,
		metrics: metrics,
		http:    &http.Client{Timeout: 30 * time.Minute},
		backoff: queue.RetryBackoff,
		logger:  logger,
	}
}

// Process executes one recording job.
func (p *RecordingProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeRecordingUpload && job.Type != queue.JobTypeRecordingFile {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.RecordingUploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	rec, err := p.recRepo.GetByID(ctx, payload.RecordingID)
	if err != nil {
		return fmt.Errorf("get recording %s: %w", payload.RecordingID, err)
	}
	if rec.Status == models.RecordingStatusCompleted {
		p.logger.Info("recording already completed", zap.String("recording_id", rec.ID.String()))
		p.cleanup(payload.LocalPath)
		return nil
	}

	key := storage.RecordingKey(rec.ClassroomID.String(), rec.ID.String())
	// A previous attempt may have uploaded the object and then failed to update the row.
	if ok, err := p.s3.Exists(ctx, key); err != nil {
		p.logger.Warn("s3 head failed", zap.Error(err), zap.String("s3_key", key))
	} else if ok {
		if err := p.recRepo.UpdateS3Result(ctx, rec.ID, p.s3.URL(key), key, rec.FileSize, 0); err != nil {
			return fmt.Errorf("update db: %w", err)
		}
		p.cleanup(payload.LocalPath)
		return nil
	}

	var (
		body        io.ReadCloser
		size        int64
		contentType = "video/mp4"
	)
	if job.Type == queue.JobTypeRecordingFile {
		body, size, err = openLocal(payload.LocalPath)
	} else {
		body, size, contentType, err = p.download(ctx, payload.OriginalURL)
	}
	if err != nil {
		return err
	}
	defer body.Close()

	s3URL, err := p.s3.Upload(ctx, key, contentType, body, size)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.recRepo.UpdateS3Result(ctx, rec.ID, s3URL, key, size, 0); err != nil {
		p.logger.Error("update recording S3 result failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		return fmt.Errorf("update db: %w", err)
	}
	p.cleanup(payload.LocalPath)

	p.logger.Info("recording upload completed", zap.String("recording_id", rec.ID.String()),
		zap.String("s3_key", key), zap.Int64("size", size))
	return nil
}

func openLocal(path string) (io.ReadCloser, int64, error) {
	if path == "" {
		return nil, 0, errors.New("recording file job without local_path")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open recording file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat recording file: %w", err)
	}
	return f, info.Size(), nil
}

// download streams the provider file; the body is passed straight to the S3 uploader.
func (p *RecordingProcessor) download(ctx context.Context, url string) (io.ReadCloser, int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("create request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, "", fmt.Errorf("download status: %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	return resp.Body, resp.ContentLength, contentType, nil
}

func (p *RecordingProcessor) cleanup(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("remove recording file failed", zap.Error(err), zap.String("path", path))
	}
}

// Handle processes one job and retries or dead-letters it on failure. It returns the processing error.
func (p *RecordingProcessor) Handle(ctx context.Context, job *queue.Job) error {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	err := p.Process(ctx, job)
	if err == nil {
		p.count(job, "ok")
		return nil
	}
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
	dead, reErr := p.queue.Retry(ctx, job)
	if reErr != nil {
		p.logger.Error("retry enqueue failed", zap.Error(reErr))
	}
	if !dead {
		p.count(job, "retry")
		return err
	}
	p.count(job, "failed")
	var payload queue.RecordingUploadPayload
	if json.Unmarshal(job.Payload, &payload) == nil && payload.RecordingID != uuid.Nil {
		if err := p.recRepo.UpdateStatus(ctx, payload.RecordingID, models.RecordingStatusFailed); err != nil {
			p.logger.Error("mark recording failed", zap.Error(err), zap.String("recording_id", payload.RecordingID.String()))
		}
	}
	return err
}

func (p *RecordingProcessor) count(job *queue.Job, outcome string) {
	if p.metrics != nil {
		p.metrics.JobProcessed(string(job.Type), outcome)
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *RecordingProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("recording worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}
		if err := p.Handle(ctx, job); err != nil {
			p.sleep(ctx)
		}
	}
}

func (p *RecordingProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
