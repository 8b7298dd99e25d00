package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/aura-meetbot/backend/pkg/queue"
	"github.com/aura-meetbot/backend/pkg/storage"
)

// ArtifactStore is the storage surface the processor needs; *storage.S3
// satisfies it.
type ArtifactStore interface {
	UploadFile(ctx context.Context, key, contentType, path string) (string, error)
	PresignDownload(ctx context.Context, key string) (string, error)
}

// DebugUploadProcessor processes debug recording upload jobs: read the
// session's screen recording from the local artifact path, upload it,
// remove the local file, and surface a presigned download URL for
// diagnostics.
type DebugUploadProcessor struct {
	store  ArtifactStore
	queue  *queue.Queue
	logger *zap.Logger
}

// NewDebugUploadProcessor creates a debug artifact upload processor.
func NewDebugUploadProcessor(store ArtifactStore, q *queue.Queue, logger *zap.Logger) *DebugUploadProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DebugUploadProcessor{store: store, queue: q, logger: logger}
}

// Process executes one debug upload job.
func (p *DebugUploadProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeDebugUpload {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.DebugUploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	if _, err := os.Stat(payload.FilePath); os.IsNotExist(err) {
		// The adapter never wrote a recording (debug disabled mid-session or
		// the session failed before capture started). Nothing to upload.
		p.logger.Info("no debug recording on disk",
			zap.String("session_id", payload.SessionID.String()),
			zap.String("path", payload.FilePath))
		return nil
	}

	key := storage.DebugKey(payload.SessionID.String())
	s3URL, err := p.store.UploadFile(ctx, key, "video/mp4", payload.FilePath)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if err := os.Remove(payload.FilePath); err != nil {
		p.logger.Warn("remove local debug recording", zap.Error(err), zap.String("path", payload.FilePath))
	}

	// The presigned URL is what an operator opens in a browser; the upload
	// already succeeded, so a presign failure is not a job failure.
	downloadURL, err := p.store.PresignDownload(ctx, key)
	if err != nil {
		p.logger.Warn("presign debug recording", zap.Error(err), zap.String("key", key))
		downloadURL = s3URL
	}

	p.logger.Info("debug recording uploaded",
		zap.String("session_id", payload.SessionID.String()),
		zap.String("s3_url", s3URL),
		zap.String("download_url", downloadURL))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *DebugUploadProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("debug upload worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}
