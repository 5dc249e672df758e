// Package archive exports ended sessions to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/pkg/queue"
	"github.com/hostelcast/livesession/pkg/storage"
)

const dequeueTimeout = 5 * time.Second

// Uploader stores an object and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// SessionSource loads sessions; nil means absent.
type SessionSource interface {
	Get(ctx context.Context, id string) (*models.LiveSession, error)
}

// Jobs is the archive job queue.
type Jobs interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Transcript is the archived form of an ended session.
type Transcript struct {
	Session     models.SessionSummary `json:"session"`
	HostID      string                `json:"host_id"`
	EndedAt     *time.Time            `json:"ended_at"`
	PeakViewers int                   `json:"peak_viewers"`
	Control     models.ControlState   `json:"final_control_state"`
	Messages    []models.ChatMessage  `json:"messages"`
	ArchivedAt  time.Time             `json:"archived_at"`
}

// NewTranscript builds the transcript of s.
func NewTranscript(s *models.LiveSession, at time.Time) Transcript {
	return Transcript{
		Session:     s.Summary(),
		HostID:      s.HostID,
		EndedAt:     s.EndedAt,
		PeakViewers: s.PeakViewers,
		Control:     s.Control,
		Messages:    s.Messages,
		ArchivedAt:  at.UTC(),
	}
}

// Processor uploads transcripts of ended sessions.
type Processor struct {
	sessions SessionSource
	uploader Uploader
	bucket   string
	jobs     Jobs
	logger   *zap.Logger
	backoff  time.Duration
}

// NewProcessor creates an archive processor writing to bucket.
func NewProcessor(sessions SessionSource, uploader Uploader, bucket string, jobs Jobs, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		sessions: sessions,
		uploader: uploader,
		bucket:   bucket,
		jobs:     jobs,
		logger:   logger,
		backoff:  queue.RetryBackoff,
	}
}

// Process executes one archive job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSessionArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	s, err := p.sessions.Get(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return fmt.Errorf("session not found: %s", payload.SessionID)
	}
	if !s.IsEnded() {
		return fmt.Errorf("session %s is still active", s.ID)
	}

	body, err := json.Marshal(NewTranscript(s, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	key := storage.TranscriptKey(s.ID)
	url, err := p.uploader.Upload(ctx, p.bucket, key, "application/json", bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	p.logger.Info("session archived",
		zap.String("session_id", s.ID),
		zap.String("key", key),
		zap.String("url", url),
		zap.Int("messages", len(s.Messages)))
	return nil
}

// Run dequeues and processes jobs until ctx is done. Failed jobs are retried
// through the queue and moved to the DLQ after queue.MaxRetries attempts.
func (p *Processor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("archive worker stopping")
			return
		}
		job, err := p.jobs.Dequeue(ctx, dequeueTimeout)
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
		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
