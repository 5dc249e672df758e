package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/internal/store"
	"github.com/hostelcast/livesession/pkg/queue"
)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func (f *fakeUploader) Upload(_ context.Context, bucket, key, _ string, body io.Reader, _ int64) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[bucket+"/"+key] = buf.Bytes()
	return "https://example/" + key, nil
}

type fakeJobs struct {
	mu      sync.Mutex
	pending []*queue.Job
	retried []*queue.Job
}

func (f *fakeJobs) Dequeue(ctx context.Context, _ time.Duration) (*queue.Job, error) {
	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
		return nil, nil
	}
	defer f.mu.Unlock()
	job := f.pending[0]
	f.pending = f.pending[1:]
	return job, nil
}

func (f *fakeJobs) Retry(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.Attempt++
	f.retried = append(f.retried, job)
	return nil
}

func archiveJob(t *testing.T, sessionID string) *queue.Job {
	t.Helper()
	body, err := json.Marshal(queue.ArchivePayload{SessionID: sessionID})
	require.NoError(t, err)
	return &queue.Job{ID: "job-" + sessionID, Type: queue.JobTypeSessionArchive, Payload: body}
}

func seed(t *testing.T, ended bool) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore(time.Second)
	s := &models.LiveSession{ID: "s1", Title: "Rules Briefing", HostID: "host-1", CreatedAt: time.Now().UTC(), Status: models.SessionActive}
	s.Messages = []models.ChatMessage{{ID: 1, Sender: "Asha", Text: "hi", Kind: models.MessageViewer}}
	s.LastMessageID = 1
	if ended {
		at := time.Now().UTC()
		s.Status, s.EndedAt = models.SessionEnded, &at
	}
	require.NoError(t, st.Create(context.Background(), s))
	return st
}

func TestProcessUploadsTranscript(t *testing.T) {
	up := &fakeUploader{}
	p := NewProcessor(seed(t, true), up, "archive", &fakeJobs{}, zap.NewNop())

	require.NoError(t, p.Process(context.Background(), archiveJob(t, "s1")))

	raw, ok := up.objects["archive/transcripts/s1.json"]
	require.True(t, ok)
	var tr Transcript
	require.NoError(t, json.Unmarshal(raw, &tr))
	assert.Equal(t, "Rules Briefing", tr.Session.Title)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "hi", tr.Messages[0].Text)
}

func TestProcessRejectsActiveAndMissingSessions(t *testing.T) {
	p := NewProcessor(seed(t, false), &fakeUploader{}, "archive", &fakeJobs{}, zap.NewNop())
	assert.Error(t, p.Process(context.Background(), archiveJob(t, "s1")))
	assert.Error(t, p.Process(context.Background(), archiveJob(t, "missing")))
	assert.Error(t, p.Process(context.Background(), &queue.Job{Type: "email"}))
}

func TestRunRetriesFailedJobs(t *testing.T) {
	jobs := &fakeJobs{pending: []*queue.Job{archiveJob(t, "s1")}}
	p := NewProcessor(seed(t, true), &fakeUploader{fail: errors.New("s3 down")}, "archive", jobs, zap.NewNop())
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		return len(jobs.retried) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 1, jobs.retried[0].Attempt)
}
