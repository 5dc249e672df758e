// Package sessions manages the lifecycle of live sessions.
package sessions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/chat"
	"github.com/hostelcast/livesession/internal/control"
	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/internal/realtime"
	"github.com/hostelcast/livesession/internal/store"
	"github.com/hostelcast/livesession/internal/telemetry"
	"github.com/hostelcast/livesession/pkg/apperr"
)

const createAttempts = 3

var errAlreadyEnded = errors.New("already ended")

// MediaController holds and releases a session's capture devices.
type MediaController interface {
	Apply(sessionID string, rev int64, state models.ControlState)
	ReleaseAll(sessionID string)
}

// Archiver schedules the export of an ended session.
type Archiver interface {
	EnqueueArchive(ctx context.Context, sessionID string) error
}

// Manager starts, ends and lists sessions.
type Manager struct {
	store    store.Store
	pub      chat.Broadcaster
	logger   *zap.Logger
	media    MediaController
	archiver Archiver
	welcome  string
	baseURL  string
	now      func() time.Time
	newID    func() string
}

// NewManager creates a lifecycle manager.
func NewManager(st store.Store, pub chat.Broadcaster, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: st, pub: pub, logger: logger, now: time.Now, newID: uuid.NewString}
}

// SetMedia sets the device controller started and stopped with each session.
func (m *Manager) SetMedia(mc MediaController) { m.media = mc }

// SetArchiver sets the archiver notified when a session ends.
func (m *Manager) SetArchiver(a Archiver) { m.archiver = a }

// SetWelcomeMessage sets a system message posted when a session starts. Empty disables it.
func (m *Manager) SetWelcomeMessage(text string) { m.welcome = strings.TrimSpace(text) }

// SetViewBaseURL sets the public base used by ViewURL.
func (m *Manager) SetViewBaseURL(base string) { m.baseURL = strings.TrimRight(base, "/") }

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// ViewURL returns the join link viewers open for a session.
func (m *Manager) ViewURL(sessionID string) string {
	return m.baseURL + "/streams/view/" + sessionID
}

// StartSession creates an active session with default controls and no viewers.
func (m *Manager) StartSession(ctx context.Context, title, description string, host models.Host) (*models.LiveSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if strings.TrimSpace(host.ID) == "" {
		return nil, apperr.Validation("host id is required")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = models.DefaultDescription
	}

	var (
		s   *models.LiveSession
		err error
	)
	for attempt := 0; attempt < createAttempts; attempt++ {
		now := m.now().UTC()
		s = &models.LiveSession{
			ID:          m.newID(),
			Title:       title,
			Description: description,
			HostID:      host.ID,
			HostName:    strings.TrimSpace(host.Name),
			CreatedAt:   now,
			Status:      models.SessionActive,
			Viewers:     []models.Viewer{},
			Messages:    []models.ChatMessage{},
			Control:     models.DefaultControlState(),
		}
		if m.welcome != "" {
			chat.AppendSystem(s, m.welcome, now)
		}
		err = m.store.Create(ctx, s)
		if !errors.Is(err, apperr.ErrConflict) {
			break
		}
		m.logger.Warn("session id collision, retrying", zap.String("session_id", s.ID))
	}
	if err != nil {
		return nil, err
	}

	telemetry.SessionStarted()
	for range s.Messages {
		telemetry.MessagePosted(string(models.MessageSystem))
	}
	if m.media != nil {
		m.media.Apply(s.ID, s.ControlRev, s.Control)
	}
	m.logger.Info("session started", zap.String("session_id", s.ID), zap.String("host_id", s.HostID))
	return s.Clone(), nil
}

// EndSession freezes a session. Ending an ended session returns it unchanged.
func (m *Manager) EndSession(ctx context.Context, sessionID string) (*models.LiveSession, error) {
	updated, err := m.store.Update(ctx, sessionID, func(s *models.LiveSession) error {
		if s.IsEnded() {
			return errAlreadyEnded
		}
		ended := m.now().UTC()
		s.Status = models.SessionEnded
		s.EndedAt = &ended
		s.ControlRev++
		return nil
	})
	if errors.Is(err, errAlreadyEnded) {
		return m.Get(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}

	telemetry.SessionEnded()
	telemetry.ViewersLeft(updated.ViewerCount, false)
	if m.media != nil {
		m.media.ReleaseAll(sessionID)
	}
	control.PublishSnapshot(m.pub, m.logger, updated.ControlSnapshot(), realtime.EventSessionEnded)
	if m.archiver != nil {
		if err := m.archiver.EnqueueArchive(ctx, sessionID); err != nil {
			m.logger.Error("enqueue archive", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	m.logger.Info("session ended",
		zap.String("session_id", sessionID),
		zap.Int("viewers", updated.ViewerCount),
		zap.Int("peak_viewers", updated.PeakViewers))
	return updated, nil
}

// EndSessionAsHost ends a session on behalf of hostID.
func (m *Manager) EndSessionAsHost(ctx context.Context, sessionID, hostID string) (*models.LiveSession, error) {
	s, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.HostID != hostID {
		return nil, apperr.Unauthorized("only the host can end the session")
	}
	return m.EndSession(ctx, sessionID)
}

// Get returns a session snapshot.
func (m *Manager) Get(ctx context.Context, sessionID string) (*models.LiveSession, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.NotFound("session %s not found", sessionID)
	}
	return s, nil
}

// List returns every session, newest first.
func (m *Manager) List(ctx context.Context) ([]models.SessionSummary, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.SessionSummary, 0, len(all))
	for _, s := range all {
		out = append(out, s.Summary())
	}
	return out, nil
}
