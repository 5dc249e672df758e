// Package presence tracks which viewers are in a session.
package presence

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/chat"
	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/internal/realtime"
	"github.com/hostelcast/livesession/internal/store"
	"github.com/hostelcast/livesession/internal/telemetry"
	"github.com/hostelcast/livesession/pkg/apperr"
)

// DefaultHeartbeatTimeout is how long a viewer may stay silent before the sweep removes it.
const DefaultHeartbeatTimeout = 30 * time.Second

// Leave reasons recorded for attendance.
const (
	ReasonLeft    = "left"
	ReasonTimeout = "timeout"
	ReasonRemoved = "removed"
)

// errNoop aborts a mutation that would change nothing.
var errNoop = errors.New("no change")

// AttendanceRecorder persists join and leave history. Failures are logged, not returned.
type AttendanceRecorder interface {
	RecordJoin(ctx context.Context, sessionID string, v models.Viewer) error
	RecordLeave(ctx context.Context, sessionID string, v models.Viewer, reason string, at time.Time) error
}

// Tracker maintains the viewer list of each session.
type Tracker struct {
	store    store.Store
	pub      chat.Broadcaster
	logger   *zap.Logger
	timeout  time.Duration
	announce bool
	recorder AttendanceRecorder
	now      func() time.Time
	newID    func() string
}

// NewTracker creates a tracker. timeout <= 0 uses DefaultHeartbeatTimeout.
func NewTracker(st store.Store, pub chat.Broadcaster, timeout time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &Tracker{
		store:   st,
		pub:     pub,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// SetAnnounce enables "X joined" and "X left" system messages.
func (t *Tracker) SetAnnounce(on bool) { t.announce = on }

// SetRecorder sets the attendance recorder.
func (t *Tracker) SetRecorder(r AttendanceRecorder) { t.recorder = r }

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Timeout returns the heartbeat timeout.
func (t *Tracker) Timeout() time.Duration { return t.timeout }

// Join adds a viewer with a fresh id. Two joins with the same name are two viewers.
func (t *Tracker) Join(ctx context.Context, sessionID, name string) (*models.Viewer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("viewer name is required")
	}
	if !utf8.ValidString(name) {
		return nil, apperr.Validation("viewer name must be valid UTF-8")
	}
	var (
		viewer models.Viewer
		notes  []models.ChatMessage
	)
	updated, err := t.store.Update(ctx, sessionID, func(s *models.LiveSession) error {
		if s.IsEnded() {
			return apperr.Ended(sessionID)
		}
		now := t.now().UTC()
		viewer = models.Viewer{ID: t.newID(), Name: name, JoinedAt: now, LastSeen: now}
		s.AddViewer(viewer)
		notes = nil
		if t.announce {
			notes = append(notes, chat.AppendSystem(s, name+" joined the session", now))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	telemetry.ViewerJoined()
	t.publish(updated, notes)
	if t.recorder != nil {
		if err := t.recorder.RecordJoin(ctx, sessionID, viewer); err != nil {
			t.logger.Warn("record join", zap.String("session_id", sessionID), zap.String("viewer_id", viewer.ID), zap.Error(err))
		}
	}
	t.logger.Info("viewer joined", zap.String("session_id", sessionID), zap.String("viewer_id", viewer.ID))
	return &viewer, nil
}

// Leave removes a viewer. Leaving twice, or leaving an ended session, is a no-op.
func (t *Tracker) Leave(ctx context.Context, sessionID, viewerID string) error {
	_, err := t.remove(ctx, sessionID, ReasonLeft, func(s *models.LiveSession) ([]string, error) {
		if s.IsEnded() || s.FindViewer(viewerID) < 0 {
			return nil, errNoop
		}
		return []string{viewerID}, nil
	})
	return err
}

// Kick removes a viewer on the host's behalf.
func (t *Tracker) Kick(ctx context.Context, sessionID, hostID, viewerID string) error {
	_, err := t.remove(ctx, sessionID, ReasonRemoved, func(s *models.LiveSession) ([]string, error) {
		if s.HostID != hostID {
			return nil, apperr.Unauthorized("only the host can remove viewers")
		}
		if s.IsEnded() {
			return nil, apperr.Ended(sessionID)
		}
		if s.FindViewer(viewerID) < 0 {
			return nil, apperr.NotFound("viewer %s is not in session %s", viewerID, sessionID)
		}
		return []string{viewerID}, nil
	})
	return err
}

// Heartbeat records that a viewer is still connected. The presence revision
// does not change.
func (t *Tracker) Heartbeat(ctx context.Context, sessionID, viewerID string, now time.Time) error {
	_, err := t.store.Update(ctx, sessionID, func(s *models.LiveSession) error {
		if s.IsEnded() {
			return apperr.Ended(sessionID)
		}
		i := s.FindViewer(viewerID)
		if i < 0 {
			return apperr.NotFound("viewer %s is not in session %s", viewerID, sessionID)
		}
		if now.After(s.Viewers[i].LastSeen) {
			s.Viewers[i].LastSeen = now.UTC()
		}
		return nil
	})
	return err
}

// Viewers returns the current viewer list and presence revision.
func (t *Tracker) Viewers(ctx context.Context, sessionID string) (models.PresenceSnapshot, error) {
	s, err := t.store.Get(ctx, sessionID)
	if err != nil {
		return models.PresenceSnapshot{}, err
	}
	if s == nil {
		return models.PresenceSnapshot{}, apperr.NotFound("session %s not found", sessionID)
	}
	return s.PresenceSnapshot(), nil
}

// Subscribe returns the current presence snapshot and a subscription for later changes.
func (t *Tracker) Subscribe(ctx context.Context, sessionID string) (models.PresenceSnapshot, *realtime.Subscription, error) {
	sub := t.pub.Subscribe(sessionID, realtime.StreamPresence)
	snap, err := t.Viewers(ctx, sessionID)
	if err != nil {
		sub.Close()
		return models.PresenceSnapshot{}, nil, err
	}
	sub.Prime(realtime.StreamPresence, snap.Rev)
	return snap, sub, nil
}

// Sweep removes viewers whose last heartbeat is older than the timeout and
// returns how many were removed. Staleness is re-checked under the session
// lock, so a heartbeat committed first always wins.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	sessions, err := t.store.List(ctx)
	if err != nil {
		return 0, err
	}
	now := t.now()
	total := 0
	for _, s := range sessions {
		if s.IsEnded() || len(t.stale(s, now)) == 0 {
			continue
		}
		removed, err := t.remove(ctx, s.ID, ReasonTimeout, func(cur *models.LiveSession) ([]string, error) {
			if cur.IsEnded() {
				return nil, errNoop
			}
			ids := t.stale(cur, now)
			if len(ids) == 0 {
				return nil, errNoop
			}
			return ids, nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			t.logger.Warn("presence sweep", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		total += removed
	}
	return total, nil
}

func (t *Tracker) stale(s *models.LiveSession, now time.Time) []string {
	var ids []string
	for _, v := range s.Viewers {
		if now.Sub(v.LastSeen) > t.timeout {
			ids = append(ids, v.ID)
		}
	}
	return ids
}

// Run sweeps every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = t.timeout / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := t.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				t.logger.Error("presence sweep failed", zap.Error(err))
			}
			if n > 0 {
				t.logger.Info("stale viewers removed", zap.Int("count", n))
			}
		}
	}
}

// remove runs pick under the session lock and removes the viewers it names.
func (t *Tracker) remove(ctx context.Context, sessionID, reason string, pick func(*models.LiveSession) ([]string, error)) (int, error) {
	var (
		gone  []models.Viewer
		notes []models.ChatMessage
		at    time.Time
	)
	updated, err := t.store.Update(ctx, sessionID, func(s *models.LiveSession) error {
		ids, err := pick(s)
		if err != nil {
			return err
		}
		at = t.now().UTC()
		gone = s.RemoveViewers(ids...)
		if len(gone) == 0 {
			return errNoop
		}
		notes = nil
		if t.announce {
			for _, v := range gone {
				notes = append(notes, chat.AppendSystem(s, leaveNotice(v.Name, reason), at))
			}
		}
		return nil
	})
	if errors.Is(err, errNoop) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	telemetry.ViewersLeft(len(gone), reason == ReasonTimeout)
	t.publish(updated, notes)
	for _, v := range gone {
		if t.recorder != nil {
			if err := t.recorder.RecordLeave(ctx, sessionID, v, reason, at); err != nil {
				t.logger.Warn("record leave", zap.String("session_id", sessionID), zap.String("viewer_id", v.ID), zap.Error(err))
			}
		}
		t.logger.Info("viewer left", zap.String("session_id", sessionID), zap.String("viewer_id", v.ID), zap.String("reason", reason))
	}
	return len(gone), nil
}

func leaveNotice(name, reason string) string {
	switch reason {
	case ReasonTimeout:
		return name + " lost connection"
	case ReasonRemoved:
		return name + " was removed by the host"
	}
	return name + " left the session"
}

func (t *Tracker) publish(s *models.LiveSession, notes []models.ChatMessage) {
	if t.pub != nil {
		ev, err := realtime.NewEvent(s.ID, realtime.StreamPresence, s.PresenceRev, realtime.EventPresence, s.PresenceSnapshot())
		if err != nil {
			t.logger.Error("presence event", zap.String("session_id", s.ID), zap.Error(err))
		} else {
			t.pub.Publish(ev)
		}
	}
	chat.PublishMessages(t.pub, t.logger, s.ID, notes...)
}
