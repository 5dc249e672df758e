// Package control applies host media toggles and broadcasts the resulting state.
package control

import (
	"context"

	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/chat"
	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/internal/realtime"
	"github.com/hostelcast/livesession/internal/store"
	"github.com/hostelcast/livesession/internal/telemetry"
	"github.com/hostelcast/livesession/pkg/apperr"
)

// Field names one control toggle.
type Field string

const (
	FieldVideo       Field = "video"
	FieldAudio       Field = "audio"
	FieldScreenShare Field = "screen_share"
	FieldSource      Field = "source"
	FieldRecording   Field = "recording"
)

// Change is one host request. Boolean fields use Enabled; FieldSource uses Source.
// Enabling screen_share selects the screen source, disabling it selects the camera.
type Change struct {
	Field   Field              `json:"field"`
	Enabled *bool              `json:"enabled,omitempty"`
	Source  models.VideoSource `json:"source,omitempty"`
}

// Set returns a change of a boolean field.
func Set(f Field, enabled bool) Change {
	return Change{Field: f, Enabled: &enabled}
}

// UseSource returns a change of the active video source.
func UseSource(src models.VideoSource) Change {
	return Change{Field: FieldSource, Source: src}
}

// Validate rejects unknown fields and missing values.
func (c Change) Validate() error {
	switch c.Field {
	case FieldVideo, FieldAudio, FieldScreenShare, FieldRecording:
		if c.Enabled == nil {
			return apperr.Validation("%s requires enabled", c.Field)
		}
	case FieldSource:
		if !c.Source.Valid() {
			return apperr.Validation("unknown video source %q", c.Source)
		}
	default:
		return apperr.Validation("unknown control field %q", c.Field)
	}
	return nil
}

// Apply returns state with the change applied. Validate must pass first.
func (c Change) Apply(state models.ControlState) models.ControlState {
	switch c.Field {
	case FieldVideo:
		state.Video = *c.Enabled
	case FieldAudio:
		state.Audio = *c.Enabled
	case FieldRecording:
		state.Recording = *c.Enabled
	case FieldScreenShare:
		if *c.Enabled {
			state.Source = models.SourceScreen
		} else {
			state.Source = models.SourceCamera
		}
	case FieldSource:
		state.Source = c.Source
	}
	return state
}

// MediaApplier reconciles capture devices with a control state.
type MediaApplier interface {
	Apply(sessionID string, rev int64, state models.ControlState)
}

// Synchronizer owns the control state of every session.
type Synchronizer struct {
	store  store.Store
	pub    chat.Broadcaster
	media  MediaApplier
	logger *zap.Logger
}

// NewSynchronizer creates a synchronizer. media may be nil.
func NewSynchronizer(st store.Store, pub chat.Broadcaster, media MediaApplier, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{store: st, pub: pub, media: media, logger: logger}
}

// SetControl applies a host change. Only the session's host may call it, and
// never after the session has ended. Every accepted change advances the
// control revision, even when the field already had the requested value.
func (y *Synchronizer) SetControl(ctx context.Context, sessionID, hostID string, change Change) (models.ControlSnapshot, error) {
	if err := change.Validate(); err != nil {
		return models.ControlSnapshot{}, err
	}
	updated, err := y.store.Update(ctx, sessionID, func(s *models.LiveSession) error {
		if s.HostID != hostID {
			return apperr.Unauthorized("only the host can change controls")
		}
		if s.IsEnded() {
			return apperr.Ended(sessionID)
		}
		s.Control = change.Apply(s.Control)
		s.ControlRev++
		return nil
	})
	if err != nil {
		return models.ControlSnapshot{}, err
	}
	snap := updated.ControlSnapshot()
	telemetry.ControlChanged(string(change.Field))
	y.publish(snap, realtime.EventControlState)
	if y.media != nil {
		y.media.Apply(sessionID, snap.Rev, snap.State)
	}
	y.logger.Info("control changed",
		zap.String("session_id", sessionID),
		zap.String("field", string(change.Field)),
		zap.Int64("rev", snap.Rev))
	return snap, nil
}

// GetControl returns the current control state. Ended sessions keep their last state.
func (y *Synchronizer) GetControl(ctx context.Context, sessionID string) (models.ControlSnapshot, error) {
	s, err := y.store.Get(ctx, sessionID)
	if err != nil {
		return models.ControlSnapshot{}, err
	}
	if s == nil {
		return models.ControlSnapshot{}, apperr.NotFound("session %s not found", sessionID)
	}
	return s.ControlSnapshot(), nil
}

// Subscribe returns the current control snapshot and a subscription for later
// changes, including the session_ended event.
func (y *Synchronizer) Subscribe(ctx context.Context, sessionID string) (models.ControlSnapshot, *realtime.Subscription, error) {
	sub := y.pub.Subscribe(sessionID, realtime.StreamControl)
	snap, err := y.GetControl(ctx, sessionID)
	if err != nil {
		sub.Close()
		return models.ControlSnapshot{}, nil, err
	}
	sub.Prime(realtime.StreamControl, snap.Rev)
	return snap, sub, nil
}

func (y *Synchronizer) publish(snap models.ControlSnapshot, name string) {
	PublishSnapshot(y.pub, y.logger, snap, name)
}

// PublishSnapshot sends a control feed event carrying snap.
func PublishSnapshot(pub chat.Broadcaster, logger *zap.Logger, snap models.ControlSnapshot, name string) {
	if pub == nil {
		return
	}
	ev, err := realtime.NewEvent(snap.SessionID, realtime.StreamControl, snap.Rev, name, snap)
	if err != nil {
		logger.Error("control event", zap.String("session_id", snap.SessionID), zap.Error(err))
		return
	}
	pub.Publish(ev)
}
