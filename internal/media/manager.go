// Package media holds the capture devices a session's control state asks for.
package media

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/models"
)

// Device is one capture input.
type Device string

const (
	DeviceCamera     Device = "camera"
	DeviceMicrophone Device = "microphone"
	DeviceScreen     Device = "screen"
)

// Handle is an acquired device. Release must be safe to call once per handle.
type Handle interface {
	Device() Device
	Release() error
}

// Capturer acquires devices for a session.
type Capturer interface {
	Acquire(sessionID string, d Device) (Handle, error)
}

// Desired returns the devices a control state needs, sorted.
func Desired(state models.ControlState) []Device {
	var out []Device
	if state.Video {
		if state.ScreenShare() {
			out = append(out, DeviceScreen)
		} else {
			out = append(out, DeviceCamera)
		}
	}
	if state.Audio {
		out = append(out, DeviceMicrophone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// endedRetention is how long an ended session keeps rejecting late Apply calls.
const endedRetention = time.Minute

type sessionMedia struct {
	rev     int64
	applied bool
	handles map[Device]Handle
}

// Manager reconciles held devices with each session's latest control state.
// Changes are applied in revision order; a state older than the last applied
// one is ignored.
type Manager struct {
	capturer Capturer
	logger   *zap.Logger
	mu       sync.Mutex
	sessions map[string]*sessionMedia
	ended    map[string]time.Time
	now      func() time.Time
}

// NewManager creates a media manager.
func NewManager(capturer Capturer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		capturer: capturer,
		logger:   logger,
		sessions: make(map[string]*sessionMedia),
		ended:    make(map[string]time.Time),
		now:      time.Now,
	}
}

// Apply brings the session's devices in line with state at revision rev.
func (m *Manager) Apply(sessionID string, rev int64, state models.ControlState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, gone := m.ended[sessionID]; gone {
		return
	}
	sm, ok := m.sessions[sessionID]
	if !ok {
		sm = &sessionMedia{handles: make(map[Device]Handle)}
		m.sessions[sessionID] = sm
	}
	if sm.applied && rev <= sm.rev {
		return
	}
	sm.rev, sm.applied = rev, true

	want := make(map[Device]bool)
	for _, d := range Desired(state) {
		want[d] = true
	}
	for d, h := range sm.handles {
		if !want[d] {
			m.release(sessionID, h)
			delete(sm.handles, d)
		}
	}
	for d := range want {
		if _, held := sm.handles[d]; held {
			continue
		}
		h, err := m.capturer.Acquire(sessionID, d)
		if err != nil {
			m.logger.Error("acquire device", zap.String("session_id", sessionID), zap.String("device", string(d)), zap.Error(err))
			continue
		}
		sm.handles[d] = h
	}
}

// ReleaseAll releases every device of a session and forgets it. Apply calls
// for the session arriving within endedRetention are ignored.
func (m *Manager) ReleaseAll(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sm, ok := m.sessions[sessionID]; ok {
		for _, h := range sm.handles {
			m.release(sessionID, h)
		}
		delete(m.sessions, sessionID)
	}
	now := m.now()
	for id, at := range m.ended {
		if now.Sub(at) > endedRetention {
			delete(m.ended, id)
		}
	}
	m.ended[sessionID] = now
}

// Active returns the devices currently held for a session, sorted.
func (m *Manager) Active(sessionID string) []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Device, 0, len(sm.handles))
	for d := range sm.handles {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close releases every device of every session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for id, sm := range m.sessions {
		for d, h := range sm.handles {
			if err := h.Release(); err != nil {
				errs = append(errs, fmt.Errorf("session %s %s: %w", id, d, err))
			}
			delete(sm.handles, d)
		}
	}
	m.sessions = make(map[string]*sessionMedia)
	m.ended = make(map[string]time.Time)
	return errors.Join(errs...)
}

func (m *Manager) release(sessionID string, h Handle) {
	if err := h.Release(); err != nil {
		m.logger.Warn("release device", zap.String("session_id", sessionID), zap.String("device", string(h.Device())), zap.Error(err))
	}
}
