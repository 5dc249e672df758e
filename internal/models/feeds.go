package models

// ControlSnapshot is the payload of control feed events.
type ControlSnapshot struct {
	SessionID string        `json:"session_id"`
	Rev       int64         `json:"rev"`
	Status    SessionStatus `json:"status"`
	State     ControlState  `json:"state"`
}

// PresenceSnapshot is the payload of presence feed events.
type PresenceSnapshot struct {
	SessionID   string   `json:"session_id"`
	Rev         int64    `json:"rev"`
	ViewerCount int      `json:"viewer_count"`
	Viewers     []Viewer `json:"viewers"`
}

// ControlSnapshot returns the session's current control state and revision.
func (s *LiveSession) ControlSnapshot() ControlSnapshot {
	return ControlSnapshot{SessionID: s.ID, Rev: s.ControlRev, Status: s.Status, State: s.Control}
}

// PresenceSnapshot returns the session's viewer list and revision.
func (s *LiveSession) PresenceSnapshot() PresenceSnapshot {
	return PresenceSnapshot{
		SessionID:   s.ID,
		Rev:         s.PresenceRev,
		ViewerCount: s.ViewerCount,
		Viewers:     append([]Viewer(nil), s.Viewers...),
	}
}
