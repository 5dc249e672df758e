package models

import (
	"time"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// DefaultDescription is stored when a session is started without a description.
const DefaultDescription = "No description provided"

// Host identifies the user starting and controlling a session.
type Host struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Viewer is one connected participant of a session.
type Viewer struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen"`
}

// LiveSession is the full record of one broadcast.
// ViewerCount always equals len(Viewers); the revisions and LastMessageID
// sequence the chat, control and presence feeds.
type LiveSession struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	HostID        string        `json:"host_id"`
	HostName      string        `json:"host_name"`
	CreatedAt     time.Time     `json:"created_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	Status        SessionStatus `json:"status"`
	ViewerCount   int           `json:"viewer_count"`
	PeakViewers   int           `json:"peak_viewers"`
	Viewers       []Viewer      `json:"viewers"`
	Messages      []ChatMessage `json:"messages"`
	Control       ControlState  `json:"control_state"`
	ControlRev    int64         `json:"control_rev"`
	PresenceRev   int64         `json:"presence_rev"`
	LastMessageID int64         `json:"last_message_id"`
}

// SessionSummary is the directory listing shape of a session.
type SessionSummary struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	HostName    string        `json:"host_name"`
	CreatedAt   time.Time     `json:"created_at"`
	Status      SessionStatus `json:"status"`
	ViewerCount int           `json:"viewer_count"`
}

// IsEnded reports whether the session is frozen.
func (s *LiveSession) IsEnded() bool {
	return s.Status == SessionEnded
}

// Summary returns the directory view of the session.
func (s *LiveSession) Summary() SessionSummary {
	return SessionSummary{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		HostName:    s.HostName,
		CreatedAt:   s.CreatedAt,
		Status:      s.Status,
		ViewerCount: s.ViewerCount,
	}
}

// FindViewer returns the index of a viewer, or -1.
func (s *LiveSession) FindViewer(viewerID string) int {
	for i := range s.Viewers {
		if s.Viewers[i].ID == viewerID {
			return i
		}
	}
	return -1
}

// AddViewer appends a viewer and keeps the derived counts in step.
func (s *LiveSession) AddViewer(v Viewer) {
	s.Viewers = append(s.Viewers, v)
	s.syncViewerCount()
}

// RemoveViewer deletes a viewer by id, preserving join order. It returns the
// removed viewer and false when the viewer was not present.
func (s *LiveSession) RemoveViewer(viewerID string) (Viewer, bool) {
	gone := s.RemoveViewers(viewerID)
	if len(gone) == 0 {
		return Viewer{}, false
	}
	return gone[0], true
}

// RemoveViewers deletes the named viewers as one presence change.
func (s *LiveSession) RemoveViewers(viewerIDs ...string) []Viewer {
	drop := make(map[string]bool, len(viewerIDs))
	for _, id := range viewerIDs {
		drop[id] = true
	}
	var gone []Viewer
	kept := s.Viewers[:0]
	for _, v := range s.Viewers {
		if drop[v.ID] {
			gone = append(gone, v)
			continue
		}
		kept = append(kept, v)
	}
	if len(gone) == 0 {
		return nil
	}
	s.Viewers = kept
	s.syncViewerCount()
	return gone
}

func (s *LiveSession) syncViewerCount() {
	s.ViewerCount = len(s.Viewers)
	if s.ViewerCount > s.PeakViewers {
		s.PeakViewers = s.ViewerCount
	}
	s.PresenceRev++
}

// Clone returns a deep copy; stores hand out clones so readers never share
// memory with an in-flight mutation.
func (s *LiveSession) Clone() *LiveSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	c.Viewers = append([]Viewer(nil), s.Viewers...)
	c.Messages = make([]ChatMessage, len(s.Messages))
	for i, m := range s.Messages {
		c.Messages[i] = m.clone()
	}
	return &c
}
