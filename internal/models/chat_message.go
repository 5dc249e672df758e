package models

import "time"

// MessageKind classifies chat messages.
type MessageKind string

const (
	MessageSystem MessageKind = "system"
	MessageHost   MessageKind = "host"
	MessageViewer MessageKind = "viewer"
)

// SystemSender is the sender name of system messages.
const SystemSender = "System"

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageSystem, MessageHost, MessageViewer:
		return true
	}
	return false
}

// ChatMessage is one entry of a session's append-only chat log.
// ID is the per-session sequence number (1, 2, 3...).
type ChatMessage struct {
	ID        int64       `json:"id"`
	Sender    string      `json:"sender"`
	SenderID  string      `json:"sender_id,omitempty"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
	Kind      MessageKind `json:"kind"`
	RefID     *int64      `json:"ref_id,omitempty"` // moderation notices point at the removed message
}

func (m ChatMessage) clone() ChatMessage {
	if m.RefID != nil {
		ref := *m.RefID
		m.RefID = &ref
	}
	return m
}
