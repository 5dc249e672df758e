package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Stream names one ordered feed of a session.
type Stream string

const (
	StreamChat     Stream = "chat"
	StreamControl  Stream = "control"
	StreamPresence Stream = "presence"
)

// Event names sent to clients.
const (
	EventChatHistory  = "chat_history"
	EventChatMessage  = "chat_message"
	EventControlState = "control_state"
	EventSessionEnded = "session_ended"
	EventPresence     = "presence"
	EventError        = "error"
)

// Event is one sequenced change of a session stream. Seq is gap-free per
// (SessionID, Stream): chat uses message ids, control and presence use the
// session's revisions.
type Event struct {
	SessionID string          `json:"session_id"`
	Stream    Stream          `json:"stream"`
	Seq       int64           `json:"seq"`
	Name      string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals payload into an event.
func NewEvent(sessionID string, stream Stream, seq int64, name string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{SessionID: sessionID, Stream: stream, Seq: seq, Name: name, Data: data}, nil
}

var errSessionGone = errors.New("session no longer exists")
