package models

import "encoding/json"

// VideoSource is the single active video source of a host.
type VideoSource string

const (
	SourceCamera VideoSource = "camera"
	SourceScreen VideoSource = "screen"
)

// Valid reports whether v is a known source.
func (v VideoSource) Valid() bool {
	return v == SourceCamera || v == SourceScreen
}

// ControlState is the host-authoritative media toggle state of a session.
// Screen share is the Source field, never a second video flag.
type ControlState struct {
	Video     bool        `json:"video"`
	Audio     bool        `json:"audio"`
	Source    VideoSource `json:"source"`
	Recording bool        `json:"recording"`
}

// DefaultControlState is applied when a session starts.
func DefaultControlState() ControlState {
	return ControlState{Video: true, Audio: true, Source: SourceCamera, Recording: false}
}

// ScreenShare reports whether the screen replaces the camera.
func (c ControlState) ScreenShare() bool {
	return c.Source == SourceScreen
}

// MarshalJSON adds the derived screen_share flag for clients.
func (c ControlState) MarshalJSON() ([]byte, error) {
	type plain ControlState
	return json.Marshal(struct {
		plain
		ScreenShare bool `json:"screen_share"`
	}{plain: plain(c), ScreenShare: c.ScreenShare()})
}
