package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
)

// PionCapturer backs each device with a local sample track that a publisher
// peer connection can send.
type PionCapturer struct{}

// NewPionCapturer returns a capturer producing pion sample tracks.
func NewPionCapturer() *PionCapturer { return &PionCapturer{} }

// Acquire creates the track for d. Video devices use VP8, the microphone uses Opus.
func (PionCapturer) Acquire(sessionID string, d Device) (Handle, error) {
	var codec webrtc.RTPCodecCapability
	switch d {
	case DeviceCamera, DeviceScreen:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	case DeviceMicrophone:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	default:
		return nil, fmt.Errorf("unknown device %q", d)
	}
	track, err := webrtc.NewTrackLocalStaticSample(codec, string(d), "session-"+sessionID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", d, err)
	}
	return &TrackHandle{device: d, track: track}, nil
}

// TrackHandle is a device held as a pion track.
type TrackHandle struct {
	device   Device
	track    *webrtc.TrackLocalStaticSample
	mu       sync.Mutex
	released bool
}

func (h *TrackHandle) Device() Device { return h.device }

// Track returns the sample track, or nil once released.
func (h *TrackHandle) Track() *webrtc.TrackLocalStaticSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	return h.track
}

// Release drops the track. Later calls return an error.
func (h *TrackHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return fmt.Errorf("%s already released", h.device)
	}
	h.released = true
	h.track = nil
	return nil
}
