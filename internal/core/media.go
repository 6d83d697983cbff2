package core

import (
	"context"
	"errors"
)

var ErrCapture = errors.New("capture device error")

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is a local or remote media track. SetEnabled mutes without stopping;
// Stop releases the underlying device and is final.
type Track interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	Stop()
}

// ScreenTrack is a video track backed by a screen capture. OnEnded fires when
// the OS-level share indicator is dismissed.
type ScreenTrack interface {
	Track
	OnEnded(func())
}

// MediaStream groups the tracks sent to or received from one peer.
type MediaStream struct {
	ID    string
	Audio Track
	Video Track
}

// Devices acquires local capture tracks. Acquisition may block on user
// permission prompts, so callers must not hold state locks while waiting.
type Devices interface {
	CaptureAudio(ctx context.Context) (Track, error)
	CaptureVideo(ctx context.Context) (Track, error)
	CaptureScreen(ctx context.Context) (ScreenTrack, error)
}
