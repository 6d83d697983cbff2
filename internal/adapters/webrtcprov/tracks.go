package webrtcprov

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/timigs/teamsync/internal/core"
)

// rtpTrack is the provider-side view of a local track. Calls type-assert to
// it when attaching tracks to a peer connection.
type rtpTrack interface {
	RTPTrack() webrtc.TrackLocal
}

type localTrack struct {
	kind  core.TrackKind
	track webrtc.TrackLocal

	mu      sync.Mutex
	enabled bool
	stopped bool
	stop    func()
}

func newLocalTrack(kind core.TrackKind, track webrtc.TrackLocal, stop func()) *localTrack {
	return &localTrack{kind: kind, track: track, enabled: true, stop: stop}
}

func (t *localTrack) Kind() core.TrackKind { return t.kind }

func (t *localTrack) RTPTrack() webrtc.TrackLocal { return t.track }

func (t *localTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled mutes without releasing the device; the sample feeder checks it.
func (t *localTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *localTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	stop := t.stop
	t.mu.Unlock()
	if stop != nil {
		stop()
	}
}

type screenTrack struct {
	*localTrack

	endedMu sync.Mutex
	onEnded func()
}

func (t *screenTrack) OnEnded(fn func()) {
	t.endedMu.Lock()
	t.onEnded = fn
	t.endedMu.Unlock()
}

func (t *screenTrack) fireEnded() {
	t.endedMu.Lock()
	fn := t.onEnded
	t.endedMu.Unlock()
	if fn != nil {
		fn()
	}
}

// remoteTrack wraps an inbound RTP track. Stop is a no-op; the remote side
// owns the device.
type remoteTrack struct {
	kind  core.TrackKind
	track *webrtc.TrackRemote

	mu      sync.Mutex
	enabled bool
}

func newRemoteTrack(tr *webrtc.TrackRemote) *remoteTrack {
	kind := core.TrackAudio
	if tr.Kind() == webrtc.RTPCodecTypeVideo {
		kind = core.TrackVideo
	}
	return &remoteTrack{kind: kind, track: tr, enabled: true}
}

func (t *remoteTrack) Kind() core.TrackKind { return t.kind }

func (t *remoteTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *remoteTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *remoteTrack) Stop() {}

// TrackFactory acquires a platform capture device and returns the RTP track
// plus a release function. Capture itself is platform code outside this core.
type TrackFactory func(ctx context.Context, kind core.TrackKind) (webrtc.TrackLocal, func(), error)

// ScreenFactory additionally yields a channel closed when the OS-level share
// indicator is dismissed.
type ScreenFactory func(ctx context.Context) (webrtc.TrackLocal, func(), <-chan struct{}, error)

// Devices implements core.Devices on top of host-supplied factories.
type Devices struct {
	factory TrackFactory
	screen  ScreenFactory
}

func NewDevices(factory TrackFactory, screen ScreenFactory) *Devices {
	return &Devices{factory: factory, screen: screen}
}

func (d *Devices) CaptureAudio(ctx context.Context) (core.Track, error) {
	tl, stop, err := d.factory(ctx, core.TrackAudio)
	if err != nil {
		return nil, fmt.Errorf("%w: audio: %v", core.ErrCapture, err)
	}
	return newLocalTrack(core.TrackAudio, tl, stop), nil
}

func (d *Devices) CaptureVideo(ctx context.Context) (core.Track, error) {
	tl, stop, err := d.factory(ctx, core.TrackVideo)
	if err != nil {
		return nil, fmt.Errorf("%w: video: %v", core.ErrCapture, err)
	}
	return newLocalTrack(core.TrackVideo, tl, stop), nil
}

func (d *Devices) CaptureScreen(ctx context.Context) (core.ScreenTrack, error) {
	tl, stop, ended, err := d.screen(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: screen: %v", core.ErrCapture, err)
	}
	st := &screenTrack{localTrack: newLocalTrack(core.TrackVideo, tl, stop)}
	if ended != nil {
		go func() {
			<-ended
			st.fireEnded()
		}()
	}
	return st, nil
}

// StaticTrackFactory builds silent static-sample tracks; useful for the demo
// CLI and for hosts that feed samples in separately.
func StaticTrackFactory(ctx context.Context, kind core.TrackKind) (webrtc.TrackLocal, func(), error) {
	caps := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	if kind == core.TrackVideo {
		caps = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	}
	tl, err := webrtc.NewTrackLocalStaticSample(caps, uuid.NewString(), "teamsync")
	if err != nil {
		return nil, nil, err
	}
	return tl, func() {}, nil
}

// StaticScreenFactory pairs StaticTrackFactory with a share-end channel the
// host closes when the user stops sharing.
func StaticScreenFactory(ended <-chan struct{}) ScreenFactory {
	return func(ctx context.Context) (webrtc.TrackLocal, func(), <-chan struct{}, error) {
		tl, stop, err := StaticTrackFactory(ctx, core.TrackVideo)
		if err != nil {
			return nil, nil, nil, err
		}
		return tl, stop, ended, nil
	}
}
