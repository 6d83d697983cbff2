// Package media owns the local participant's voice/video lifecycle. It is an
// independent state machine layered on the session's peer set: the session
// tells it who to call, the manager reports status changes back.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/timigs/teamsync/internal/core"
	"github.com/timigs/teamsync/internal/domain"
)

var ErrNotInVoice = errors.New("no active voice session")

// Caller is the slice of the provider the manager needs.
type Caller interface {
	Call(ctx context.Context, target core.PeerID, local *core.MediaStream) (core.Call, error)
}

// Hooks let the session inject topology and presence without an import cycle.
// CallTargets returns the peers this participant dials when joining voice:
// every connected peer for the leader, only the leader for a member.
type Hooks struct {
	CallTargets func() []core.PeerID
	OnStatus    func(domain.Status)
}

type Manager struct {
	caller  Caller
	devices core.Devices
	hooks   Hooks

	mu       sync.Mutex
	active   bool
	gen      uint64 // bumped by LeaveVoice; stale acquisitions check it and bail
	streamID string
	audio    core.Track
	camera   core.Track
	screen   core.ScreenTrack
	calls    map[core.PeerID]core.Call
	remote   map[core.PeerID]*core.MediaStream
}

func NewManager(caller Caller, devices core.Devices, hooks Hooks) *Manager {
	return &Manager{
		caller:  caller,
		devices: devices,
		hooks:   hooks,
		calls:   make(map[core.PeerID]core.Call),
		remote:  make(map[core.PeerID]*core.MediaStream),
	}
}

// JoinVoice acquires local capture and dials the session's call targets.
// No-op when a voice session is already active.
func (m *Manager) JoinVoice(ctx context.Context, withVideo bool) error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return nil
	}
	gen := m.gen
	m.mu.Unlock()

	audio, err := m.devices.CaptureAudio(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "media").Msg("microphone acquisition failed")
		return fmt.Errorf("acquire microphone: %w", err)
	}
	var camera core.Track
	if withVideo {
		camera, err = m.devices.CaptureVideo(ctx)
		if err != nil {
			log.Error().Err(err).Str("module", "media").Msg("camera acquisition failed")
			audio.Stop()
			return fmt.Errorf("acquire camera: %w", err)
		}
	}

	m.mu.Lock()
	if m.gen != gen || m.active {
		// LeaveVoice ran while we were waiting on capture; the session must
		// not re-activate.
		m.mu.Unlock()
		audio.Stop()
		if camera != nil {
			camera.Stop()
		}
		return nil
	}
	m.active = true
	m.streamID = uuid.NewString()
	m.audio = audio
	m.camera = camera
	local := m.localStreamLocked()
	m.mu.Unlock()

	m.hooks.OnStatus(domain.StatusVoice)

	for _, target := range m.hooks.CallTargets() {
		m.dial(ctx, target, local, gen)
	}
	return nil
}

// HandleIncoming answers an inbound call: with the existing local stream if a
// voice session is active, otherwise by acquiring audio-only first.
func (m *Manager) HandleIncoming(ctx context.Context, ic core.IncomingCall) {
	m.mu.Lock()
	if m.active {
		local := m.localStreamLocked()
		gen := m.gen
		m.mu.Unlock()
		m.answer(ic, local, gen)
		return
	}
	gen := m.gen
	m.mu.Unlock()

	audio, err := m.devices.CaptureAudio(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "media").Str("peer", string(ic.Peer())).Msg("auto-answer capture failed")
		ic.Reject()
		return
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		audio.Stop()
		ic.Reject()
		return
	}
	if m.active {
		// Another inbound call won the race; answer with its stream.
		local := m.localStreamLocked()
		cur := m.gen
		m.mu.Unlock()
		audio.Stop()
		m.answer(ic, local, cur)
		return
	}
	m.active = true
	m.streamID = uuid.NewString()
	m.audio = audio
	local := m.localStreamLocked()
	m.mu.Unlock()

	m.hooks.OnStatus(domain.StatusVoice)
	m.answer(ic, local, gen)
}

// ToggleCamera acquires a video track on first use, then flips its enabled
// flag (mute, not stop) on subsequent calls.
func (m *Manager) ToggleCamera(ctx context.Context) error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return ErrNotInVoice
	}
	if m.camera != nil {
		m.camera.SetEnabled(!m.camera.Enabled())
		m.mu.Unlock()
		return nil
	}
	gen := m.gen
	m.mu.Unlock()

	camera, err := m.devices.CaptureVideo(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "media").Msg("camera acquisition failed")
		return fmt.Errorf("acquire camera: %w", err)
	}

	m.mu.Lock()
	if m.gen != gen || !m.active {
		m.mu.Unlock()
		camera.Stop()
		return nil
	}
	m.camera = camera
	sharing := m.screen != nil
	calls := m.callsSnapshotLocked()
	m.mu.Unlock()

	// While sharing, the screen track owns the video sender; the camera
	// starts flowing only once the share stops.
	if !sharing {
		m.replaceVideoOnAll(calls, camera)
	}
	return nil
}

// ShareScreen ensures a voice session exists, then substitutes the screen
// track for any camera video on every outgoing call.
func (m *Manager) ShareScreen(ctx context.Context) error {
	if err := m.JoinVoice(ctx, false); err != nil {
		return err
	}

	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	screen, err := m.devices.CaptureScreen(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "media").Msg("screen capture failed")
		return fmt.Errorf("acquire screen: %w", err)
	}

	m.mu.Lock()
	if m.gen != gen || !m.active {
		m.mu.Unlock()
		screen.Stop()
		return nil
	}
	if m.camera != nil {
		m.camera.Stop()
		m.camera = nil
	}
	if m.screen != nil {
		m.screen.Stop()
	}
	m.screen = screen
	calls := m.callsSnapshotLocked()
	m.mu.Unlock()

	screen.OnEnded(m.StopScreenShare)
	m.replaceVideoOnAll(calls, screen)
	return nil
}

// StopScreenShare stops and removes the screen track. A camera that
// ShareScreen stopped stays off until ToggleCamera is called again; one
// acquired during the share takes over the video sender now.
func (m *Manager) StopScreenShare() {
	m.mu.Lock()
	if m.screen == nil {
		m.mu.Unlock()
		return
	}
	m.screen.Stop()
	m.screen = nil
	camera := m.camera
	calls := m.callsSnapshotLocked()
	m.mu.Unlock()

	m.replaceVideoOnAll(calls, camera)
}

// LeaveVoice stops all local tracks, closes every call and clears remote
// stream records. Idempotent; also invalidates in-flight capture tasks.
func (m *Manager) LeaveVoice() {
	m.mu.Lock()
	m.gen++
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	if m.audio != nil {
		m.audio.Stop()
		m.audio = nil
	}
	if m.camera != nil {
		m.camera.Stop()
		m.camera = nil
	}
	if m.screen != nil {
		m.screen.Stop()
		m.screen = nil
	}
	calls := m.callsSnapshotLocked()
	m.calls = make(map[core.PeerID]core.Call)
	m.remote = make(map[core.PeerID]*core.MediaStream)
	m.mu.Unlock()

	for _, c := range calls {
		c.Close()
	}
	m.hooks.OnStatus(domain.StatusOnline)
}

func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

func (m *Manager) CameraOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera != nil && m.camera.Enabled()
}

// RemoteStreams returns a copy of the remote stream records keyed by peer.
func (m *Manager) RemoteStreams() map[core.PeerID]*core.MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[core.PeerID]*core.MediaStream, len(m.remote))
	for id, s := range m.remote {
		out[id] = s
	}
	return out
}

// CallPeers returns the peers with an established outgoing or answered call.
func (m *Manager) CallPeers() []core.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.PeerID, 0, len(m.calls))
	for id := range m.calls {
		out = append(out, id)
	}
	return out
}

func (m *Manager) dial(ctx context.Context, target core.PeerID, local *core.MediaStream, gen uint64) {
	call, err := m.caller.Call(ctx, target, local)
	if err != nil {
		// Per-call failure; the rest of the voice session stays up.
		log.Error().Err(err).Str("module", "media").Str("peer", string(target)).Msg("call failed")
		return
	}
	m.register(call, gen)
}

func (m *Manager) answer(ic core.IncomingCall, local *core.MediaStream, gen uint64) {
	call, err := ic.Answer(local)
	if err != nil {
		log.Error().Err(err).Str("module", "media").Str("peer", string(ic.Peer())).Msg("answer failed")
		return
	}
	m.register(call, gen)
}

func (m *Manager) register(call core.Call, gen uint64) {
	peer := call.Peer()
	call.OnStream(func(rs *core.MediaStream) {
		m.mu.Lock()
		m.remote[peer] = rs
		m.mu.Unlock()
	})
	call.OnClose(func() {
		m.mu.Lock()
		// A replaced call may close after its successor registered.
		if m.calls[peer] == call {
			delete(m.calls, peer)
			delete(m.remote, peer)
		}
		m.mu.Unlock()
	})
	call.OnError(func(err error) {
		log.Error().Err(err).Str("module", "media").Str("peer", string(peer)).Msg("call error")
	})

	m.mu.Lock()
	if m.gen != gen || !m.active {
		m.mu.Unlock()
		call.Close()
		return
	}
	old := m.calls[peer]
	m.calls[peer] = call
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	log.Info().Str("module", "media").Str("peer", string(peer)).Msg("call established")
}

func (m *Manager) replaceVideoOnAll(calls []core.Call, track core.Track) {
	for _, c := range calls {
		if err := c.ReplaceVideo(track); err != nil {
			log.Error().Err(err).Str("module", "media").Str("peer", string(c.Peer())).Msg("replace video failed")
		}
	}
}

func (m *Manager) callsSnapshotLocked() []core.Call {
	out := make([]core.Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c)
	}
	return out
}

// localStreamLocked builds the stream offered on new calls: screen video wins
// over camera when both exist.
func (m *Manager) localStreamLocked() *core.MediaStream {
	video := m.camera
	if m.screen != nil {
		video = m.screen
	}
	return &core.MediaStream{ID: m.streamID, Audio: m.audio, Video: video}
}
