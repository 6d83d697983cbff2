package webrtcprov

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/timigs/teamsync/internal/adapters/rendezvous"
	"github.com/timigs/teamsync/internal/core"
)

var errForeignTrack = errors.New("track was not produced by this provider")

// mediaCall is one media peer connection. Track substitution renegotiates
// over the same signaling connection id.
type mediaCall struct {
	provider *Provider
	peer     core.PeerID
	cid      string
	pc       *webrtc.PeerConnection

	mu          sync.Mutex
	videoSender *webrtc.RTPSender
	onStream    func(*core.MediaStream)
	onClose     func()
	onError     func(error)
	remote      *core.MediaStream
	closed      bool
}

func newMediaCall(p *Provider, peer core.PeerID, cid string, pc *webrtc.PeerConnection) *mediaCall {
	c := &mediaCall{provider: p, peer: peer, cid: cid, pc: pc}

	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "webrtcprov").Str("peer", string(peer)).
			Str("kind", tr.Kind().String()).Str("stream_id", tr.StreamID()).Msg("remote track")
		c.addRemoteTrack(tr)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.fireClose()
		}
	})
	return c
}

// attachLocal adds the local stream's tracks to the peer connection.
func (c *mediaCall) attachLocal(local *core.MediaStream) error {
	if local == nil {
		return nil
	}
	if local.Audio != nil {
		if _, err := c.addTrack(local.Audio); err != nil {
			return err
		}
	}
	if local.Video != nil {
		sender, err := c.addTrack(local.Video)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.videoSender = sender
		c.mu.Unlock()
	}
	return nil
}

func (c *mediaCall) addTrack(t core.Track) (*webrtc.RTPSender, error) {
	rt, ok := t.(rtpTrack)
	if !ok {
		return nil, errForeignTrack
	}
	sender, err := c.pc.AddTrack(rt.RTPTrack())
	if err != nil {
		return nil, fmt.Errorf("add %s track: %w", t.Kind(), err)
	}
	return sender, nil
}

func (c *mediaCall) addRemoteTrack(tr *webrtc.TrackRemote) {
	wrapped := newRemoteTrack(tr)

	c.mu.Lock()
	if c.remote == nil {
		c.remote = &core.MediaStream{ID: tr.StreamID()}
	}
	if wrapped.Kind() == core.TrackAudio {
		c.remote.Audio = wrapped
	} else {
		c.remote.Video = wrapped
	}
	stream := c.remote
	fn := c.onStream
	c.mu.Unlock()

	if fn != nil {
		fn(stream)
	}
}

func (c *mediaCall) Peer() core.PeerID { return c.peer }

func (c *mediaCall) OnStream(fn func(*core.MediaStream)) {
	c.mu.Lock()
	c.onStream = fn
	stream := c.remote
	c.mu.Unlock()
	if stream != nil {
		fn(stream)
	}
}

func (c *mediaCall) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *mediaCall) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// ReplaceVideo swaps the outgoing video sender: nil removes it, a new track
// replaces in place or adds a sender. Add/remove renegotiates.
func (c *mediaCall) ReplaceVideo(t core.Track) error {
	c.mu.Lock()
	sender := c.videoSender
	c.mu.Unlock()

	if t == nil {
		if sender == nil {
			return nil
		}
		if err := c.pc.RemoveTrack(sender); err != nil {
			return fmt.Errorf("remove video track: %w", err)
		}
		c.mu.Lock()
		c.videoSender = nil
		c.mu.Unlock()
		go c.renegotiate()
		return nil
	}

	rt, ok := t.(rtpTrack)
	if !ok {
		return errForeignTrack
	}
	if sender != nil {
		if err := sender.ReplaceTrack(rt.RTPTrack()); err != nil {
			return fmt.Errorf("replace video track: %w", err)
		}
		return nil
	}

	newSender, err := c.pc.AddTrack(rt.RTPTrack())
	if err != nil {
		return fmt.Errorf("add video track: %w", err)
	}
	c.mu.Lock()
	c.videoSender = newSender
	c.mu.Unlock()
	go c.renegotiate()
	return nil
}

func (c *mediaCall) Close() {
	c.provider.forgetCall(c.cid)
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtcprov").Str("peer", string(c.peer)).Msg("call close error")
	}
	c.fireClose()
}

func (c *mediaCall) fireClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()

	c.provider.forgetCall(c.cid)
	if fn != nil {
		fn()
	}
}

func (c *mediaCall) fail(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// renegotiate sends a fresh offer for this call's cid after a sender change.
func (c *mediaCall) renegotiate() {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.fail(fmt.Errorf("renegotiate offer: %w", err))
		return
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.fail(fmt.Errorf("renegotiate local description: %w", err))
		return
	}
	<-gathered

	err = c.provider.sendSignal(rendezvous.Signal{
		To:      string(c.peer),
		Kind:    "offer",
		CID:     c.cid,
		Purpose: rendezvous.PurposeMedia,
		SDP:     c.pc.LocalDescription().SDP,
	})
	if err != nil {
		c.fail(fmt.Errorf("renegotiate signal: %w", err))
	}
}

// handleRemoteOffer answers a renegotiation offer from the other side.
func (c *mediaCall) handleRemoteOffer(sdp string) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		c.fail(fmt.Errorf("renegotiate remote description: %w", err))
		return
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.fail(fmt.Errorf("renegotiate answer: %w", err))
		return
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		c.fail(fmt.Errorf("renegotiate local description: %w", err))
		return
	}
	<-gathered

	err = c.provider.sendSignal(rendezvous.Signal{
		To:   string(c.peer),
		Kind: "answer",
		CID:  c.cid,
		SDP:  c.pc.LocalDescription().SDP,
	})
	if err != nil {
		c.fail(fmt.Errorf("renegotiate signal: %w", err))
	}
}

func (c *mediaCall) handleAnswer(sdp string) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		c.fail(fmt.Errorf("apply answer: %w", err))
	}
}

// incomingCall defers peer connection setup until the callee has a local
// stream to answer with.
type incomingCall struct {
	provider *Provider
	from     core.PeerID
	cid      string
	sdp      string
}

func (ic *incomingCall) Peer() core.PeerID { return ic.from }

func (ic *incomingCall) Answer(local *core.MediaStream) (core.Call, error) {
	return ic.provider.answerCall(ic, local)
}

func (ic *incomingCall) Reject() {
	err := ic.provider.sendSignal(rendezvous.Signal{
		To:   string(ic.from),
		Kind: "bye",
		CID:  ic.cid,
	})
	if err != nil {
		log.Debug().Err(err).Str("module", "webrtcprov").Msg("reject signal failed")
	}
}
