// Package webrtcprov implements core.Provider on pion/webrtc: a reliable
// ordered data channel per peer for team traffic, and media-only peer
// connections for calls. SDP exchange rides the rendezvous signaling socket
// with full ICE gathering (no trickle).
package webrtcprov

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/timigs/teamsync/internal/adapters/rendezvous"
	"github.com/timigs/teamsync/internal/core"
)

const answerTimeout = 30 * time.Second

type Provider struct {
	baseURL string
	rtcCfg  webrtc.Configuration

	mu           sync.Mutex
	client       *rendezvous.Client
	id           core.PeerID
	onConnection func(core.Channel)
	onCall       func(core.IncomingCall)
	pending      map[string]chan rendezvous.Signal // cid -> first answer/error
	calls        map[string]*mediaCall             // cid -> live call (renegotiation)
}

func New(baseURL string, stunServers []string) *Provider {
	return &Provider{
		baseURL: baseURL,
		rtcCfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
		},
		pending: make(map[string]chan rendezvous.Signal),
		calls:   make(map[string]*mediaCall),
	}
}

// Open dials the rendezvous service and acquires the local peer id.
// Idempotent: returns the assigned id on subsequent calls.
func (p *Provider) Open(ctx context.Context) (core.PeerID, error) {
	p.mu.Lock()
	if p.client != nil {
		id := p.id
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	client, err := rendezvous.Dial(ctx, p.baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrProvider, err)
	}

	p.mu.Lock()
	if p.client != nil {
		// Raced with another Open; keep the first.
		id := p.id
		p.mu.Unlock()
		client.Close()
		return id, nil
	}
	p.client = client
	p.id = core.PeerID(client.ID())
	p.mu.Unlock()

	client.OnSignal(p.handleSignal)
	log.Info().Str("module", "webrtcprov").Str("peer", client.ID()).Msg("provider opened")
	return core.PeerID(client.ID()), nil
}

func (p *Provider) OnConnection(fn func(core.Channel)) {
	p.mu.Lock()
	p.onConnection = fn
	p.mu.Unlock()
}

func (p *Provider) OnCall(fn func(core.IncomingCall)) {
	p.mu.Lock()
	p.onCall = fn
	p.mu.Unlock()
}

func (p *Provider) Close() {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()
	if client != nil {
		client.Close()
	}
}

// Connect opens the data channel to a peer: offer out, answer back, wait for
// the channel to open.
func (p *Provider) Connect(ctx context.Context, target core.PeerID) (core.Channel, error) {
	pc, err := webrtc.NewPeerConnection(p.rtcCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: new peer connection: %v", core.ErrConnection, err)
	}
	ch := newDataChannel(target, pc)

	dc, err := pc.CreateDataChannel("team", nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("%w: create data channel: %v", core.ErrConnection, err)
	}
	ch.attach(dc)

	cid := uuid.NewString()
	answer, err := p.offer(ctx, pc, rendezvous.Signal{
		To:      string(target),
		Kind:    "offer",
		CID:     cid,
		Purpose: rendezvous.PurposeData,
	})
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("%w: apply answer: %v", core.ErrConnection, err)
	}

	select {
	case <-ch.opened:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, fmt.Errorf("%w: %v", core.ErrConnection, ctx.Err())
	case <-time.After(answerTimeout):
		_ = pc.Close()
		return nil, fmt.Errorf("%w: data channel open timeout", core.ErrConnection)
	}
	return ch, nil
}

// Call opens a media peer connection carrying the local stream's tracks.
func (p *Provider) Call(ctx context.Context, target core.PeerID, local *core.MediaStream) (core.Call, error) {
	pc, err := webrtc.NewPeerConnection(p.rtcCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: new peer connection: %v", core.ErrConnection, err)
	}

	cid := uuid.NewString()
	call := newMediaCall(p, target, cid, pc)
	if err := call.attachLocal(local); err != nil {
		_ = pc.Close()
		return nil, err
	}

	p.mu.Lock()
	p.calls[cid] = call
	p.mu.Unlock()

	answer, err := p.offer(ctx, pc, rendezvous.Signal{
		To:      string(target),
		Kind:    "offer",
		CID:     cid,
		Purpose: rendezvous.PurposeMedia,
	})
	if err != nil {
		p.forgetCall(cid)
		_ = pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		p.forgetCall(cid)
		_ = pc.Close()
		return nil, fmt.Errorf("%w: apply answer: %v", core.ErrConnection, err)
	}
	return call, nil
}

// offer runs one non-trickle offer/answer round trip for a fresh cid.
func (p *Provider) offer(ctx context.Context, pc *webrtc.PeerConnection, sig rendezvous.Signal) (webrtc.SessionDescription, error) {
	none := webrtc.SessionDescription{}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return none, fmt.Errorf("%w: create offer: %v", core.ErrConnection, err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return none, fmt.Errorf("%w: set local description: %v", core.ErrConnection, err)
	}
	<-gathered
	sig.SDP = pc.LocalDescription().SDP

	reply := make(chan rendezvous.Signal, 1)
	p.mu.Lock()
	p.pending[sig.CID] = reply
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, sig.CID)
		p.mu.Unlock()
	}()

	if err := p.sendSignal(sig); err != nil {
		return none, fmt.Errorf("%w: %v", core.ErrConnection, err)
	}

	select {
	case got := <-reply:
		if got.Type == rendezvous.TypeError || got.Kind == "bye" {
			return none, fmt.Errorf("%w: %s refused: %s", core.ErrConnection, sig.To, got.Error)
		}
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: got.SDP}, nil
	case <-ctx.Done():
		return none, fmt.Errorf("%w: %v", core.ErrConnection, ctx.Err())
	case <-time.After(answerTimeout):
		return none, fmt.Errorf("%w: no answer from %s", core.ErrConnection, sig.To)
	}
}

func (p *Provider) handleSignal(sig rendezvous.Signal) {
	switch {
	case sig.Type == rendezvous.TypeError, sig.Kind == "answer", sig.Kind == "bye":
		p.mu.Lock()
		reply, pending := p.pending[sig.CID]
		call := p.calls[sig.CID]
		p.mu.Unlock()
		if pending {
			select {
			case reply <- sig:
			default:
			}
			return
		}
		if call != nil && sig.Kind == "answer" {
			call.handleAnswer(sig.SDP)
		}

	case sig.Kind == "offer":
		p.mu.Lock()
		call := p.calls[sig.CID]
		p.mu.Unlock()
		if call != nil {
			// Renegotiation on a live call.
			call.handleRemoteOffer(sig.SDP)
			return
		}
		switch sig.Purpose {
		case rendezvous.PurposeData:
			go p.acceptDataOffer(sig)
		case rendezvous.PurposeMedia:
			p.mu.Lock()
			fn := p.onCall
			p.mu.Unlock()
			if fn == nil {
				log.Warn().Str("module", "webrtcprov").Str("from", sig.From).Msg("call with no handler")
				return
			}
			fn(&incomingCall{provider: p, from: core.PeerID(sig.From), cid: sig.CID, sdp: sig.SDP})
		default:
			log.Warn().Str("module", "webrtcprov").Str("purpose", sig.Purpose).Msg("unknown offer purpose")
		}

	default:
		log.Warn().Str("module", "webrtcprov").Str("kind", sig.Kind).Msg("unknown signal")
	}
}

// acceptDataOffer answers an inbound data connection and surfaces the channel
// once it opens.
func (p *Provider) acceptDataOffer(sig rendezvous.Signal) {
	pc, err := webrtc.NewPeerConnection(p.rtcCfg)
	if err != nil {
		log.Error().Err(err).Str("module", "webrtcprov").Msg("accept: new peer connection")
		return
	}
	ch := newDataChannel(core.PeerID(sig.From), pc)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "team" {
			return
		}
		ch.attach(dc)
	})

	if err := p.answerOffer(pc, sig); err != nil {
		log.Error().Err(err).Str("module", "webrtcprov").Str("from", sig.From).Msg("accept data offer")
		_ = pc.Close()
		return
	}

	select {
	case <-ch.opened:
	case <-time.After(answerTimeout):
		log.Warn().Str("module", "webrtcprov").Str("from", sig.From).Msg("inbound channel never opened")
		_ = pc.Close()
		return
	}

	p.mu.Lock()
	fn := p.onConnection
	p.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

// answerCall completes an inbound media call once the callee supplies its
// local stream.
func (p *Provider) answerCall(ic *incomingCall, local *core.MediaStream) (core.Call, error) {
	pc, err := webrtc.NewPeerConnection(p.rtcCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: new peer connection: %v", core.ErrConnection, err)
	}
	call := newMediaCall(p, ic.from, ic.cid, pc)
	if err := call.attachLocal(local); err != nil {
		_ = pc.Close()
		return nil, err
	}

	p.mu.Lock()
	p.calls[ic.cid] = call
	p.mu.Unlock()

	if err := p.answerOffer(pc, rendezvous.Signal{From: string(ic.from), CID: ic.cid, SDP: ic.sdp}); err != nil {
		p.forgetCall(ic.cid)
		_ = pc.Close()
		return nil, err
	}
	return call, nil
}

// answerOffer applies a remote offer and returns the gathered answer to the
// sender.
func (p *Provider) answerOffer(pc *webrtc.PeerConnection, sig rendezvous.Signal) error {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	<-gathered

	return p.sendSignal(rendezvous.Signal{
		To:   sig.From,
		Kind: "answer",
		CID:  sig.CID,
		SDP:  pc.LocalDescription().SDP,
	})
}

func (p *Provider) sendSignal(sig rendezvous.Signal) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return fmt.Errorf("%w: provider not open", core.ErrProvider)
	}
	return client.Send(sig)
}

func (p *Provider) forgetCall(cid string) {
	p.mu.Lock()
	delete(p.calls, cid)
	p.mu.Unlock()
}
