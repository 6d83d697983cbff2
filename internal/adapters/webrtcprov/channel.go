package webrtcprov

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/timigs/teamsync/internal/core"
)

// dataChannel is a reliable ordered channel over one peer connection's
// "team" data channel.
type dataChannel struct {
	peer core.PeerID
	pc   *webrtc.PeerConnection

	mu       sync.Mutex
	dc       *webrtc.DataChannel
	onData   func(core.Frame)
	onClose  func()
	closed   bool
	buffered []core.Frame // frames that arrived before OnData was registered
	opened   chan struct{}
}

func newDataChannel(peer core.PeerID, pc *webrtc.PeerConnection) *dataChannel {
	ch := &dataChannel{peer: peer, pc: pc, opened: make(chan struct{})}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "webrtcprov").Str("peer", string(peer)).Str("state", s.String()).Msg("channel pc state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			ch.fireClose()
		}
	})
	return ch
}

// attach wires the underlying data channel once it exists (created locally on
// Connect, delivered by OnDataChannel on the accepting side).
func (ch *dataChannel) attach(dc *webrtc.DataChannel) {
	ch.mu.Lock()
	ch.dc = dc
	ch.mu.Unlock()

	dc.OnOpen(func() {
		close(ch.opened)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		ch.mu.Lock()
		fn := ch.onData
		if fn == nil {
			ch.buffered = append(ch.buffered, core.Frame(msg.Data))
			ch.mu.Unlock()
			return
		}
		ch.mu.Unlock()
		fn(core.Frame(msg.Data))
	})
	dc.OnClose(func() {
		ch.fireClose()
	})
}

func (ch *dataChannel) Peer() core.PeerID { return ch.peer }

func (ch *dataChannel) Send(f core.Frame) error {
	ch.mu.Lock()
	dc := ch.dc
	closed := ch.closed
	ch.mu.Unlock()
	if closed || dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return core.ErrChannelClosed
	}
	if err := dc.Send(f); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// OnData registers the handler and flushes anything buffered before it.
func (ch *dataChannel) OnData(fn func(core.Frame)) {
	ch.mu.Lock()
	ch.onData = fn
	pending := ch.buffered
	ch.buffered = nil
	ch.mu.Unlock()
	for _, f := range pending {
		fn(f)
	}
}

func (ch *dataChannel) OnClose(fn func()) {
	ch.mu.Lock()
	ch.onClose = fn
	ch.mu.Unlock()
}

func (ch *dataChannel) Close() {
	ch.mu.Lock()
	dc := ch.dc
	ch.mu.Unlock()
	if dc != nil {
		_ = dc.Close()
	}
	_ = ch.pc.Close()
	ch.fireClose()
}

func (ch *dataChannel) fireClose() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	fn := ch.onClose
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}
