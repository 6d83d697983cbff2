package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

// maxSendFailures closes a peer that cannot drain its send buffer.
const maxSendFailures = 8

type peerConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	closed   bool
	failures int
}

func newPeerConn(id string, ws *websocket.Conn) *peerConn {
	return &peerConn{
		id:   id,
		conn: ws,
		send: make(chan []byte, 32),
	}
}

func (c *peerConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *peerConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (s *Server) writePump(ctx context.Context, c *peerConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "rendezvous").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "rendezvous").Msg("writePump write error")
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, c *peerConn) {
	defer func() {
		log.Info().Str("module", "rendezvous").Str("peer", c.id).Msg("readPump closing")
		s.unregister(c)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleFrame(c, data)
		}
	}
}

func (s *Server) sendJSON(c *peerConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		c.mu.Lock()
		c.failures++
		slow := c.failures >= maxSendFailures
		c.mu.Unlock()
		log.Warn().Err(err).Str("module", "rendezvous").Str("peer", c.id).Msg("frame dropped")
		if slow {
			log.Warn().Str("module", "rendezvous").Str("peer", c.id).Msg("closing slow peer")
			s.unregister(c)
			c.Close()
		}
		return
	}
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}
