package rendezvous

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Server struct {
	secret   string
	tokenTTL time.Duration
	limiter  *tokenRateLimiter

	mu    sync.RWMutex
	peers map[string]*peerConn
}

func NewServer(secret string, tokenTTL time.Duration) *Server {
	return &Server{
		secret:   secret,
		tokenTTL: tokenTTL,
		limiter:  newTokenRateLimiter(10, time.Minute),
		peers:    make(map[string]*peerConn),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Router builds the gin routes: health, token issuance and the signaling
// socket.
func (s *Server) Router(ctx context.Context, mode string) *gin.Engine {
	gin.SetMode(mode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.POST("/token", s.handleToken)
	v1.GET("/ws", s.authMiddleware(), func(c *gin.Context) {
		s.handleWS(ctx, c)
	})
	return r
}

// handleToken assigns a fresh peer id and a JWT carrying it.
func (s *Server) handleToken(c *gin.Context) {
	if !s.limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
		return
	}
	id := uuid.NewString()
	token, err := s.issueToken(id)
	if err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	log.Info().Str("module", "rendezvous").Str("peer", id).Msg("peer id assigned")
	c.JSON(http.StatusOK, gin.H{"id": id, "token": token})
}

func (s *Server) handleWS(ctx context.Context, c *gin.Context) {
	id := c.GetString(ctxPeerID)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("ws upgrade")
		return
	}

	conn := newPeerConn(id, ws)
	s.register(conn)
	log.Info().Str("module", "rendezvous").Str("peer", id).Msg("peer connected")

	s.sendJSON(conn, Signal{Type: TypeWelcome, To: id})

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		s.writePump(ctx, conn)
	}()
	go s.readPump(ctx, conn)
}

func (s *Server) register(c *peerConn) {
	s.mu.Lock()
	old, ok := s.peers[c.id]
	s.peers[c.id] = c
	s.mu.Unlock()
	if ok {
		old.Close()
	}
}

func (s *Server) unregister(c *peerConn) {
	s.mu.Lock()
	if cur, ok := s.peers[c.id]; ok && cur == c {
		delete(s.peers, c.id)
	}
	s.mu.Unlock()
}

func (s *Server) lookup(id string) (*peerConn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.peers[id]
	return c, ok
}

func (s *Server) handleFrame(c *peerConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("bad json")
		return
	}

	switch env.Type {
	case TypePing:
		s.sendJSON(c, Signal{Type: TypePong})
	case TypeSignal:
		s.relay(c, data)
	default:
		log.Warn().Str("module", "rendezvous").Str("type", env.Type).Msg("unknown frame")
	}
}

// relay stamps the sender id and forwards the frame to its target.
func (s *Server) relay(c *peerConn, data []byte) {
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("bad signal payload")
		return
	}
	sig.From = c.id

	target, ok := s.lookup(sig.To)
	if !ok {
		log.Debug().Str("module", "rendezvous").Str("peer", c.id).Str("to", sig.To).Msg("target not connected")
		s.sendJSON(c, Signal{Type: TypeError, CID: sig.CID, Error: "peer not found"})
		return
	}
	s.sendJSON(target, sig)
}
