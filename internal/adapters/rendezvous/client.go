package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client is one peer's side of the signaling socket: it obtains an id and a
// token over HTTP, then relays Signal frames over the websocket.
type Client struct {
	id   string
	conn *websocket.Conn

	writeMu  sync.Mutex
	mu       sync.Mutex
	onSignal func(Signal)
	closed   bool
}

// Dial requests a peer id from baseURL (e.g. "http://host:8080") and opens
// the signaling socket.
func Dial(ctx context.Context, baseURL string) (*Client, error) {
	id, token, err := requestToken(ctx, baseURL)
	if err != nil {
		return nil, err
	}

	wsURL, err := socketURL(baseURL, token)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling socket: %w", err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}

	c := &Client{id: id, conn: conn}
	go c.readLoop()
	return c, nil
}

func (c *Client) ID() string { return c.id }

func (c *Client) OnSignal(fn func(Signal)) {
	c.mu.Lock()
	c.onSignal = fn
	c.mu.Unlock()
}

func (c *Client) Send(sig Signal) error {
	sig.Type = TypeSignal
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				log.Warn().Err(err).Str("module", "rendezvous").Str("peer", c.id).Msg("signaling socket lost")
			}
			return
		}
		var sig Signal
		if err := json.Unmarshal(data, &sig); err != nil {
			log.Error().Err(err).Str("module", "rendezvous").Msg("bad signal frame")
			continue
		}
		switch sig.Type {
		case TypeWelcome, TypePong:
			// Connection bookkeeping; nothing to dispatch.
		default:
			c.mu.Lock()
			fn := c.onSignal
			c.mu.Unlock()
			if fn != nil {
				fn(sig)
			}
		}
	}
}

func requestToken(ctx context.Context, baseURL string) (id, token string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/token", bytes.NewReader(nil))
	if err != nil {
		return "", "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("request token: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("decode token response: %w", err)
	}
	return body.ID, body.Token, nil
}

func socketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse rendezvous url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/v1/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
