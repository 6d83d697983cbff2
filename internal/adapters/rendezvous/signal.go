// Package rendezvous implements the initial signaling step: it assigns
// opaque peer ids and relays session descriptions between peers so they can
// establish direct channels and calls. No team state lives here.
package rendezvous

// Frame kinds exchanged over the signaling socket.
const (
	TypeWelcome = "welcome"
	TypeSignal  = "signal"
	TypePing    = "ping"
	TypePong    = "pong"
	TypeError   = "error"
)

// Signal purposes: what the relayed SDP is for.
const (
	PurposeData  = "data"
	PurposeMedia = "media"
)

// Signal is one relayed frame between two peers. From is stamped by the
// server; clients cannot spoof it.
type Signal struct {
	Type    string `json:"type"`
	To      string `json:"to,omitempty"`
	From    string `json:"from,omitempty"`
	Kind    string `json:"kind,omitempty"` // offer | answer | bye
	CID     string `json:"cid,omitempty"`  // pairs an answer with its offer
	Purpose string `json:"purpose,omitempty"`
	SDP     string `json:"sdp,omitempty"`
	Error   string `json:"error,omitempty"`
}
