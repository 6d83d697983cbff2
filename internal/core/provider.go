// Package core declares the contracts the session consumes. Concrete
// transports live in internal/adapters; core itself never touches them.
package core

import (
	"context"
	"errors"
)

// PeerID is an opaque participant identifier assigned by the provider.
type PeerID string

// Frame is a raw payload carried over a channel.
type Frame []byte

var (
	ErrProvider      = errors.New("provider error")
	ErrConnection    = errors.New("connection error")
	ErrChannelClosed = errors.New("channel closed")
)

// Channel is a reliable ordered point-to-point data channel.
//
// Implementations must invoke OnData and OnClose callbacks asynchronously
// with respect to Send: a Send must never deliver back into the caller's
// stack, or handlers that serialize state behind a mutex would deadlock.
type Channel interface {
	Peer() PeerID
	Send(Frame) error
	OnData(func(Frame))
	OnClose(func())
	Close()
}

// IncomingCall is an inbound media call awaiting an answer.
type IncomingCall interface {
	Peer() PeerID
	Answer(local *MediaStream) (Call, error)
	Reject()
}

// Call is an established media call to one peer.
type Call interface {
	Peer() PeerID
	OnStream(func(*MediaStream))
	OnClose(func())
	OnError(func(error))
	// ReplaceVideo swaps the outgoing video track: nil removes it, a track
	// replaces the current sender or adds one if none exists.
	ReplaceVideo(Track) error
	Close()
}

// Provider turns participant identifiers into channels and calls.
// This is the external rendezvous/signaling boundary.
type Provider interface {
	// Open acquires the local identity. Idempotent: a second call returns
	// the already-assigned id.
	Open(ctx context.Context) (PeerID, error)
	Connect(ctx context.Context, target PeerID) (Channel, error)
	OnConnection(func(Channel))
	Call(ctx context.Context, target PeerID, local *MediaStream) (Call, error)
	OnCall(func(IncomingCall))
	Close()
}
