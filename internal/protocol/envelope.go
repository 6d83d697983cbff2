// Package protocol defines the envelope exchanged over every data channel
// and the typed payloads behind it.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/timigs/teamsync/internal/domain"
)

type Kind string

const (
	KindRequestProfile  Kind = "REQUEST_PROFILE"
	KindProfileResponse Kind = "PROFILE_RESPONSE"
	KindSyncState       Kind = "SYNC_STATE"
	KindStatusUpdate    Kind = "STATUS_UPDATE"
	KindChatMessage     Kind = "CHAT_MESSAGE"
	KindProgressUpdate  Kind = "PROGRESS_UPDATE"
	KindKick            Kind = "KICK"
)

// ErrUnknownKind marks a message type this build does not understand.
// Receivers log and ignore it; the protocol stays forward-compatible.
var ErrUnknownKind = errors.New("unknown message kind")

type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is the closed set of wire messages. The marker method keeps the
// union sealed inside this package.
type Message interface {
	kind() Kind
}

type RequestProfile struct{}

type ProfileResponse struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	IsLeader    bool   `json:"isLeader"`
}

type SyncState struct {
	Members []domain.TeamMember `json:"members"`
	Goal    *domain.TeamGoal    `json:"goal"`
}

type StatusUpdate struct {
	ID     string        `json:"id"`
	Status domain.Status `json:"status"`
}

type ChatMessage struct {
	domain.ChatMessage
}

type ProgressUpdate struct {
	domain.Progress
}

type Kick struct{}

func (RequestProfile) kind() Kind  { return KindRequestProfile }
func (ProfileResponse) kind() Kind { return KindProfileResponse }
func (SyncState) kind() Kind       { return KindSyncState }
func (StatusUpdate) kind() Kind    { return KindStatusUpdate }
func (ChatMessage) kind() Kind     { return KindChatMessage }
func (ProgressUpdate) kind() Kind  { return KindProgressUpdate }
func (Kick) kind() Kind            { return KindKick }

// Encode serializes the message into its `{type, payload}` envelope.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.kind(), err)
	}
	return json.Marshal(envelope{Type: m.kind(), Payload: payload})
}

// Decode parses an envelope into its typed payload. An unrecognized type
// yields ErrUnknownKind.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var m Message
	switch env.Type {
	case KindRequestProfile:
		m = &RequestProfile{}
	case KindProfileResponse:
		m = &ProfileResponse{}
	case KindSyncState:
		m = &SyncState{}
	case KindStatusUpdate:
		m = &StatusUpdate{}
	case KindChatMessage:
		m = &ChatMessage{}
	case KindProgressUpdate:
		m = &ProgressUpdate{}
	case KindKick:
		m = &Kick{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, m); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return deref(m), nil
}

// deref returns the value form so callers can type-switch on concrete structs.
func deref(m Message) Message {
	switch v := m.(type) {
	case *RequestProfile:
		return *v
	case *ProfileResponse:
		return *v
	case *SyncState:
		return *v
	case *StatusUpdate:
		return *v
	case *ChatMessage:
		return *v
	case *ProgressUpdate:
		return *v
	case *Kick:
		return *v
	}
	return m
}
