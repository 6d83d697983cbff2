package domain

import (
	"fmt"
	"time"
)

// ChatMessage is immutable once created; messages are never edited or deleted.
type ChatMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// NewChatMessage builds a message with a time-derived id. seq is a per-sender
// monotonic counter so two messages in the same millisecond stay unique.
func NewChatMessage(senderID, senderName, text string, seq uint64) ChatMessage {
	now := time.Now().UnixMilli()
	return ChatMessage{
		ID:         fmt.Sprintf("%d-%d", now, seq),
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		Timestamp:  now,
	}
}
