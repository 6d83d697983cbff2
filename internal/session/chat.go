package session

import (
	"github.com/timigs/teamsync/internal/domain"
	"github.com/timigs/teamsync/internal/protocol"
)

// SendMessage appends the message locally and relays it: the leader
// broadcasts to all members, a member sends to the leader who re-broadcasts.
func (s *Session) SendMessage(text string) (domain.ChatMessage, error) {
	s.mu.Lock()
	if s.role == RoleIdle {
		s.mu.Unlock()
		return domain.ChatMessage{}, ErrNoSession
	}
	s.chatSeq++
	msg := domain.NewChatMessage(s.profile.ID, s.profile.DisplayName, text, s.chatSeq)
	s.messages = append(s.messages, msg)

	wire := protocol.ChatMessage{ChatMessage: msg}
	if s.role == RoleLeader {
		s.relayLocked(wire, "")
	} else {
		s.sendToLeaderLocked(wire)
	}
	s.mu.Unlock()

	s.notify()
	return msg, nil
}
