package session

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/timigs/teamsync/internal/core"
	"github.com/timigs/teamsync/internal/domain"
	"github.com/timigs/teamsync/internal/protocol"
)

func (s *Session) handleFrame(ch core.Channel, f core.Frame) {
	msg, err := protocol.Decode(f)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownKind) {
			// Forward-compatible no-op.
			log.Warn().Err(err).Str("module", "session").Str("peer", string(ch.Peer())).Msg("ignoring unknown message")
		} else {
			log.Error().Err(err).Str("module", "session").Str("peer", string(ch.Peer())).Msg("bad frame")
		}
		return
	}

	var (
		kicked  bool
		arrived *domain.ChatMessage
	)

	s.mu.Lock()
	switch m := msg.(type) {
	case protocol.RequestProfile:
		s.sendLocked(ch, protocol.ProfileResponse{
			DisplayName: s.profile.DisplayName,
			Email:       s.profile.Email,
			IsLeader:    s.role == RoleLeader,
		})

	case protocol.ProfileResponse:
		s.upsertMemberLocked(domain.TeamMember{
			ID:          string(ch.Peer()),
			DisplayName: m.DisplayName,
			Email:       m.Email,
			IsLeader:    m.IsLeader,
			Status:      domain.StatusOnline,
		})
		if s.role == RoleLeader {
			s.broadcastStateLocked()
		}

	case protocol.SyncState:
		// Replace wholesale, never merge. Idempotent on duplicates.
		if s.role == RoleMember {
			s.members = append([]domain.TeamMember(nil), m.Members...)
			s.goal = m.Goal
		}

	case protocol.StatusUpdate:
		s.setMemberStatusLocked(m.ID, m.Status)
		if s.role == RoleLeader {
			s.relayLocked(m, ch.Peer())
		}

	case protocol.ChatMessage:
		s.messages = append(s.messages, m.ChatMessage)
		arrived = &m.ChatMessage
		if s.role == RoleLeader {
			// Star relay: one hop through the leader, sender excluded.
			s.relayLocked(m, ch.Peer())
		}

	case protocol.ProgressUpdate:
		if s.role == RoleLeader {
			s.setMemberProgressLocked(string(ch.Peer()), m.Progress)
			s.broadcastStateLocked()
		}

	case protocol.Kick:
		kicked = true
	}
	s.mu.Unlock()

	if arrived != nil && s.onMessage != nil {
		s.onMessage(*arrived)
	}
	if kicked {
		log.Info().Str("module", "session").Msg("kicked by leader")
		s.LeaveTeam()
		return
	}
	s.notify()
}

func (s *Session) sendLocked(ch core.Channel, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("encode message")
		return
	}
	if err := ch.Send(core.Frame(data)); err != nil {
		log.Debug().Err(err).Str("module", "session").Str("peer", string(ch.Peer())).Msg("send failed")
	}
}

// relayLocked forwards a message to every connected peer except one.
func (s *Session) relayLocked(msg protocol.Message, exclude core.PeerID) {
	for peer, ch := range s.channels {
		if peer == exclude {
			continue
		}
		s.sendLocked(ch, msg)
	}
}

// sendToLeaderLocked delivers a message over the member's single channel.
// Silently dropped when orphaned; there is nowhere to send.
func (s *Session) sendToLeaderLocked(msg protocol.Message) {
	ch, ok := s.channels[s.teamID]
	if !ok {
		log.Debug().Str("module", "session").Msg("no leader channel; message dropped")
		return
	}
	s.sendLocked(ch, msg)
}

// broadcastStateLocked pushes the full roster+goal snapshot to every peer.
// Leader only; this is the consistency mechanism.
func (s *Session) broadcastStateLocked() {
	if s.role != RoleLeader {
		return
	}
	snapshot := protocol.SyncState{
		Members: append([]domain.TeamMember(nil), s.members...),
		Goal:    s.goal,
	}
	for _, ch := range s.channels {
		s.sendLocked(ch, snapshot)
	}
}
