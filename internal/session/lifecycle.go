package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/timigs/teamsync/internal/core"
	"github.com/timigs/teamsync/internal/domain"
	"github.com/timigs/teamsync/internal/protocol"
)

// open acquires the local identity and registers the inbound handlers once.
func (s *Session) open(ctx context.Context) (core.PeerID, error) {
	id, err := s.provider.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire identity: %w", err)
	}

	s.mu.Lock()
	s.profile.ID = string(id)
	register := !s.opened
	s.opened = true
	s.mu.Unlock()

	if register {
		s.provider.OnConnection(s.acceptChannel)
		s.provider.OnCall(s.acceptCall)
	}
	return id, nil
}

// CreateTeam makes this participant the leader of a fresh session. The team
// id is the leader's own id.
func (s *Session) CreateTeam(ctx context.Context) error {
	id, err := s.open(ctx)
	if err != nil {
		return err
	}
	s.LeaveTeam()

	s.mu.Lock()
	s.role = RoleLeader
	s.teamID = id
	s.members = []domain.TeamMember{s.selfMemberLocked(true)}
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("team", string(id)).Msg("team created")
	s.notify()
	return nil
}

// JoinTeam connects to the leader and waits for its snapshot. Any previous
// session state is cleared first.
func (s *Session) JoinTeam(ctx context.Context, leaderID string) error {
	if _, err := s.open(ctx); err != nil {
		return err
	}
	s.LeaveTeam()

	ch, err := s.provider.Connect(ctx, core.PeerID(leaderID))
	if err != nil {
		return fmt.Errorf("connect to leader: %w", err)
	}

	s.mu.Lock()
	s.role = RoleMember
	s.teamID = core.PeerID(leaderID)
	s.channels[ch.Peer()] = ch
	s.mu.Unlock()

	s.wire(ch)
	log.Info().Str("module", "session").Str("team", leaderID).Msg("joined team")
	s.notify()
	return nil
}

// LeaveTeam tears down media, closes every channel and resets all session
// state. Idempotent: a no-op with no active session.
func (s *Session) LeaveTeam() {
	s.media.LeaveVoice()

	s.mu.Lock()
	hadSession := s.role != RoleIdle
	chans := make([]core.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		chans = append(chans, ch)
	}
	s.channels = make(map[core.PeerID]core.Channel)
	s.resetLocked()
	s.mu.Unlock()

	for _, ch := range chans {
		ch.Close()
	}
	if hadSession {
		log.Info().Str("module", "session").Msg("left team")
		s.notify()
	}
}

// Kick removes one member: a targeted KICK, then the channel is closed and
// the roster re-broadcast. Leader only.
func (s *Session) Kick(peerID string) error {
	s.mu.Lock()
	if s.role != RoleLeader {
		s.mu.Unlock()
		return ErrNotLeader
	}
	ch, ok := s.channels[core.PeerID(peerID)]
	if ok {
		s.sendLocked(ch, protocol.Kick{})
		delete(s.channels, core.PeerID(peerID))
	}
	s.removeMemberLocked(peerID)
	s.broadcastStateLocked()
	s.mu.Unlock()

	if ok {
		ch.Close()
	}
	log.Info().Str("module", "session").Str("peer", peerID).Msg("member kicked")
	s.notify()
	return nil
}

// acceptChannel handles an inbound connection: the accepting side asks for
// the peer's profile.
func (s *Session) acceptChannel(ch core.Channel) {
	s.mu.Lock()
	s.channels[ch.Peer()] = ch
	s.mu.Unlock()

	s.wire(ch)
	log.Info().Str("module", "session").Str("peer", string(ch.Peer())).Msg("channel accepted")

	s.mu.Lock()
	s.sendLocked(ch, protocol.RequestProfile{})
	s.mu.Unlock()
}

func (s *Session) acceptCall(ic core.IncomingCall) {
	// Auto-answer may block on device acquisition; keep the provider's
	// callback goroutine free.
	go s.media.HandleIncoming(context.Background(), ic)
}

func (s *Session) wire(ch core.Channel) {
	ch.OnData(func(f core.Frame) { s.handleFrame(ch, f) })
	ch.OnClose(func() { s.channelClosed(ch) })
}

func (s *Session) channelClosed(ch core.Channel) {
	peer := ch.Peer()

	s.mu.Lock()
	cur, ok := s.channels[peer]
	if !ok || cur != ch {
		// Already removed (kick or replacement); nothing to prune.
		s.mu.Unlock()
		return
	}
	delete(s.channels, peer)

	switch s.role {
	case RoleLeader:
		s.removeMemberLocked(string(peer))
		s.broadcastStateLocked()
	case RoleMember:
		if peer == s.teamID {
			// Stale snapshot, no connected leader. Surfaced, not repaired.
			s.orphaned = true
			log.Warn().Str("module", "session").Msg("leader disconnected; session orphaned")
		}
	}
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("peer", string(peer)).Msg("channel closed")
	s.notify()
}

// callTargets feeds the media manager's hub topology: the leader dials every
// connected peer, a member dials only the leader.
func (s *Session) callTargets() []core.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.role {
	case RoleLeader:
		out := make([]core.PeerID, 0, len(s.channels))
		for peer := range s.channels {
			out = append(out, peer)
		}
		return out
	case RoleMember:
		if _, ok := s.channels[s.teamID]; ok {
			return []core.PeerID{s.teamID}
		}
	}
	return nil
}
