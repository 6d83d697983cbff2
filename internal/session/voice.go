package session

import (
	"context"

	"github.com/timigs/teamsync/internal/domain"
	"github.com/timigs/teamsync/internal/protocol"
)

// JoinVoice starts a voice session, optionally with camera video. Calls are
// hub-topology: the leader dials every connected peer, a member dials only
// the leader. Members never call each other directly.
func (s *Session) JoinVoice(ctx context.Context, withVideo bool) error {
	return s.media.JoinVoice(ctx, withVideo)
}

func (s *Session) ToggleCamera(ctx context.Context) error {
	return s.media.ToggleCamera(ctx)
}

func (s *Session) ShareScreen(ctx context.Context) error {
	return s.media.ShareScreen(ctx)
}

func (s *Session) StopScreenShare() {
	s.media.StopScreenShare()
}

func (s *Session) LeaveVoice() {
	s.media.LeaveVoice()
}

// SetStatus updates this participant's own presence (e.g. busy) and
// propagates it. The media manager drives the voice/online transitions
// through the same path.
func (s *Session) SetStatus(status domain.Status) {
	s.setLocalStatus(status)
}

func (s *Session) setLocalStatus(status domain.Status) {
	s.mu.Lock()
	if s.role == RoleIdle {
		s.mu.Unlock()
		return
	}
	s.setMemberStatusLocked(s.profile.ID, status)
	upd := protocol.StatusUpdate{ID: s.profile.ID, Status: status}
	if s.role == RoleLeader {
		s.relayLocked(upd, "")
	} else {
		s.sendToLeaderLocked(upd)
	}
	s.mu.Unlock()

	s.notify()
}
