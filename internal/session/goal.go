package session

import (
	"github.com/rs/zerolog/log"

	"github.com/timigs/teamsync/internal/domain"
	"github.com/timigs/teamsync/internal/protocol"
)

// SetGoal creates the shared goal and pushes a snapshot. Leader only.
func (s *Session) SetGoal(appName string, targetSeconds int) error {
	s.mu.Lock()
	if s.role != RoleLeader {
		s.mu.Unlock()
		return ErrNotLeader
	}
	goal, err := domain.NewGoal(appName, targetSeconds)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.goal = goal
	s.broadcastStateLocked()
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("app", appName).Int("target", targetSeconds).Msg("goal set")
	s.notify()
	return nil
}

// UpdateGoalStatus mutates the active goal's status. Leader only; no-op when
// no goal is set.
func (s *Session) UpdateGoalStatus(status domain.GoalStatus) error {
	s.mu.Lock()
	if s.role != RoleLeader {
		s.mu.Unlock()
		return ErrNotLeader
	}
	if s.goal == nil {
		s.mu.Unlock()
		return nil
	}
	s.goal.Status = status
	s.broadcastStateLocked()
	s.mu.Unlock()

	s.notify()
	return nil
}

// SendProgress reports this participant's seconds against the active goal.
// The local roster entry updates optimistically; the leader folds a member's
// report into the next snapshot so everyone observes everyone's progress.
// No-op without an active goal.
func (s *Session) SendProgress(current int, appName string) {
	s.mu.Lock()
	if s.role == RoleIdle || s.goal == nil || s.goal.Status != domain.GoalActive {
		s.mu.Unlock()
		return
	}
	p := domain.NewProgress(appName, current, s.goal.TargetSeconds)
	s.setMemberProgressLocked(s.profile.ID, p)

	if s.role == RoleLeader {
		s.broadcastStateLocked()
	} else {
		s.sendToLeaderLocked(protocol.ProgressUpdate{Progress: p})
	}
	s.mu.Unlock()

	s.notify()
}
