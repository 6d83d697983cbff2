// Package session implements the peer-coordinated team session: one leader
// holds the authoritative roster and goal and pushes full snapshots, members
// hold replicas they replace wholesale. All shared state lives behind a
// single mutex; channel callbacks and local operations both serialize on it.
package session

import (
	"errors"
	"sync"

	"github.com/timigs/teamsync/internal/core"
	"github.com/timigs/teamsync/internal/domain"
	"github.com/timigs/teamsync/internal/media"
)

var (
	ErrNotLeader = errors.New("operation requires the leader role")
	ErrNoSession = errors.New("no active session")
)

type Role int

const (
	RoleIdle Role = iota
	RoleLeader
	RoleMember
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleMember:
		return "member"
	}
	return "idle"
}

// Session owns all per-participant state. Construct one per process with an
// injected provider; there is no package-level instance.
type Session struct {
	provider core.Provider
	media    *media.Manager

	mu       sync.Mutex
	profile  domain.Profile
	role     Role
	teamID   core.PeerID
	members  []domain.TeamMember
	messages []domain.ChatMessage
	goal     *domain.TeamGoal
	channels map[core.PeerID]core.Channel
	orphaned bool
	opened   bool
	chatSeq  uint64

	// Set before the session starts; invoked without the state lock held.
	onChange  func()
	onMessage func(domain.ChatMessage)
}

func New(provider core.Provider, devices core.Devices, profile domain.Profile) *Session {
	s := &Session{
		provider: provider,
		profile:  profile,
		channels: make(map[core.PeerID]core.Channel),
	}
	s.media = media.NewManager(provider, devices, media.Hooks{
		CallTargets: s.callTargets,
		OnStatus:    s.setLocalStatus,
	})
	return s
}

// OnChange registers a hook fired after any roster/goal/chat mutation.
func (s *Session) OnChange(fn func()) { s.onChange = fn }

// OnMessage registers a hook fired for each chat message received or sent.
func (s *Session) OnMessage(fn func(domain.ChatMessage)) { s.onMessage = fn }

func (s *Session) Media() *media.Manager { return s.media }

func (s *Session) Profile() domain.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) TeamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.teamID)
}

// Orphaned reports whether this member lost its channel to the leader and is
// left with a stale snapshot. There is no automatic recovery.
func (s *Session) Orphaned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orphaned
}

func (s *Session) Members() []domain.TeamMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TeamMember, len(s.members))
	copy(out, s.members)
	return out
}

func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) Goal() *domain.TeamGoal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goal == nil {
		return nil
	}
	g := *s.goal
	return &g
}

func (s *Session) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *Session) resetLocked() {
	s.role = RoleIdle
	s.teamID = ""
	s.members = nil
	s.messages = nil
	s.goal = nil
	s.orphaned = false
}

// selfMemberLocked builds this participant's own roster entry.
func (s *Session) selfMemberLocked(leader bool) domain.TeamMember {
	return domain.TeamMember{
		ID:          s.profile.ID,
		DisplayName: s.profile.DisplayName,
		Email:       s.profile.Email,
		IsLeader:    leader,
		Status:      domain.StatusOnline,
	}
}

func (s *Session) memberIndexLocked(id string) int {
	for i := range s.members {
		if s.members[i].ID == id {
			return i
		}
	}
	return -1
}

// upsertMemberLocked folds a profile handshake into the roster. Order
// independent: two members' responses may arrive either way round.
func (s *Session) upsertMemberLocked(m domain.TeamMember) {
	if i := s.memberIndexLocked(m.ID); i >= 0 {
		progress := s.members[i].Progress
		s.members[i] = m
		s.members[i].Progress = progress
		return
	}
	s.members = append(s.members, m)
}

func (s *Session) removeMemberLocked(id string) {
	if i := s.memberIndexLocked(id); i >= 0 {
		s.members = append(s.members[:i], s.members[i+1:]...)
	}
}

func (s *Session) setMemberStatusLocked(id string, status domain.Status) {
	if i := s.memberIndexLocked(id); i >= 0 {
		s.members[i].Status = status
	}
}

func (s *Session) setMemberProgressLocked(id string, p domain.Progress) {
	if i := s.memberIndexLocked(id); i >= 0 {
		s.members[i].Progress = &p
	}
}
