package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timigs/teamsync/internal/core"
	"github.com/timigs/teamsync/internal/domain"
)

// fakenet is an in-memory provider network. Every cross-peer event (frame
// delivery, connection acceptance, channel close, incoming call) is queued
// and run by drain, which keeps callbacks asynchronous with respect to Send
// the way the core.Channel contract requires.
type fakenet struct {
	mu        sync.Mutex
	queue     []func()
	providers map[core.PeerID]*fakeProvider

	// callsPlaced records every outgoing media call as [from, to].
	callsPlaced [][2]core.PeerID
}

func newNet() *fakenet {
	return &fakenet{providers: make(map[core.PeerID]*fakeProvider)}
}

func (n *fakenet) enqueue(fn func()) {
	n.mu.Lock()
	n.queue = append(n.queue, fn)
	n.mu.Unlock()
}

// drain runs queued events until the network is quiet. Events may enqueue
// further events; each runs without the net lock held.
func (n *fakenet) drain() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		fn := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()
		fn()
	}
}

func (n *fakenet) placedCalls() [][2]core.PeerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][2]core.PeerID(nil), n.callsPlaced...)
}

func (n *fakenet) recordCall(from, to core.PeerID) {
	n.mu.Lock()
	n.callsPlaced = append(n.callsPlaced, [2]core.PeerID{from, to})
	n.mu.Unlock()
}

func (n *fakenet) provider(id core.PeerID) *fakeProvider {
	p := &fakeProvider{net: n, id: id}
	n.mu.Lock()
	n.providers[id] = p
	n.mu.Unlock()
	return p
}

type fakeChannel struct {
	net   *fakenet
	peer  core.PeerID
	other *fakeChannel

	mu      sync.Mutex
	onData  func(core.Frame)
	onClose func()
	pending []core.Frame
	closed  bool
}

func (c *fakeChannel) Peer() core.PeerID { return c.peer }

func (c *fakeChannel) Send(f core.Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return core.ErrChannelClosed
	}
	other := c.other
	c.net.enqueue(func() { other.deliver(f) })
	return nil
}

func (c *fakeChannel) deliver(f core.Frame) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fn := c.onData
	if fn == nil {
		c.pending = append(c.pending, f)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(f)
}

func (c *fakeChannel) OnData(fn func(core.Frame)) {
	c.mu.Lock()
	c.onData = fn
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, f := range pending {
		fn(f)
	}
}

func (c *fakeChannel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Close queues the teardown so frames already in flight still deliver, the
// way a real transport flushes its send buffer before closing.
func (c *fakeChannel) Close() {
	c.closeSide()
	c.other.closeSide()
}

func (c *fakeChannel) closeSide() {
	c.net.enqueue(func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.closed = true
		fn := c.onClose
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

type fakeProvider struct {
	net     *fakenet
	id      core.PeerID
	openErr error

	mu           sync.Mutex
	onConnection func(core.Channel)
	onCall       func(core.IncomingCall)
}

func (p *fakeProvider) Open(ctx context.Context) (core.PeerID, error) {
	if p.openErr != nil {
		return "", p.openErr
	}
	return p.id, nil
}

func (p *fakeProvider) Connect(ctx context.Context, target core.PeerID) (core.Channel, error) {
	p.net.mu.Lock()
	remote := p.net.providers[target]
	p.net.mu.Unlock()
	if remote == nil {
		return nil, core.ErrConnection
	}

	local := &fakeChannel{net: p.net, peer: target}
	far := &fakeChannel{net: p.net, peer: p.id}
	local.other = far
	far.other = local

	p.net.enqueue(func() {
		remote.mu.Lock()
		fn := remote.onConnection
		remote.mu.Unlock()
		if fn != nil {
			fn(far)
		}
	})
	return local, nil
}

func (p *fakeProvider) OnConnection(fn func(core.Channel)) {
	p.mu.Lock()
	p.onConnection = fn
	p.mu.Unlock()
}

func (p *fakeProvider) Call(ctx context.Context, target core.PeerID, local *core.MediaStream) (core.Call, error) {
	p.net.recordCall(p.id, target)

	p.net.mu.Lock()
	remote := p.net.providers[target]
	p.net.mu.Unlock()
	if remote == nil {
		return nil, core.ErrConnection
	}

	p.net.enqueue(func() {
		remote.mu.Lock()
		fn := remote.onCall
		remote.mu.Unlock()
		if fn != nil {
			fn(&fakeIncomingCall{peer: p.id})
		}
	})
	return &fakeSessCall{peer: target}, nil
}

func (p *fakeProvider) OnCall(fn func(core.IncomingCall)) {
	p.mu.Lock()
	p.onCall = fn
	p.mu.Unlock()
}

func (p *fakeProvider) Close() {}

type fakeSessCall struct {
	peer core.PeerID
}

func (c *fakeSessCall) Peer() core.PeerID                { return c.peer }
func (c *fakeSessCall) OnStream(func(*core.MediaStream)) {}
func (c *fakeSessCall) OnClose(func())                   {}
func (c *fakeSessCall) OnError(func(error))              {}
func (c *fakeSessCall) ReplaceVideo(core.Track) error    { return nil }
func (c *fakeSessCall) Close()                           {}

type fakeIncomingCall struct {
	peer core.PeerID

	mu       sync.Mutex
	answered bool
}

func (ic *fakeIncomingCall) Peer() core.PeerID { return ic.peer }

func (ic *fakeIncomingCall) Answer(local *core.MediaStream) (core.Call, error) {
	ic.mu.Lock()
	ic.answered = true
	ic.mu.Unlock()
	return &fakeSessCall{peer: ic.peer}, nil
}

func (ic *fakeIncomingCall) Reject() {}

type fakeSessTrack struct {
	mu      sync.Mutex
	kind    core.TrackKind
	enabled bool
}

func (t *fakeSessTrack) Kind() core.TrackKind { return t.kind }

func (t *fakeSessTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeSessTrack) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *fakeSessTrack) Stop() {}

type fakeSessScreen struct{ fakeSessTrack }

func (s *fakeSessScreen) OnEnded(func()) {}

type fakeSessDevices struct{}

func (fakeSessDevices) CaptureAudio(ctx context.Context) (core.Track, error) {
	return &fakeSessTrack{kind: core.TrackAudio, enabled: true}, nil
}

func (fakeSessDevices) CaptureVideo(ctx context.Context) (core.Track, error) {
	return &fakeSessTrack{kind: core.TrackVideo, enabled: true}, nil
}

func (fakeSessDevices) CaptureScreen(ctx context.Context) (core.ScreenTrack, error) {
	return &fakeSessScreen{fakeSessTrack{kind: core.TrackVideo, enabled: true}}, nil
}

func newSession(net *fakenet, id core.PeerID, name string) *Session {
	return New(net.provider(id), fakeSessDevices{}, domain.Profile{DisplayName: name})
}

// setupTeam builds a three-participant session: leader plus two joined
// members, with the handshake fully drained.
func setupTeam(t *testing.T) (*fakenet, *Session, *Session, *Session) {
	t.Helper()
	net := newNet()
	leader := newSession(net, "L", "lena")
	m1 := newSession(net, "A", "alice")
	m2 := newSession(net, "B", "bob")

	ctx := context.Background()
	require.NoError(t, leader.CreateTeam(ctx))
	require.NoError(t, m1.JoinTeam(ctx, "L"))
	require.NoError(t, m2.JoinTeam(ctx, "L"))
	net.drain()
	return net, leader, m1, m2
}

func memberIDs(members []domain.TeamMember) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.ID
	}
	return out
}

func findMember(t *testing.T, members []domain.TeamMember, id string) domain.TeamMember {
	t.Helper()
	for _, m := range members {
		if m.ID == id {
			return m
		}
	}
	t.Fatalf("member %s not in roster %v", id, memberIDs(members))
	return domain.TeamMember{}
}

func TestCreateTeam(t *testing.T) {
	net := newNet()
	leader := newSession(net, "L", "lena")

	require.NoError(t, leader.CreateTeam(context.Background()))

	assert.Equal(t, RoleLeader, leader.Role())
	assert.Equal(t, "L", leader.TeamID())
	members := leader.Members()
	require.Len(t, members, 1)
	assert.Equal(t, "L", members[0].ID)
	assert.True(t, members[0].IsLeader)
	assert.Equal(t, domain.StatusOnline, members[0].Status)
}

func TestOpenFailure(t *testing.T) {
	net := newNet()
	prov := net.provider("L")
	prov.openErr = core.ErrProvider
	s := New(prov, fakeSessDevices{}, domain.Profile{DisplayName: "lena"})

	err := s.CreateTeam(context.Background())
	require.ErrorIs(t, err, core.ErrProvider)
	assert.Equal(t, RoleIdle, s.Role())
}

func TestJoinHandshakeSyncsRoster(t *testing.T) {
	_, leader, m1, m2 := setupTeam(t)

	want := []string{"L", "A", "B"}
	assert.Equal(t, want, memberIDs(leader.Members()))
	assert.Equal(t, want, memberIDs(m1.Members()))
	assert.Equal(t, want, memberIDs(m2.Members()))

	// Profiles travel through the snapshot, including the leader's own.
	lentry := findMember(t, m1.Members(), "L")
	assert.Equal(t, "lena", lentry.DisplayName)
	assert.True(t, lentry.IsLeader)
	aentry := findMember(t, leader.Members(), "A")
	assert.Equal(t, "alice", aentry.DisplayName)
	assert.False(t, aentry.IsLeader)

	assert.Equal(t, RoleMember, m1.Role())
	assert.Equal(t, "L", m1.TeamID())
}

func TestDuplicateSnapshotIsIdempotent(t *testing.T) {
	net, leader, m1, _ := setupTeam(t)

	require.NoError(t, leader.SetGoal("VSCode", 3600))
	net.drain()
	before := m1.Members()

	// Re-broadcasting an identical snapshot must not grow or reorder the
	// replica.
	require.NoError(t, leader.UpdateGoalStatus(domain.GoalActive))
	net.drain()

	assert.Equal(t, before, m1.Members())
	require.NotNil(t, m1.Goal())
	assert.Equal(t, domain.GoalActive, m1.Goal().Status)
}

func TestChatRelayExcludesSender(t *testing.T) {
	net, leader, m1, m2 := setupTeam(t)

	sent, err := m1.SendMessage("hello")
	require.NoError(t, err)
	net.drain()

	for _, s := range []*Session{leader, m1, m2} {
		msgs := s.Messages()
		require.Len(t, msgs, 1, "each replica holds the message exactly once")
		assert.Equal(t, sent.ID, msgs[0].ID)
		assert.Equal(t, "alice", msgs[0].SenderName)
		assert.Equal(t, "hello", msgs[0].Text)
	}
}

func TestChatOrderingThroughLeader(t *testing.T) {
	net, leader, m1, m2 := setupTeam(t)

	first, err := m1.SendMessage("first")
	require.NoError(t, err)
	net.drain()
	second, err := m2.SendMessage("second")
	require.NoError(t, err)
	net.drain()

	for _, s := range []*Session{leader, m1, m2} {
		msgs := s.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, first.ID, msgs[0].ID)
		assert.Equal(t, second.ID, msgs[1].ID)
	}
}

func TestOnMessageHook(t *testing.T) {
	net, _, m1, m2 := setupTeam(t)

	var got []domain.ChatMessage
	m2.OnMessage(func(m domain.ChatMessage) { got = append(got, m) })

	_, err := m1.SendMessage("ping")
	require.NoError(t, err)
	net.drain()

	require.Len(t, got, 1)
	assert.Equal(t, "ping", got[0].Text)
}

func TestSendMessageRequiresSession(t *testing.T) {
	net := newNet()
	s := newSession(net, "X", "xavier")
	_, err := s.SendMessage("hello")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestGoalAndProgressPropagation(t *testing.T) {
	net, leader, m1, m2 := setupTeam(t)

	require.NoError(t, leader.SetGoal("VSCode", 3600))
	net.drain()

	for _, s := range []*Session{leader, m1, m2} {
		g := s.Goal()
		require.NotNil(t, g)
		assert.Equal(t, "VSCode", g.AppName)
		assert.Equal(t, domain.GoalActive, g.Status)
	}

	m1.SendProgress(1800, "VSCode")
	net.drain()

	for _, s := range []*Session{leader, m1, m2} {
		entry := findMember(t, s.Members(), "A")
		require.NotNil(t, entry.Progress)
		assert.Equal(t, 50, entry.Progress.Percentage)
	}
}

func TestSetGoalMemberRejected(t *testing.T) {
	_, _, m1, _ := setupTeam(t)
	assert.ErrorIs(t, m1.SetGoal("VSCode", 3600), ErrNotLeader)
}

func TestProgressIgnoredWithoutActiveGoal(t *testing.T) {
	net, leader, m1, _ := setupTeam(t)

	m1.SendProgress(1800, "VSCode")
	net.drain()
	entry := findMember(t, leader.Members(), "A")
	assert.Nil(t, entry.Progress)

	require.NoError(t, leader.SetGoal("VSCode", 3600))
	require.NoError(t, leader.UpdateGoalStatus(domain.GoalCompleted))
	net.drain()

	m1.SendProgress(1800, "VSCode")
	net.drain()
	entry = findMember(t, leader.Members(), "A")
	assert.Nil(t, entry.Progress, "progress against a completed goal is dropped")
}

func TestStatusPropagation(t *testing.T) {
	net, leader, m1, m2 := setupTeam(t)

	m1.SetStatus(domain.StatusBusy)
	net.drain()

	for _, s := range []*Session{leader, m1, m2} {
		assert.Equal(t, domain.StatusBusy, findMember(t, s.Members(), "A").Status)
	}
}

func TestKick(t *testing.T) {
	net, leader, m1, m2 := setupTeam(t)

	require.NoError(t, leader.Kick("A"))
	net.drain()

	assert.Equal(t, []string{"L", "B"}, memberIDs(leader.Members()))
	assert.Equal(t, []string{"L", "B"}, memberIDs(m2.Members()))

	// The kicked member fully resets.
	assert.Equal(t, RoleIdle, m1.Role())
	assert.Empty(t, m1.Members())
	assert.Empty(t, m1.TeamID())
}

func TestKickRequiresLeader(t *testing.T) {
	_, _, m1, _ := setupTeam(t)
	assert.ErrorIs(t, m1.Kick("B"), ErrNotLeader)
}

func TestMemberDisconnectPrunesRoster(t *testing.T) {
	net, leader, m1, m2 := setupTeam(t)

	m1.LeaveTeam()
	net.drain()

	assert.Equal(t, []string{"L", "B"}, memberIDs(leader.Members()))
	assert.Equal(t, []string{"L", "B"}, memberIDs(m2.Members()))
	assert.Equal(t, RoleIdle, m1.Role())
}

func TestLeaderDisconnectOrphansMembers(t *testing.T) {
	net, leader, m1, m2 := setupTeam(t)

	leader.LeaveTeam()
	net.drain()

	for _, s := range []*Session{m1, m2} {
		assert.True(t, s.Orphaned())
		assert.Equal(t, RoleMember, s.Role())
		// The stale snapshot stays readable.
		assert.Equal(t, []string{"L", "A", "B"}, memberIDs(s.Members()))
	}

	// An orphaned member's traffic is dropped, not an error.
	_, err := m1.SendMessage("anyone there?")
	require.NoError(t, err)
	net.drain()
	assert.Len(t, m2.Messages(), 0)
}

func TestLeaveTeamIdempotent(t *testing.T) {
	net, _, m1, _ := setupTeam(t)

	m1.LeaveTeam()
	m1.LeaveTeam()
	net.drain()
	assert.Equal(t, RoleIdle, m1.Role())
}

func TestRejoinAfterLeaveClearsState(t *testing.T) {
	net, leader, m1, _ := setupTeam(t)
	require.NoError(t, leader.SetGoal("VSCode", 3600))
	_, err := m1.SendMessage("before")
	require.NoError(t, err)
	net.drain()

	m1.LeaveTeam()
	net.drain()
	require.NoError(t, m1.JoinTeam(context.Background(), "L"))
	net.drain()

	assert.Empty(t, m1.Messages(), "chat history does not survive a rejoin")
	assert.Equal(t, []string{"L", "B", "A"}, memberIDs(m1.Members()))
	require.NotNil(t, m1.Goal())
	assert.False(t, m1.Orphaned())
}

func TestVoiceMemberDialsOnlyLeader(t *testing.T) {
	net, _, m1, _ := setupTeam(t)

	require.NoError(t, m1.JoinVoice(context.Background(), false))
	net.drain()

	assert.Equal(t, [][2]core.PeerID{{"A", "L"}}, net.placedCalls())
}

func TestVoiceLeaderDialsAllPeers(t *testing.T) {
	net, leader, m1, m2 := setupTeam(t)

	require.NoError(t, leader.JoinVoice(context.Background(), false))

	// Auto-answer runs on its own goroutine; pump the network until both
	// members report voice status back through the leader.
	require.Eventually(t, func() bool {
		net.drain()
		return findMember(t, leader.Members(), "A").Status == domain.StatusVoice &&
			findMember(t, leader.Members(), "B").Status == domain.StatusVoice
	}, 2*time.Second, 10*time.Millisecond)

	placed := net.placedCalls()
	assert.ElementsMatch(t, [][2]core.PeerID{{"L", "A"}, {"L", "B"}}, placed)
	for _, c := range placed {
		assert.NotEqual(t, [2]core.PeerID{"A", "B"}, c, "members never call each other")
		assert.NotEqual(t, [2]core.PeerID{"B", "A"}, c, "members never call each other")
	}

	// Everyone converges on the same presence picture.
	require.Eventually(t, func() bool {
		net.drain()
		return findMember(t, m2.Members(), "A").Status == domain.StatusVoice
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, domain.StatusVoice, findMember(t, leader.Members(), "L").Status)
	assert.True(t, m1.Media().Active())
	assert.True(t, m2.Media().Active())
}

func TestLeaveVoiceRestoresOnlineStatus(t *testing.T) {
	net, leader, m1, _ := setupTeam(t)

	require.NoError(t, m1.JoinVoice(context.Background(), false))
	net.drain()
	require.Equal(t, domain.StatusVoice, findMember(t, leader.Members(), "A").Status)

	m1.LeaveVoice()
	net.drain()
	assert.Equal(t, domain.StatusOnline, findMember(t, leader.Members(), "A").Status)
	assert.False(t, m1.Media().Active())
}

func TestLeaveTeamEndsVoice(t *testing.T) {
	net, _, m1, _ := setupTeam(t)

	require.NoError(t, m1.JoinVoice(context.Background(), false))
	net.drain()
	require.True(t, m1.Media().Active())

	m1.LeaveTeam()
	net.drain()
	assert.False(t, m1.Media().Active())
}
