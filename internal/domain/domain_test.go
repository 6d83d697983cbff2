package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProgressPercentage(t *testing.T) {
	tests := []struct {
		name    string
		current int
		target  int
		want    int
	}{
		{"halfway", 1800, 3600, 50},
		{"overshoot clamps to 100", 4000, 3600, 100},
		{"zero current", 0, 3600, 0},
		{"rounds to nearest", 1000, 3000, 33},
		{"zero target stays 0", 500, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProgress("VSCode", tt.current, tt.target)
			assert.Equal(t, tt.want, p.Percentage)
			assert.Equal(t, tt.current, p.Current)
			assert.Equal(t, tt.target, p.Target)
		})
	}
}

func TestNewGoal(t *testing.T) {
	g, err := NewGoal("VSCode", 3600)
	require.NoError(t, err)
	assert.Equal(t, GoalActive, g.Status)
	assert.Equal(t, "Work on VSCode for 60m", g.Description)

	_, err = NewGoal("VSCode", 0)
	assert.ErrorIs(t, err, ErrGoalTarget)

	_, err = NewGoal("VSCode", -5)
	assert.ErrorIs(t, err, ErrGoalTarget)
}

func TestNewProfileValidation(t *testing.T) {
	p, err := NewProfile("alice", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.DisplayName)

	_, err = NewProfile("", "")
	assert.ErrorIs(t, err, ErrDisplayNameEmpty)

	_, err = NewProfile(strings.Repeat("x", MaxDisplayNameLen+1), "")
	assert.ErrorIs(t, err, ErrDisplayNameTooLong)

	_, err = NewProfile("alice", strings.Repeat("x", MaxEmailLen+1))
	assert.ErrorIs(t, err, ErrEmailTooLong)

	// Email is optional.
	p, err = NewProfile("bob", "")
	require.NoError(t, err)
	assert.Empty(t, p.Email)
}

func TestChatMessageIDsUniquePerSender(t *testing.T) {
	// Same millisecond is likely here; the seq suffix must keep ids distinct.
	m1 := NewChatMessage("p1", "alice", "hello", 1)
	m2 := NewChatMessage("p1", "alice", "world", 2)
	assert.NotEqual(t, m1.ID, m2.ID)
	assert.Equal(t, "p1", m1.SenderID)
	assert.NotZero(t, m1.Timestamp)
}
