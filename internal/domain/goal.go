package domain

import (
	"errors"
	"fmt"
	"math"
)

var ErrGoalTarget = errors.New("goal target must be positive")

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
	GoalCancelled GoalStatus = "cancelled"
)

// TeamGoal is the shared target the team works toward. At most one goal is
// active per session; only the leader creates or mutates it.
type TeamGoal struct {
	AppName       string     `json:"appName"`
	TargetSeconds int        `json:"targetSeconds"`
	Description   string     `json:"description"`
	Status        GoalStatus `json:"status"`
}

func NewGoal(appName string, targetSeconds int) (*TeamGoal, error) {
	if targetSeconds <= 0 {
		return nil, ErrGoalTarget
	}
	return &TeamGoal{
		AppName:       appName,
		TargetSeconds: targetSeconds,
		Description:   fmt.Sprintf("Work on %s for %dm", appName, targetSeconds/60),
		Status:        GoalActive,
	}, nil
}

// Progress is one member's measurement against the active goal.
type Progress struct {
	AppName    string `json:"appName"`
	Current    int    `json:"current"`
	Target     int    `json:"target"`
	Percentage int    `json:"percentage"`
}

// NewProgress derives the percentage: clamp(round(current/target*100), 0, 100).
func NewProgress(appName string, current, target int) Progress {
	pct := 0
	if target > 0 {
		pct = int(math.Round(float64(current) / float64(target) * 100))
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return Progress{
		AppName:    appName,
		Current:    current,
		Target:     target,
		Percentage: pct,
	}
}
