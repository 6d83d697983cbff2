package domain

// Status is a member's presence state as seen by the rest of the team.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusBusy    Status = "busy"
	StatusVoice   Status = "voice"
)

// TeamMember is one roster entry. Exactly one member per session has
// IsLeader set; the team's identifier equals that member's ID.
type TeamMember struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"name"`
	Email       string    `json:"email"`
	IsLeader    bool      `json:"isLeader"`
	Status      Status    `json:"status"`
	Progress    *Progress `json:"progress,omitempty"`
}
