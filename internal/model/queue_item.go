package model

import "fmt"

// Action is the kind of remote work a queue item carries.
type Action string

const (
	ActionUpload Action = "upload"
	ActionDelete Action = "delete"
	ActionSync   Action = "sync"
)

func (a Action) Valid() bool {
	switch a {
	case ActionUpload, ActionDelete, ActionSync:
		return true
	}
	return false
}

// ParseAction converts request input into a known action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown queue action %q", s)
	}
	return a, nil
}

// QueueItem is one unit of asynchronous work against an asset. Items that
// exhaust their retry budget are parked instead of deleted so the failure
// history stays inspectable.
type QueueItem struct {
	ID      string `gorm:"primaryKey" json:"id"`
	AssetID string `gorm:"index;not null" json:"asset_id"`
	Action  Action `gorm:"not null" json:"action"`

	Priority    int `gorm:"index" json:"priority"`
	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	// Source file path for uploads, unused for delete/sync
	Payload string `json:"payload,omitempty"`

	// Accumulated failure messages, newest last
	ErrorLog StringList `json:"error_log,omitempty"`

	Parked bool `gorm:"index" json:"parked"`

	// Unix second timestamps
	NextEligibleAt int64 `gorm:"index" json:"next_eligible_at"`
	CreatedAt      int64 `gorm:"not null" json:"created_at"`
	UpdatedAt      int64 `json:"updated_at"`
}
