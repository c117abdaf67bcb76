package audit

import "time"

// Action names a history entry. Transition actions reuse approval status names.
type Action string

const (
	ActionCreated          Action = "created"
	ActionPending          Action = "pending"
	ActionManagerApproved  Action = "manager_approved"
	ActionAccountsApproved Action = "accounts_approved"
	ActionRejected         Action = "rejected"
	ActionDisabled         Action = "disabled"
	ActionEnabled          Action = "enabled"
)

// Record is one immutable history entry for a workflow subject.
type Record struct {
	ID           int64     `json:"id"`
	Kind         string    `json:"kind"`
	SubjectID    int64     `json:"subject_id"`
	Action       Action    `json:"action"`
	ActorID      int64     `json:"actor_id"`
	Notes        string    `json:"notes,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	StatusBefore string    `json:"status_before,omitempty"`
	StatusAfter  string    `json:"status_after"`
	At           time.Time `json:"at"`
}

// Filter narrows history listings. Zero values do not filter.
type Filter struct {
	Kind      string
	SubjectID int64
	ActorID   int64
	Action    Action
	From      time.Time
	To        time.Time
	Limit     int
}

const (
	// DefaultLimit applies when a filter has no limit.
	DefaultLimit = 100
	// MaxLimit caps every history listing.
	MaxLimit = 500
)

// ClampLimit applies the default and the hard cap.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
