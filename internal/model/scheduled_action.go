package model

import "time"

// ScheduledActionStatus tracks a deferred action through its lifecycle.
type ScheduledActionStatus string

// Scheduled action status constants.
const (
	ScheduledPending    ScheduledActionStatus = "PENDING"
	ScheduledProcessing ScheduledActionStatus = "PROCESSING"
	ScheduledCompleted  ScheduledActionStatus = "COMPLETED"
	ScheduledFailed     ScheduledActionStatus = "FAILED"
	ScheduledCancelled  ScheduledActionStatus = "CANCELLED"
)

// CanTransitionTo enforces the monotonic status machine:
// PENDING→{PROCESSING, CANCELLED}, PROCESSING→{COMPLETED, FAILED},
// FAILED→PENDING (operator retry only). COMPLETED and CANCELLED are
// terminal.
func (s ScheduledActionStatus) CanTransitionTo(next ScheduledActionStatus) bool {
	switch s {
	case ScheduledPending:
		return next == ScheduledProcessing || next == ScheduledCancelled
	case ScheduledProcessing:
		return next == ScheduledCompleted || next == ScheduledFailed
	case ScheduledFailed:
		return next == ScheduledPending
	case ScheduledCompleted, ScheduledCancelled:
		return false
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible.
func (s ScheduledActionStatus) Terminal() bool {
	return s == ScheduledCompleted || s == ScheduledCancelled
}

// ScheduledAction represents a deferred action awaiting its execution time.
// The resolved action payload is embedded so execution needs no further
// synthesis.
type ScheduledAction struct {
	ExecuteAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ID             string
	AccountID      string
	ExecutedRuleID string
	ActionItemID   string
	MessageID      string
	ThreadID       string
	LastError      string
	Status         ScheduledActionStatus
	Item           ActionItem
	RetryCount     int
}
