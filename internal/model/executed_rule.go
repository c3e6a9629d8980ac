package model

import "time"

// ExecutedRuleStatus tracks the lifecycle of one rule decision.
type ExecutedRuleStatus string

// Executed rule status constants.
const (
	ExecutedPending ExecutedRuleStatus = "PENDING"
	ExecutedApplied ExecutedRuleStatus = "APPLIED"
	ExecutedSkipped ExecutedRuleStatus = "SKIPPED"
	ExecutedFailed  ExecutedRuleStatus = "FAILED"
)

// ActionItemStatus tracks one resolved action within an execution.
type ActionItemStatus string

// Action item status constants.
const (
	ItemPending ActionItemStatus = "PENDING"
	ItemApplied ActionItemStatus = "APPLIED"
	ItemSkipped ActionItemStatus = "SKIPPED"
	ItemFailed  ActionItemStatus = "FAILED"
)

// ActionItem is one resolved, ready-to-execute unit of an action. All
// templated fields have been materialized to literals by the time an item
// exists.
type ActionItem struct {
	ID             string
	ExecutedRuleID string
	Type           ActionType
	Label          string
	LabelID        string
	Subject        string
	Content        string
	To             string
	CC             string
	BCC            string
	URL            string
	Error          string
	Status         ActionItemStatus
	DelayInMinutes int
}

// ExecutedRule is the immutable audit record of a rule decision for one
// message. RuleID is zero when no rule matched, which is a valid terminal
// state, not an error.
type ExecutedRule struct {
	CreatedAt   time.Time
	ID          string
	AccountID   string
	MessageID   string
	ThreadID    string
	Reason      string
	Status      ExecutedRuleStatus
	ActionItems []ActionItem
	RuleID      int64
	Automated   bool
}

// HasRule reports whether a rule was actually selected for this record.
func (e *ExecutedRule) HasRule() bool { return e.RuleID != 0 }

// ResolveStatus derives the record-level status from its action items:
// APPLIED when everything ran, FAILED when any item failed, and PENDING
// while any item awaits its scheduled execution.
func (e *ExecutedRule) ResolveStatus() ExecutedRuleStatus {
	if len(e.ActionItems) == 0 {
		return ExecutedSkipped
	}
	status := ExecutedApplied
	for i := range e.ActionItems {
		switch e.ActionItems[i].Status {
		case ItemFailed:
			return ExecutedFailed
		case ItemPending:
			status = ExecutedPending
		case ItemApplied, ItemSkipped:
		}
	}
	return status
}
