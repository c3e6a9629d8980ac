package model

import "time"

// Category is a named bucket a sender can belong to, assigned by
// categorization jobs and consulted read-only during rule matching.
type Category struct {
	CreatedAt   time.Time
	Name        string
	Description string
	ID          int64
}

// GroupItemType says which message attribute a learned pattern matches.
type GroupItemType string

const (
	// GroupItemFrom patterns match the sender address.
	GroupItemFrom GroupItemType = "FROM"
	// GroupItemSubject patterns match the subject line.
	GroupItemSubject GroupItemType = "SUBJECT"
)

// GroupItem records one learned from/subject pattern feeding a GROUP rule.
// An exclude item vetoes an otherwise-matching include item.
type GroupItem struct {
	CreatedAt time.Time
	Value     string
	Type      GroupItemType
	ID        int64
	GroupID   int64
	Exclude   bool
}

// Group is a named collection of learned patterns referenced by GROUP rules.
type Group struct {
	CreatedAt time.Time
	Name      string
	ID        int64
}
