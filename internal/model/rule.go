// Package model defines the core domain models used throughout the application.
package model

import "time"

// RuleType indicates how a rule's applicability is decided.
type RuleType string

// Rule type constants.
const (
	// RuleTypeAI rules are selected by the language model chooser.
	RuleTypeAI RuleType = "AI"
	// RuleTypeStatic rules match purely on literal field comparison.
	RuleTypeStatic RuleType = "STATIC"
	// RuleTypeGroup rules match via learned sender/subject patterns.
	RuleTypeGroup RuleType = "GROUP"
)

// ConditionalOperator controls how a rule's static conditions combine.
type ConditionalOperator string

const (
	// OperatorAnd requires every present condition to match.
	OperatorAnd ConditionalOperator = "AND"
	// OperatorOr requires at least one present condition to match.
	OperatorOr ConditionalOperator = "OR"
)

// CategoryFilterMode controls whether category filters include or exclude.
type CategoryFilterMode string

const (
	// FilterInclude matches only senders whose category is in the filter set.
	FilterInclude CategoryFilterMode = "INCLUDE"
	// FilterExclude rejects senders whose category is in the filter set.
	FilterExclude CategoryFilterMode = "EXCLUDE"
)

// Rule represents one declarative email-handling rule owned by an account.
// Static condition fields are optional; empty means "not constrained".
type Rule struct {
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Name               string
	Instructions       string
	AccountID          string
	Type               RuleType
	From               string
	To                 string
	Subject            string
	Body               string
	Operator           ConditionalOperator
	CategoryFilterMode CategoryFilterMode
	Actions            []Action
	CategoryFilters    []int64
	ID                 int64
	GroupID            int64
	Position           int
	Automate           bool
	RunOnThreads       bool
	Enabled            bool
}

// HasStaticConditions reports whether any literal condition field is set.
func (r *Rule) HasStaticConditions() bool {
	return r.From != "" || r.To != "" || r.Subject != "" || r.Body != ""
}

// Validate checks rule configuration at save time so malformed rules never
// surface during execution.
func (r *Rule) Validate() error {
	switch r.Type {
	case RuleTypeAI:
		if r.Instructions == "" {
			return ErrRuleMissingInstructions
		}
	case RuleTypeStatic:
		if !r.HasStaticConditions() {
			return ErrRuleMissingConditions
		}
	case RuleTypeGroup:
		if r.GroupID == 0 {
			return ErrRuleMissingGroup
		}
	default:
		return ErrRuleUnknownType
	}

	if len(r.Actions) == 0 {
		return ErrRuleMissingActions
	}
	for i := range r.Actions {
		if err := r.Actions[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
