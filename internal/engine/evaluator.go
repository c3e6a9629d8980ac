// Package engine implements the message-processing pipeline: condition
// evaluation, AI rule selection, argument synthesis and action execution.
package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/Veraticus/mailflow/internal/common"
	"github.com/Veraticus/mailflow/internal/model"
)

// Evaluator decides rule applicability for STATIC and GROUP rules and
// applies category filters to all rule types.
type Evaluator struct {
	groups     groupReader
	categories categoryReader
}

// groupReader is the slice of storage the evaluator needs for GROUP rules.
type groupReader interface {
	GetGroupItems(ctx context.Context, groupID int64) ([]model.GroupItem, error)
}

// categoryReader resolves a sender's learned category.
type categoryReader interface {
	GetSenderCategory(ctx context.Context, accountID, sender string) (*model.Category, error)
}

// NewEvaluator creates an evaluator backed by the given readers.
func NewEvaluator(groups groupReader, categories categoryReader) *Evaluator {
	return &Evaluator{groups: groups, categories: categories}
}

// Matches reports whether a rule applies to the message on its own terms.
// AI rules are always eligible here; the chooser decides among them.
// Category filters are applied as an independent AND for every rule type.
func (ev *Evaluator) Matches(ctx context.Context, msg *model.Message, rule *model.Rule) (bool, error) {
	allowed, err := ev.categoryAllows(ctx, msg, rule)
	if err != nil {
		return false, err
	}
	if !allowed {
		return false, nil
	}

	switch rule.Type {
	case model.RuleTypeAI:
		return true, nil
	case model.RuleTypeStatic:
		return ev.matchesStatic(msg, rule), nil
	case model.RuleTypeGroup:
		return ev.matchesGroup(ctx, msg, rule)
	default:
		return false, fmt.Errorf("rule %d: %w", rule.ID, model.ErrRuleUnknownType)
	}
}

// matchesStatic compares the rule's literal condition fields against the
// message, combined per the rule's conditional operator. Absent fields are
// not constraints.
func (ev *Evaluator) matchesStatic(msg *model.Message, rule *model.Rule) bool {
	type condition struct {
		pattern string
		text    string
	}
	conditions := make([]condition, 0, 4)
	if rule.From != "" {
		conditions = append(conditions, condition{rule.From, msg.From})
	}
	if rule.To != "" {
		conditions = append(conditions, condition{rule.To, msg.To})
	}
	if rule.Subject != "" {
		conditions = append(conditions, condition{rule.Subject, msg.Subject})
	}
	if rule.Body != "" {
		conditions = append(conditions, condition{rule.Body, msg.TextBody})
	}
	if len(conditions) == 0 {
		return false
	}

	if rule.Operator == model.OperatorOr {
		for _, c := range conditions {
			if common.FieldMatches(c.pattern, c.text) {
				return true
			}
		}
		return false
	}

	for _, c := range conditions {
		if !common.FieldMatches(c.pattern, c.text) {
			return false
		}
	}
	return true
}

// matchesGroup matches learned from/subject patterns. Any include item
// matching makes the rule apply unless an exclude item also matches.
func (ev *Evaluator) matchesGroup(ctx context.Context, msg *model.Message, rule *model.Rule) (bool, error) {
	items, err := ev.groups.GetGroupItems(ctx, rule.GroupID)
	if err != nil {
		return false, fmt.Errorf("failed to load group %d items: %w", rule.GroupID, err)
	}

	included := false
	for _, item := range items {
		var text string
		switch item.Type {
		case model.GroupItemFrom:
			text = msg.From
		case model.GroupItemSubject:
			text = msg.Subject
		default:
			continue
		}
		if !common.FieldMatches(item.Value, text) {
			continue
		}
		if item.Exclude {
			return false, nil
		}
		included = true
	}
	return included, nil
}

// categoryAllows applies the rule's category filter to the message sender.
// An empty filter set allows everything; a sender without a category only
// passes exclude-mode filters.
func (ev *Evaluator) categoryAllows(ctx context.Context, msg *model.Message, rule *model.Rule) (bool, error) {
	if len(rule.CategoryFilters) == 0 {
		return true, nil
	}

	category, err := ev.categories.GetSenderCategory(ctx, rule.AccountID, msg.SenderAddress())
	if err != nil {
		return false, fmt.Errorf("failed to resolve sender category: %w", err)
	}

	inSet := category != nil && slices.Contains(rule.CategoryFilters, category.ID)
	if rule.CategoryFilterMode == model.FilterExclude {
		return !inSet, nil
	}
	return inSet, nil
}
