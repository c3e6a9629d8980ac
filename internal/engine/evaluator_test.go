package engine

import (
	"context"
	"testing"

	"github.com/Veraticus/mailflow/internal/model"
)

type fakeGroupReader struct {
	items map[int64][]model.GroupItem
}

func (f *fakeGroupReader) GetGroupItems(_ context.Context, groupID int64) ([]model.GroupItem, error) {
	return f.items[groupID], nil
}

type fakeCategoryReader struct {
	bySender map[string]*model.Category
}

func (f *fakeCategoryReader) GetSenderCategory(_ context.Context, _, sender string) (*model.Category, error) {
	return f.bySender[sender], nil
}

func newTestEvaluator() *Evaluator {
	return NewEvaluator(&fakeGroupReader{items: map[int64][]model.GroupItem{}}, &fakeCategoryReader{bySender: map[string]*model.Category{}})
}

func TestStaticRuleMatching(t *testing.T) {
	ev := newTestEvaluator()
	ctx := context.Background()
	msg := testMessage("m1")

	tests := []struct {
		name string
		rule model.Rule
		want bool
	}{
		{
			name: "substring match on from",
			rule: model.Rule{Type: model.RuleTypeStatic, From: "jane@example.com", Operator: model.OperatorAnd},
			want: true,
		},
		{
			name: "case insensitive subject",
			rule: model.Rule{Type: model.RuleTypeStatic, Subject: "RECEIPT", Operator: model.OperatorAnd},
			want: true,
		},
		{
			name: "wildcard pattern",
			rule: model.Rule{Type: model.RuleTypeStatic, From: "*@example.com", Operator: model.OperatorAnd},
			want: true,
		},
		{
			name: "AND requires all conditions",
			rule: model.Rule{Type: model.RuleTypeStatic, From: "jane", Subject: "invoice", Operator: model.OperatorAnd},
			want: false,
		},
		{
			name: "OR needs one condition",
			rule: model.Rule{Type: model.RuleTypeStatic, From: "nobody", Subject: "receipt", Operator: model.OperatorOr},
			want: true,
		},
		{
			name: "body condition",
			rule: model.Rule{Type: model.RuleTypeStatic, Body: "purchase", Operator: model.OperatorAnd},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Matches(ctx, msg, &tt.rule)
			if err != nil {
				t.Fatalf("Matches failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAIRulesAreAlwaysEligible(t *testing.T) {
	ev := newTestEvaluator()
	rule := model.Rule{Type: model.RuleTypeAI, Instructions: "anything"}

	got, err := ev.Matches(context.Background(), testMessage("m1"), &rule)
	if err != nil {
		t.Fatalf("Matches failed: %v", err)
	}
	if !got {
		t.Error("AI rules must always be eligible; selection is the chooser's job")
	}
}

func TestGroupRuleExcludeVetoesInclude(t *testing.T) {
	groups := &fakeGroupReader{items: map[int64][]model.GroupItem{
		1: {
			{GroupID: 1, Type: model.GroupItemFrom, Value: "@example.com"},
		},
		2: {
			{GroupID: 2, Type: model.GroupItemFrom, Value: "@example.com"},
			{GroupID: 2, Type: model.GroupItemSubject, Value: "receipt", Exclude: true},
		},
		3: {
			{GroupID: 3, Type: model.GroupItemSubject, Value: "newsletter"},
		},
	}}
	ev := NewEvaluator(groups, &fakeCategoryReader{bySender: map[string]*model.Category{}})
	ctx := context.Background()
	msg := testMessage("m1")

	included, err := ev.Matches(ctx, msg, &model.Rule{Type: model.RuleTypeGroup, GroupID: 1})
	if err != nil || !included {
		t.Errorf("Expected include item to match, got %v, %v", included, err)
	}

	vetoed, err := ev.Matches(ctx, msg, &model.Rule{Type: model.RuleTypeGroup, GroupID: 2})
	if err != nil || vetoed {
		t.Errorf("Expected exclude item to veto the match, got %v, %v", vetoed, err)
	}

	unmatched, err := ev.Matches(ctx, msg, &model.Rule{Type: model.RuleTypeGroup, GroupID: 3})
	if err != nil || unmatched {
		t.Errorf("Expected no match without matching items, got %v, %v", unmatched, err)
	}
}

func TestCategoryFilterIsIndependentAnd(t *testing.T) {
	categories := &fakeCategoryReader{bySender: map[string]*model.Category{
		"jane@example.com": {ID: 7, Name: "Shopping"},
	}}
	ev := NewEvaluator(&fakeGroupReader{items: map[int64][]model.GroupItem{}}, categories)
	ctx := context.Background()
	msg := testMessage("m1")

	// Matching conditions but the sender's category is excluded.
	excluded := model.Rule{
		Type: model.RuleTypeStatic, From: "jane", Operator: model.OperatorAnd,
		CategoryFilters: []int64{7}, CategoryFilterMode: model.FilterExclude,
	}
	got, err := ev.Matches(ctx, msg, &excluded)
	if err != nil || got {
		t.Errorf("Expected category exclusion to override a condition match, got %v, %v", got, err)
	}

	// Include mode admits only listed categories.
	included := model.Rule{
		Type: model.RuleTypeStatic, From: "jane", Operator: model.OperatorAnd,
		CategoryFilters: []int64{7}, CategoryFilterMode: model.FilterInclude,
	}
	got, err = ev.Matches(ctx, msg, &included)
	if err != nil || !got {
		t.Errorf("Expected include-mode match, got %v, %v", got, err)
	}

	// An uncategorized sender never passes an include filter.
	other := *msg
	other.From = "unknown@example.com"
	got, err = ev.Matches(ctx, &other, &included)
	if err != nil || got {
		t.Errorf("Expected uncategorized sender to fail include filter, got %v, %v", got, err)
	}

	// AI rules also honor category filters for eligibility.
	aiRule := model.Rule{
		Type: model.RuleTypeAI, Instructions: "x",
		CategoryFilters: []int64{7}, CategoryFilterMode: model.FilterExclude,
	}
	got, err = ev.Matches(ctx, msg, &aiRule)
	if err != nil || got {
		t.Errorf("Expected AI rule to be filtered by category, got %v, %v", got, err)
	}
}
