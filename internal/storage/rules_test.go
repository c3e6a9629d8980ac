package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/Veraticus/mailflow/internal/model"
)

func seedRule(t *testing.T, store *SQLiteStorage, rule *model.Rule) *model.Rule {
	t.Helper()
	if err := store.SaveRule(context.Background(), rule); err != nil {
		t.Fatalf("Failed to seed rule: %v", err)
	}
	return rule
}

func newAIRule(accountID, name string, position int) *model.Rule {
	return &model.Rule{
		AccountID:          accountID,
		Name:               name,
		Type:               model.RuleTypeAI,
		Instructions:       "Match newsletters about " + name,
		Operator:           model.OperatorAnd,
		CategoryFilterMode: model.FilterInclude,
		Position:           position,
		Automate:           true,
		Enabled:            true,
		Actions: []model.Action{
			{Type: model.ActionArchive},
		},
	}
}

func TestSaveRuleRoundTrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	seedAccount(t, store, "acct")

	rule := &model.Rule{
		AccountID:          "acct",
		Name:               "Label receipts",
		Type:               model.RuleTypeStatic,
		From:               "*@stores.example.com",
		Subject:            "receipt",
		Operator:           model.OperatorOr,
		CategoryFilterMode: model.FilterExclude,
		CategoryFilters:    []int64{3, 7},
		Automate:           true,
		RunOnThreads:       true,
		Enabled:            true,
		Actions: []model.Action{
			{
				Type:           model.ActionLabel,
				Label:          model.Templated("a short label for this receipt"),
				LabelID:        "Label_42",
				DelayInMinutes: 0,
			},
			{
				Type:           model.ActionReply,
				Content:        model.Templated("thank them politely"),
				DelayInMinutes: 30,
			},
		},
	}
	seedRule(t, store, rule)
	if rule.ID == 0 {
		t.Fatal("Expected rule ID to be assigned")
	}

	got, err := store.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if got.Type != model.RuleTypeStatic || got.Operator != model.OperatorOr {
		t.Errorf("Rule fields did not round-trip: %+v", got)
	}
	if len(got.CategoryFilters) != 2 || got.CategoryFilters[0] != 3 {
		t.Errorf("Category filters did not round-trip: %v", got.CategoryFilters)
	}
	if len(got.Actions) != 2 {
		t.Fatalf("Expected 2 actions, got %d", len(got.Actions))
	}
	if !got.Actions[0].Label.IsTemplated() {
		t.Error("Expected templated label field")
	}
	if got.Actions[0].LabelID != "Label_42" {
		t.Errorf("Label ID did not round-trip: %q", got.Actions[0].LabelID)
	}
	if got.Actions[1].DelayInMinutes != 30 {
		t.Errorf("Delay did not round-trip: %d", got.Actions[1].DelayInMinutes)
	}
	if got.Actions[1].Content.Value != "thank them politely" {
		t.Errorf("Templated content prompt did not round-trip: %q", got.Actions[1].Content.Value)
	}
}

func TestSaveRuleRejectsInvalidConfiguration(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	seedAccount(t, store, "acct")

	tests := []struct {
		rule    *model.Rule
		wantErr error
		name    string
	}{
		{
			name: "AI rule without instructions",
			rule: &model.Rule{
				AccountID: "acct", Name: "r", Type: model.RuleTypeAI, Enabled: true,
				Actions: []model.Action{{Type: model.ActionArchive}},
			},
			wantErr: model.ErrRuleMissingInstructions,
		},
		{
			name: "static rule without conditions",
			rule: &model.Rule{
				AccountID: "acct", Name: "r", Type: model.RuleTypeStatic, Enabled: true,
				Actions: []model.Action{{Type: model.ActionArchive}},
			},
			wantErr: model.ErrRuleMissingConditions,
		},
		{
			name: "rule without actions",
			rule: &model.Rule{
				AccountID: "acct", Name: "r", Type: model.RuleTypeAI,
				Instructions: "x", Enabled: true,
			},
			wantErr: model.ErrRuleMissingActions,
		},
		{
			name: "negative delay",
			rule: &model.Rule{
				AccountID: "acct", Name: "r", Type: model.RuleTypeAI,
				Instructions: "x", Enabled: true,
				Actions: []model.Action{{Type: model.ActionArchive, DelayInMinutes: -1}},
			},
			wantErr: model.ErrActionNegativeDelay,
		},
		{
			name: "send without recipient",
			rule: &model.Rule{
				AccountID: "acct", Name: "r", Type: model.RuleTypeAI,
				Instructions: "x", Enabled: true,
				Actions: []model.Action{{Type: model.ActionSendEmail}},
			},
			wantErr: model.ErrActionMissingRecipient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.SaveRule(ctx, tt.rule)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetEnabledRulesOrder(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	seedAccount(t, store, "acct")

	second := seedRule(t, store, newAIRule("acct", "second", 2))
	first := seedRule(t, store, newAIRule("acct", "first", 1))
	disabled := newAIRule("acct", "disabled", 0)
	disabled.Enabled = false
	seedRule(t, store, disabled)

	rules, err := store.GetEnabledRules(ctx, "acct")
	if err != nil {
		t.Fatalf("GetEnabledRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("Expected 2 enabled rules, got %d", len(rules))
	}
	if rules[0].ID != first.ID || rules[1].ID != second.ID {
		t.Errorf("Rules not in position order: got %d, %d", rules[0].ID, rules[1].ID)
	}
	if len(rules[0].Actions) != 1 {
		t.Error("Expected actions to be loaded with rules")
	}
}

func TestSetRuleEnabled(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	seedAccount(t, store, "acct")
	rule := seedRule(t, store, newAIRule("acct", "toggle", 0))

	if err := store.SetRuleEnabled(ctx, rule.ID, false); err != nil {
		t.Fatalf("SetRuleEnabled failed: %v", err)
	}
	rules, err := store.GetEnabledRules(ctx, "acct")
	if err != nil {
		t.Fatalf("GetEnabledRules failed: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("Expected no enabled rules after disable, got %d", len(rules))
	}
}

func TestUpdateActionLabelID(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	seedAccount(t, store, "acct")
	seedAccount(t, store, "other")

	// Two rules on the target account share the stale label ID; a third on
	// another account must not be touched.
	ruleA := newAIRule("acct", "a", 0)
	ruleA.Actions = []model.Action{{Type: model.ActionLabel, Label: model.Literal("Receipts"), LabelID: "stale"}}
	seedRule(t, store, ruleA)

	ruleB := newAIRule("acct", "b", 1)
	ruleB.Actions = []model.Action{{Type: model.ActionLabel, Label: model.Literal("Receipts"), LabelID: "stale"}}
	seedRule(t, store, ruleB)

	ruleC := newAIRule("other", "c", 0)
	ruleC.Actions = []model.Action{{Type: model.ActionLabel, Label: model.Literal("Receipts"), LabelID: "stale"}}
	seedRule(t, store, ruleC)

	n, err := store.UpdateActionLabelID(ctx, "acct", "stale", "fresh")
	if err != nil {
		t.Fatalf("UpdateActionLabelID failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 healed actions, got %d", n)
	}

	got, err := store.GetRule(ctx, ruleA.ID)
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if got.Actions[0].LabelID != "fresh" {
		t.Errorf("Expected healed label ID, got %q", got.Actions[0].LabelID)
	}

	untouched, err := store.GetRule(ctx, ruleC.ID)
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if untouched.Actions[0].LabelID != "stale" {
		t.Errorf("Other account's action was modified: %q", untouched.Actions[0].LabelID)
	}
}
