package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/Veraticus/mailflow/internal/llm"
	"github.com/Veraticus/mailflow/internal/model"
	"github.com/Veraticus/mailflow/internal/providers"
	"github.com/Veraticus/mailflow/internal/testutil"
)

func newTestEngine(t *testing.T, client llm.Client, provider *fakeProvider) (*Engine, *testutil.TestDB, *model.Account) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	account := db.SeedAccount("acct")
	eng := New(db.Storage, client, fakeFactory(provider))
	return eng, db, account
}

func TestProcessMessageStaticMatchSkipsTheModel(t *testing.T) {
	client := &mockLLM{}
	msg := testMessage("m1")
	provider := newFakeProvider(msg)
	eng, db, account := newTestEngine(t, client, provider)
	ctx := context.Background()

	db.SeedRule(&model.Rule{
		AccountID: account.ID,
		Type:      model.RuleTypeStatic,
		Name:      "Archive receipts",
		From:      "jane@example.com",
		Operator:  model.OperatorAnd,
		Enabled:   true,
		Automate:  true,
		Position:  0,
		Actions:   []model.Action{{Type: model.ActionArchive}},
	})
	// An AI rule later in the order must never be consulted once a static
	// rule matches.
	db.SeedRule(&model.Rule{
		AccountID:    account.ID,
		Type:         model.RuleTypeAI,
		Name:         "Catch-all",
		Instructions: "handle everything else",
		Enabled:      true,
		Automate:     true,
		Position:     1,
		Actions:      []model.Action{{Type: model.ActionMarkSpam}},
	})

	records, err := eng.ProcessMessage(ctx, account.ID, msg.ID)
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if client.callCount != 0 {
		t.Errorf("Static match must short-circuit the chooser, got %d model calls", client.callCount)
	}
	if len(records) != 1 || records[0].Status != model.ExecutedApplied {
		t.Fatalf("Expected one applied record, got %+v", records)
	}
	if provider.callCount("ArchiveThread") != 1 {
		t.Errorf("Expected the archive action to run, calls: %v", provider.calls)
	}
	if provider.callCount("MarkSpam") != 0 {
		t.Errorf("The AI rule's action must not run, calls: %v", provider.calls)
	}
}

func TestProcessMessageAISelection(t *testing.T) {
	client := &mockLLM{respond: func(req llm.FunctionCallRequest) (llm.FunctionCallResponse, error) {
		return selectRule(0, "looks like a receipt"), nil
	}}
	msg := testMessage("m1")
	provider := newFakeProvider(msg)
	eng, db, account := newTestEngine(t, client, provider)
	ctx := context.Background()

	rule := db.SeedRule(&model.Rule{
		AccountID:    account.ID,
		Type:         model.RuleTypeAI,
		Name:         "Receipts",
		Instructions: "label receipts",
		Enabled:      true,
		Automate:     true,
		Actions:      []model.Action{{Type: model.ActionLabel, Label: model.Literal("Receipts")}},
	})

	records, err := eng.ProcessMessage(ctx, account.ID, msg.ID)
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected one record, got %d", len(records))
	}
	record := records[0]
	if record.RuleID != rule.ID || record.Reason != "looks like a receipt" {
		t.Errorf("Record should carry the chosen rule and reason: %+v", record)
	}
	if record.Status != model.ExecutedApplied {
		t.Errorf("Expected APPLIED, got %s", record.Status)
	}
	// One chooser call; the literal label needs no synthesis.
	if client.callCount != 1 {
		t.Errorf("Expected exactly one model call, got %d", client.callCount)
	}
	if provider.callCount("LabelMessage") != 1 {
		t.Errorf("Expected one label call, calls: %v", provider.calls)
	}
}

func TestProcessMessageNoRuleSelectedIsRecorded(t *testing.T) {
	client := &mockLLM{respond: func(_ llm.FunctionCallRequest) (llm.FunctionCallResponse, error) {
		args := []byte(`{"reason":"nothing fits"}`)
		return llm.FunctionCallResponse{Name: "no_rule_applies", Arguments: args}, nil
	}}
	msg := testMessage("m1")
	provider := newFakeProvider(msg)
	eng, db, account := newTestEngine(t, client, provider)
	ctx := context.Background()

	db.SeedRule(&model.Rule{
		AccountID:    account.ID,
		Type:         model.RuleTypeAI,
		Name:         "Receipts",
		Instructions: "label receipts",
		Enabled:      true,
		Automate:     true,
		Actions:      []model.Action{{Type: model.ActionLabel, Label: model.Literal("Receipts")}},
	})

	records, err := eng.ProcessMessage(ctx, account.ID, msg.ID)
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected one record, got %d", len(records))
	}
	record := records[0]
	if record.HasRule() || record.Status != model.ExecutedSkipped || record.Reason != "nothing fits" {
		t.Errorf("Expected a skipped no-rule record, got %+v", record)
	}
	if provider.callCount("LabelMessage") != 0 {
		t.Errorf("No action may run without a rule, calls: %v", provider.calls)
	}

	// The no-rule decision is part of the audit trail.
	executions, err := db.Storage.ListExecutions(ctx, account.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(executions) != 1 {
		t.Errorf("Expected the decision to be persisted, got %d executions", len(executions))
	}
}

func TestProcessMessageMultiRuleSelection(t *testing.T) {
	client := &mockLLM{respond: func(_ llm.FunctionCallRequest) (llm.FunctionCallResponse, error) {
		args := []byte(`{"ruleNumbers":[1,0],"reason":"label then archive"}`)
		return llm.FunctionCallResponse{Name: "select_rules", Arguments: args}, nil
	}}
	msg := testMessage("m1")
	provider := newFakeProvider(msg)
	eng, db, account := newTestEngine(t, client, provider)
	ctx := context.Background()

	account.MultiRuleSelection = true
	if err := db.Storage.SaveAccount(ctx, account); err != nil {
		t.Fatalf("SaveAccount failed: %v", err)
	}

	archive := db.SeedRule(&model.Rule{
		AccountID:    account.ID,
		Type:         model.RuleTypeAI,
		Name:         "Archive",
		Instructions: "archive handled emails",
		Enabled:      true,
		Automate:     true,
		Position:     0,
		Actions:      []model.Action{{Type: model.ActionArchive}},
	})
	label := db.SeedRule(&model.Rule{
		AccountID:    account.ID,
		Type:         model.RuleTypeAI,
		Name:         "Receipts",
		Instructions: "label receipts",
		Enabled:      true,
		Automate:     true,
		Position:     1,
		Actions:      []model.Action{{Type: model.ActionLabel, Label: model.Literal("Receipts")}},
	})

	records, err := eng.ProcessMessage(ctx, account.ID, msg.ID)
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected two records, got %d", len(records))
	}
	// Records follow the model's ordering.
	if records[0].RuleID != label.ID || records[1].RuleID != archive.ID {
		t.Errorf("Expected label then archive, got %d then %d", records[0].RuleID, records[1].RuleID)
	}
	if provider.callCount("LabelMessage") != 1 || provider.callCount("ArchiveThread") != 1 {
		t.Errorf("Both rules' actions should run, calls: %v", provider.calls)
	}
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	client := &mockLLM{respond: func(_ llm.FunctionCallRequest) (llm.FunctionCallResponse, error) {
		return selectRule(0, "matches"), nil
	}}
	msg := testMessage("m1")
	provider := newFakeProvider(msg)
	eng, db, account := newTestEngine(t, client, provider)
	ctx := context.Background()

	db.SeedRule(&model.Rule{
		AccountID:    account.ID,
		Type:         model.RuleTypeAI,
		Name:         "Receipts",
		Instructions: "label receipts",
		Enabled:      true,
		Automate:     true,
		Actions:      []model.Action{{Type: model.ActionLabel, Label: model.Literal("Receipts")}},
	})

	records, err := eng.Preview(ctx, account.ID, msg.ID)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(records) != 1 || len(records[0].ActionItems) != 1 {
		t.Fatalf("Expected one previewed record with its item, got %+v", records)
	}
	if provider.callCount("LabelMessage") != 0 {
		t.Errorf("Preview must not execute actions, calls: %v", provider.calls)
	}

	executions, err := db.Storage.ListExecutions(ctx, account.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(executions) != 0 {
		t.Errorf("Preview must not persist anything, got %d executions", len(executions))
	}
}

func TestProcessQueryCountsFailuresWithoutStopping(t *testing.T) {
	client := &mockLLM{}
	good := testMessage("m1")
	provider := newFakeProvider(good)
	eng, db, account := newTestEngine(t, client, provider)
	ctx := context.Background()

	db.SeedRule(&model.Rule{
		AccountID: account.ID,
		Type:      model.RuleTypeStatic,
		Name:      "Archive all",
		From:      "@example.com",
		Operator:  model.OperatorAnd,
		Enabled:   true,
		Automate:  true,
		Actions:   []model.Action{{Type: model.ActionArchive}},
	})

	// A ref whose message can no longer be fetched fails alone.
	gone := testMessage("gone")
	provider.messages[gone.ID] = gone
	provider.getErr = map[string]error{
		gone.ID: providers.NewError(providers.KindNotFound, "messages.get", fmt.Errorf("message expired")),
	}

	processed, failed, err := eng.ProcessQuery(ctx, account.ID, "in:inbox", 10)
	if err != nil {
		t.Fatalf("ProcessQuery failed: %v", err)
	}
	if processed != 1 || failed != 1 {
		t.Errorf("Expected 1 processed, 1 failed, got %d/%d", processed, failed)
	}
	if provider.callCount("ArchiveThread") != 1 {
		t.Errorf("The healthy message should still be handled, calls: %v", provider.calls)
	}
}
