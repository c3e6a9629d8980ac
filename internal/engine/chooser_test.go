package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Veraticus/mailflow/internal/llm"
	"github.com/Veraticus/mailflow/internal/model"
)

func aiRules(names ...string) []model.Rule {
	rules := make([]model.Rule, 0, len(names))
	for _, name := range names {
		rules = append(rules, model.Rule{
			Type:         model.RuleTypeAI,
			Name:         name,
			Instructions: "handle " + name + " emails",
		})
	}
	return rules
}

func TestChooseWithNoRulesSkipsTheModel(t *testing.T) {
	client := &mockLLM{}
	chooser := NewChooser(client)

	choice, err := chooser.Choose(context.Background(), &model.Account{}, testMessage("m1"), nil)
	if err != nil {
		t.Fatalf("Choose failed: %v", err)
	}
	if choice.Selected() || choice.Reason != "No rules" {
		t.Errorf("Expected no-rule choice with reason %q, got %+v", "No rules", choice)
	}
	if client.callCount != 0 {
		t.Errorf("Expected no model calls, got %d", client.callCount)
	}
}

func TestChooseSingleSelect(t *testing.T) {
	client := &mockLLM{respond: func(_ llm.FunctionCallRequest) (llm.FunctionCallResponse, error) {
		return selectRule(1, "clearly a receipt"), nil
	}}
	chooser := NewChooser(client)
	rules := aiRules("Newsletters", "Receipts")

	choice, err := chooser.Choose(context.Background(), &model.Account{About: "I run a small shop."}, testMessage("m1"), rules)
	if err != nil {
		t.Fatalf("Choose failed: %v", err)
	}
	if !choice.Selected() || len(choice.RuleIndexes) != 1 || choice.RuleIndexes[0] != 1 {
		t.Errorf("Expected rule 1 selected, got %+v", choice)
	}
	if choice.Reason != "clearly a receipt" {
		t.Errorf("Expected the model's reason, got %q", choice.Reason)
	}

	req := client.requests[0]
	// One function per rule plus the two reserved escapes.
	if len(req.Functions) != 4 {
		t.Fatalf("Expected 4 functions, got %d", len(req.Functions))
	}
	if req.Functions[0].Name != "rule_0" || req.Functions[1].Name != "rule_1" {
		t.Errorf("Function order must mirror rule order, got %q, %q", req.Functions[0].Name, req.Functions[1].Name)
	}
	if req.Functions[2].Name != "no_rule_applies" || req.Functions[3].Name != "requires_more_info" {
		t.Errorf("Reserved functions missing: %q, %q", req.Functions[2].Name, req.Functions[3].Name)
	}
	if !strings.Contains(req.Functions[1].Description, "Receipts: handle Receipts emails") {
		t.Errorf("Rule description should carry name and instructions, got %q", req.Functions[1].Description)
	}
	if !strings.Contains(req.System, "I run a small shop.") {
		t.Error("Account about text should be in the system prompt")
	}
}

func TestChooseReservedFunctions(t *testing.T) {
	tests := []struct {
		name      string
		function  string
		needsInfo bool
	}{
		{"no rule applies", "no_rule_applies", false},
		{"requires more info", "requires_more_info", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockLLM{respond: func(_ llm.FunctionCallRequest) (llm.FunctionCallResponse, error) {
				args, _ := json.Marshal(map[string]string{"reason": "because"})
				return llm.FunctionCallResponse{Name: tt.function, Arguments: args}, nil
			}}
			chooser := NewChooser(client)

			choice, err := chooser.Choose(context.Background(), &model.Account{}, testMessage("m1"), aiRules("A"))
			if err != nil {
				t.Fatalf("Choose failed: %v", err)
			}
			if choice.Selected() {
				t.Errorf("Expected no rule selected, got %+v", choice)
			}
			if choice.NeedsInfo != tt.needsInfo {
				t.Errorf("NeedsInfo = %v, want %v", choice.NeedsInfo, tt.needsInfo)
			}
			if choice.Reason != "because" {
				t.Errorf("Expected reason %q, got %q", "because", choice.Reason)
			}
		})
	}
}

func TestChooseInvalidFunctionIsNotAnError(t *testing.T) {
	tests := []struct {
		name     string
		function string
	}{
		{"hallucinated name", "delete_everything"},
		{"out of range index", "rule_7"},
		{"negative index", "rule_-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockLLM{respond: func(_ llm.FunctionCallRequest) (llm.FunctionCallResponse, error) {
				return llm.FunctionCallResponse{Name: tt.function, Arguments: json.RawMessage(`{}`)}, nil
			}}
			chooser := NewChooser(client)

			choice, err := chooser.Choose(context.Background(), &model.Account{}, testMessage("m1"), aiRules("A", "B"))
			if err != nil {
				t.Fatalf("An invalid selection must not be a pipeline error: %v", err)
			}
			if choice.Selected() {
				t.Errorf("Expected no rule selected, got %+v", choice)
			}
			if !strings.Contains(choice.Reason, tt.function) {
				t.Errorf("Reason should name the bogus function, got %q", choice.Reason)
			}
		})
	}
}

func TestChooseRefusal(t *testing.T) {
	client := &mockLLM{respond: func(_ llm.FunctionCallRequest) (llm.FunctionCallResponse, error) {
		return llm.FunctionCallResponse{Refusal: "I can't help with that."}, nil
	}}
	chooser := NewChooser(client)

	choice, err := chooser.Choose(context.Background(), &model.Account{}, testMessage("m1"), aiRules("A"))
	if err != nil {
		t.Fatalf("Choose failed: %v", err)
	}
	if choice.Selected() {
		t.Errorf("Expected no rule selected on refusal, got %+v", choice)
	}
	if choice.Reason != "I can't help with that." {
		t.Errorf("Expected refusal text as the reason, got %q", choice.Reason)
	}
}

func TestChooseMultiSelect(t *testing.T) {
	account := &model.Account{MultiRuleSelection: true}
	client := &mockLLM{respond: func(_ llm.FunctionCallRequest) (llm.FunctionCallResponse, error) {
		args, _ := json.Marshal(map[string]any{
			"ruleNumbers": []int{2, 0, 9},
			"reason":      "label it and archive",
		})
		return llm.FunctionCallResponse{Name: "select_rules", Arguments: args}, nil
	}}
	chooser := NewChooser(client)

	choice, err := chooser.Choose(context.Background(), account, testMessage("m1"), aiRules("A", "B", "C"))
	if err != nil {
		t.Fatalf("Choose failed: %v", err)
	}
	// Order is preserved and out-of-range numbers are dropped, not fatal.
	if len(choice.RuleIndexes) != 2 || choice.RuleIndexes[0] != 2 || choice.RuleIndexes[1] != 0 {
		t.Errorf("Expected indexes [2 0], got %v", choice.RuleIndexes)
	}

	req := client.requests[0]
	if len(req.Functions) != 1 || req.Functions[0].Name != "select_rules" {
		t.Fatalf("Multi-select mode exposes one function, got %+v", req.Functions)
	}
	if !strings.Contains(req.Functions[0].Description, "1: B: handle B emails") {
		t.Errorf("Rule catalog missing from description: %q", req.Functions[0].Description)
	}
}

func TestChooseMultiSelectEmptyListMeansNoRule(t *testing.T) {
	account := &model.Account{MultiRuleSelection: true}
	client := &mockLLM{respond: func(_ llm.FunctionCallRequest) (llm.FunctionCallResponse, error) {
		args, _ := json.Marshal(map[string]any{"ruleNumbers": []int{}, "reason": "none fit"})
		return llm.FunctionCallResponse{Name: "select_rules", Arguments: args}, nil
	}}
	chooser := NewChooser(client)

	choice, err := chooser.Choose(context.Background(), account, testMessage("m1"), aiRules("A"))
	if err != nil {
		t.Fatalf("Choose failed: %v", err)
	}
	if choice.Selected() {
		t.Errorf("Expected no rule selected, got %+v", choice)
	}
	if choice.Reason != "none fit" {
		t.Errorf("Expected reason %q, got %q", "none fit", choice.Reason)
	}
}
