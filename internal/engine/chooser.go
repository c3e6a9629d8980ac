package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Veraticus/mailflow/internal/llm"
	"github.com/Veraticus/mailflow/internal/model"
)

// Reserved function names the model may call instead of a rule.
const (
	fnNoRuleApplies    = "no_rule_applies"
	fnRequiresMoreInfo = "requires_more_info"
	fnSelectRules      = "select_rules"
	rulePrefix         = "rule_"
)

// Choice is the normalized chooser outcome. RuleIndexes is empty when no
// rule was selected; in single-rule mode it holds at most one index.
type Choice struct {
	Reason      string
	RuleIndexes []int
	NeedsInfo   bool
}

// Selected reports whether at least one rule was chosen.
func (c Choice) Selected() bool { return len(c.RuleIndexes) > 0 }

// Chooser asks the language model to pick among AI-eligible rules via a
// single function-calling round-trip.
type Chooser struct {
	client llm.Client
}

// NewChooser creates a chooser over the given model client.
func NewChooser(client llm.Client) *Chooser {
	return &Chooser{client: client}
}

// Choose selects zero or more rules for the message. Rules are presented in
// the given order and the model's choice is authoritative. A response naming
// an unknown function or an invalid index is treated as "no rule selected",
// never as a pipeline error.
func (c *Chooser) Choose(ctx context.Context, account *model.Account, msg *model.Message, rules []model.Rule) (Choice, error) {
	if len(rules) == 0 {
		return Choice{Reason: "No rules"}, nil
	}

	req := llm.FunctionCallRequest{
		System: c.systemPrompt(account, len(rules)),
		User:   msg.Summary(),
	}
	if account.MultiRuleSelection {
		req.Functions = c.multiSelectFunctions(rules)
	} else {
		req.Functions = c.singleSelectFunctions(rules)
	}

	resp, err := c.client.CallFunction(ctx, req)
	if err != nil {
		return Choice{}, fmt.Errorf("rule selection call failed: %w", err)
	}

	if resp.Refused() {
		reason := resp.Refusal
		if reason == "" {
			reason = "model declined to select a rule"
		}
		return Choice{Reason: reason}, nil
	}

	if account.MultiRuleSelection {
		return c.parseMultiSelect(resp, len(rules)), nil
	}
	return c.parseSingleSelect(resp, len(rules)), nil
}

func (c *Chooser) systemPrompt(account *model.Account, ruleCount int) string {
	var b strings.Builder
	b.WriteString("You are an email assistant deciding which handling rule, if any, applies to an incoming email.\n")
	fmt.Fprintf(&b, "There are %d rules, each exposed as a function. Call the function for the single best-matching rule.\n", ruleCount)
	b.WriteString("If no rule fits, call no_rule_applies. If you cannot decide from the email alone, call requires_more_info.\n")
	if account.About != "" {
		b.WriteString("\nAbout the user:\n")
		b.WriteString(account.About)
	}
	return b.String()
}

// singleSelectFunctions exposes one function per rule plus the reserved
// escape hatches. Function order mirrors rule order.
func (c *Chooser) singleSelectFunctions(rules []model.Rule) []llm.FunctionDef {
	reasonSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Short explanation of this decision.",
			},
		},
		"required": []string{"reason"},
	}

	functions := make([]llm.FunctionDef, 0, len(rules)+2)
	for i, rule := range rules {
		functions = append(functions, llm.FunctionDef{
			Name:        rulePrefix + strconv.Itoa(i),
			Description: ruleDescription(&rule),
			Parameters:  reasonSchema,
		})
	}
	functions = append(functions,
		llm.FunctionDef{
			Name:        fnNoRuleApplies,
			Description: "No rule applies to this email.",
			Parameters:  reasonSchema,
		},
		llm.FunctionDef{
			Name:        fnRequiresMoreInfo,
			Description: "The email alone is not enough to decide.",
			Parameters:  reasonSchema,
		},
	)
	return functions
}

// multiSelectFunctions exposes a single function taking an ordered list of
// rule numbers. An empty list means no rule applies.
func (c *Chooser) multiSelectFunctions(rules []model.Rule) []llm.FunctionDef {
	var catalog strings.Builder
	for i, rule := range rules {
		fmt.Fprintf(&catalog, "%d: %s\n", i, ruleDescription(&rule))
	}

	return []llm.FunctionDef{{
		Name:        fnSelectRules,
		Description: "Select the rules that apply, in execution order. Rules:\n" + catalog.String(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ruleNumbers": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "integer"},
					"description": "Rule numbers to apply, in order. Empty if none apply.",
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "Short explanation of this decision.",
				},
			},
			"required": []string{"ruleNumbers", "reason"},
		},
	}}
}

func (c *Chooser) parseSingleSelect(resp llm.FunctionCallResponse, ruleCount int) Choice {
	reason := parseReason(resp.Arguments)

	switch resp.Name {
	case fnNoRuleApplies:
		return Choice{Reason: reason}
	case fnRequiresMoreInfo:
		return Choice{Reason: reason, NeedsInfo: true}
	}

	index, ok := parseRuleIndex(resp.Name)
	if !ok || index >= ruleCount {
		slog.Warn("Chooser returned invalid function, treating as no rule",
			"function", resp.Name,
			"rule_count", ruleCount)
		return Choice{Reason: fmt.Sprintf("model selected unknown function %q", resp.Name)}
	}
	return Choice{RuleIndexes: []int{index}, Reason: reason}
}

func (c *Chooser) parseMultiSelect(resp llm.FunctionCallResponse, ruleCount int) Choice {
	if resp.Name != fnSelectRules {
		slog.Warn("Chooser returned invalid function, treating as no rule",
			"function", resp.Name)
		return Choice{Reason: fmt.Sprintf("model selected unknown function %q", resp.Name)}
	}

	var args struct {
		Reason      string `json:"reason"`
		RuleNumbers []int  `json:"ruleNumbers"`
	}
	if err := json.Unmarshal(resp.Arguments, &args); err != nil {
		slog.Warn("Chooser arguments unparseable, treating as no rule", "error", err)
		return Choice{Reason: "model returned malformed rule selection"}
	}

	indexes := make([]int, 0, len(args.RuleNumbers))
	for _, n := range args.RuleNumbers {
		if n < 0 || n >= ruleCount {
			slog.Warn("Chooser returned out-of-range rule number, dropping it",
				"rule_number", n,
				"rule_count", ruleCount)
			continue
		}
		indexes = append(indexes, n)
	}
	return Choice{RuleIndexes: indexes, Reason: args.Reason}
}

// ruleDescription renders the rule as the function description the model
// chooses by.
func ruleDescription(rule *model.Rule) string {
	if rule.Instructions == "" {
		return rule.Name
	}
	if rule.Name == "" {
		return rule.Instructions
	}
	return rule.Name + ": " + rule.Instructions
}

func parseRuleIndex(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, rulePrefix)
	if !ok {
		return 0, false
	}
	index, err := strconv.Atoi(rest)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}

func parseReason(raw json.RawMessage) string {
	var args struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return ""
	}
	return args.Reason
}
