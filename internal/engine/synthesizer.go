package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Veraticus/mailflow/internal/llm"
	"github.com/Veraticus/mailflow/internal/model"
)

// Synthesizer materializes templated action fields into concrete values via
// a single scoped model call per action. Literal fields are copied verbatim
// and never touch the model.
type Synthesizer struct {
	client llm.Client
}

// NewSynthesizer creates a synthesizer over the given model client.
func NewSynthesizer(client llm.Client) *Synthesizer {
	return &Synthesizer{client: client}
}

// Resolve turns an action into a ready-to-execute item. Actions with no
// templated fields resolve without a model call. A synthesis failure is
// returned as an error so the caller can fail this item in isolation.
func (s *Synthesizer) Resolve(ctx context.Context, account *model.Account, msg *model.Message, rule *model.Rule, action *model.Action) (model.ActionItem, error) {
	item := model.ActionItem{
		ID:             uuid.New().String(),
		Type:           action.Type,
		LabelID:        action.LabelID,
		URL:            action.URL.Value,
		Status:         model.ItemPending,
		DelayInMinutes: action.DelayInMinutes,
	}
	s.copyLiterals(&item, action)

	templated := action.TemplatedFields()
	if len(templated) == 0 {
		return item, nil
	}

	req := llm.FunctionCallRequest{
		System:    s.systemPrompt(account, rule),
		User:      msg.Summary(),
		Functions: []llm.FunctionDef{s.fillFunction(action, templated)},
	}

	resp, err := s.client.CallFunction(ctx, req)
	if err != nil {
		return item, fmt.Errorf("argument synthesis call failed: %w", err)
	}
	if resp.Refused() {
		return item, fmt.Errorf("model refused to synthesize arguments: %s", resp.Refusal)
	}

	values := map[string]string{}
	if err := json.Unmarshal(resp.Arguments, &values); err != nil {
		return item, fmt.Errorf("malformed synthesis arguments: %w", err)
	}

	for _, name := range templated {
		value := strings.TrimSpace(values[name])
		if value == "" {
			return item, fmt.Errorf("synthesis returned no value for field %q", name)
		}
		setItemField(&item, name, value)
	}
	return item, nil
}

func (s *Synthesizer) copyLiterals(item *model.ActionItem, action *model.Action) {
	for _, f := range []struct {
		field model.Field
		dst   *string
	}{
		{action.Label, &item.Label},
		{action.Subject, &item.Subject},
		{action.Content, &item.Content},
		{action.To, &item.To},
		{action.CC, &item.CC},
		{action.BCC, &item.BCC},
	} {
		if !f.field.IsTemplated() {
			*f.dst = f.field.Value
		}
	}
}

func (s *Synthesizer) systemPrompt(account *model.Account, rule *model.Rule) string {
	var b strings.Builder
	b.WriteString("You are an email assistant filling in the arguments for an email-handling action.\n")
	b.WriteString("The rule that selected this action is:\n")
	b.WriteString(ruleDescription(rule))
	b.WriteString("\nProvide values for every requested field based on the email below. Write in the user's voice where content is requested.\n")
	if account.About != "" {
		b.WriteString("\nAbout the user:\n")
		b.WriteString(account.About)
	}
	return b.String()
}

// fillFunction builds the single function whose parameters exactly mirror
// the action's templated fields. The model can only fill values, never
// change the action shape.
func (s *Synthesizer) fillFunction(action *model.Action, templated []string) llm.FunctionDef {
	properties := make(map[string]any, len(templated))
	for _, name := range templated {
		properties[name] = map[string]any{
			"type":        "string",
			"description": fieldGuidance(action, name),
		}
	}
	return llm.FunctionDef{
		Name:        "provide_" + strings.ToLower(string(action.Type)) + "_arguments",
		Description: fmt.Sprintf("Provide the missing arguments for a %s action.", action.Type),
		Parameters: map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   templated,
		},
	}
}

// fieldGuidance returns the per-field prompt: the user's template text if
// present, otherwise a generic description of the field.
func fieldGuidance(action *model.Action, name string) string {
	var field model.Field
	var fallback string
	switch name {
	case "label":
		field, fallback = action.Label, "The label to apply to this email."
	case "subject":
		field, fallback = action.Subject, "The subject line for the outgoing email."
	case "content":
		field, fallback = action.Content, "The body of the outgoing email."
	case "to":
		field, fallback = action.To, "The recipient email address."
	case "cc":
		field, fallback = action.CC, "The CC email addresses, comma separated."
	case "bcc":
		field, fallback = action.BCC, "The BCC email addresses, comma separated."
	}
	if field.Value != "" {
		return field.Value
	}
	return fallback
}

func setItemField(item *model.ActionItem, name, value string) {
	switch name {
	case "label":
		item.Label = value
	case "subject":
		item.Subject = value
	case "content":
		item.Content = value
	case "to":
		item.To = value
	case "cc":
		item.CC = value
	case "bcc":
		item.BCC = value
	}
}
