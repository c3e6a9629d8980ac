package model

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestResolveStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []ActionItemStatus
		want     ExecutedRuleStatus
	}{
		{"no items", nil, ExecutedSkipped},
		{"all applied", []ActionItemStatus{ItemApplied, ItemApplied}, ExecutedApplied},
		{"any failed wins", []ActionItemStatus{ItemApplied, ItemFailed, ItemPending}, ExecutedFailed},
		{"pending while deferred", []ActionItemStatus{ItemApplied, ItemPending}, ExecutedPending},
		{"skipped items do not block", []ActionItemStatus{ItemApplied, ItemSkipped}, ExecutedApplied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := ExecutedRule{}
			for _, s := range tt.statuses {
				record.ActionItems = append(record.ActionItems, ActionItem{Status: s})
			}
			if got := record.ResolveStatus(); got != tt.want {
				t.Errorf("ResolveStatus = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestScheduledStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to ScheduledActionStatus
	}{
		{ScheduledPending, ScheduledProcessing},
		{ScheduledPending, ScheduledCancelled},
		{ScheduledProcessing, ScheduledCompleted},
		{ScheduledProcessing, ScheduledFailed},
		{ScheduledFailed, ScheduledPending},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransitionTo(tr.to) {
			t.Errorf("Expected %s -> %s to be allowed", tr.from, tr.to)
		}
	}

	forbidden := []struct {
		from, to ScheduledActionStatus
	}{
		{ScheduledPending, ScheduledCompleted},
		{ScheduledProcessing, ScheduledCancelled},
		{ScheduledCompleted, ScheduledPending},
		{ScheduledCancelled, ScheduledProcessing},
		{ScheduledFailed, ScheduledCompleted},
	}
	for _, tr := range forbidden {
		if tr.from.CanTransitionTo(tr.to) {
			t.Errorf("Expected %s -> %s to be forbidden", tr.from, tr.to)
		}
	}

	if !ScheduledCompleted.Terminal() || !ScheduledCancelled.Terminal() {
		t.Error("COMPLETED and CANCELLED must be terminal")
	}
	if ScheduledFailed.Terminal() {
		t.Error("FAILED is retryable, not terminal")
	}
}

func TestRuleValidate(t *testing.T) {
	archive := []Action{{Type: ActionArchive}}

	tests := []struct {
		name    string
		rule    Rule
		wantErr error
	}{
		{"ai without instructions", Rule{Type: RuleTypeAI, Actions: archive}, ErrRuleMissingInstructions},
		{"static without conditions", Rule{Type: RuleTypeStatic, Actions: archive}, ErrRuleMissingConditions},
		{"group without group", Rule{Type: RuleTypeGroup, Actions: archive}, ErrRuleMissingGroup},
		{"no actions", Rule{Type: RuleTypeAI, Instructions: "x"}, ErrRuleMissingActions},
		{"forward without recipient", Rule{
			Type: RuleTypeAI, Instructions: "x",
			Actions: []Action{{Type: ActionForward}},
		}, ErrActionMissingRecipient},
		{"negative delay", Rule{
			Type: RuleTypeAI, Instructions: "x",
			Actions: []Action{{Type: ActionArchive, DelayInMinutes: -1}},
		}, ErrActionNegativeDelay},
		{"valid ai rule", Rule{Type: RuleTypeAI, Instructions: "x", Actions: archive}, nil},
		{"templated recipient satisfies forward", Rule{
			Type: RuleTypeAI, Instructions: "x",
			Actions: []Action{{Type: ActionForward, To: Templated("pick the right person")}},
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Expected valid rule, got %v", err)
				}
				return
			}
			if err != tt.wantErr {
				t.Errorf("Validate = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTemplatedFields(t *testing.T) {
	action := Action{
		Type:    ActionReply,
		To:      Literal("jane@example.com"),
		Subject: Templated(""),
		Content: Templated("be brief"),
	}
	got := action.TemplatedFields()
	if len(got) != 2 || got[0] != "subject" || got[1] != "content" {
		t.Errorf("TemplatedFields = %v, want [subject content]", got)
	}

	if fields := (&Action{Type: ActionArchive}).TemplatedFields(); len(fields) != 0 {
		t.Errorf("Expected no templated fields, got %v", fields)
	}
}

func TestSenderAddress(t *testing.T) {
	tests := []struct {
		from string
		want string
	}{
		{`"Jane Doe" <jane@example.com>`, "jane@example.com"},
		{"Jane Doe <Jane@Example.COM>", "jane@example.com"},
		{"jane@example.com", "jane@example.com"},
		{"  JANE@EXAMPLE.COM  ", "jane@example.com"},
	}
	for _, tt := range tests {
		msg := Message{From: tt.from}
		if got := msg.SenderAddress(); got != tt.want {
			t.Errorf("SenderAddress(%q) = %q, want %q", tt.from, got, tt.want)
		}
	}
}

func TestSummaryTruncatesLongBodies(t *testing.T) {
	msg := Message{
		From:     "jane@example.com",
		Subject:  "Hello",
		TextBody: strings.Repeat("a", maxBodyChars+100),
	}
	summary := msg.Summary()
	if !strings.Contains(summary, "From: jane@example.com") || !strings.Contains(summary, "Subject: Hello") {
		t.Errorf("Summary missing headers: %q", summary[:80])
	}
	if !strings.HasSuffix(summary, "...") {
		t.Error("Long bodies should be truncated with an ellipsis")
	}
	if len(summary) > maxBodyChars+200 {
		t.Errorf("Summary too long: %d chars", len(summary))
	}

	snippetOnly := Message{From: "a@b.c", Subject: "s", Snippet: "the snippet"}
	if !strings.Contains(snippetOnly.Summary(), "the snippet") {
		t.Error("Snippet should stand in for an empty body")
	}
}

func TestSummaryTruncatesOnRuneBoundary(t *testing.T) {
	// Three-byte runes guarantee the byte limit lands mid-rune.
	msg := Message{
		From:     "a@b.c",
		Subject:  "s",
		TextBody: strings.Repeat("世", maxBodyChars),
	}
	summary := msg.Summary()
	if !utf8.ValidString(summary) {
		t.Error("Truncation must not split a multi-byte rune")
	}
	if !strings.HasSuffix(summary, "世...") {
		t.Errorf("Expected a whole trailing rune before the ellipsis, got %q", summary[len(summary)-12:])
	}
}
