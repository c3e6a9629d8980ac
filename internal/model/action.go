package model

import "errors"

// ActionType enumerates the concrete operations a rule can perform.
type ActionType string

// Action type constants.
const (
	ActionArchive     ActionType = "ARCHIVE"
	ActionLabel       ActionType = "LABEL"
	ActionDraftEmail  ActionType = "DRAFT_EMAIL"
	ActionForward     ActionType = "FORWARD"
	ActionReply       ActionType = "REPLY"
	ActionSendEmail   ActionType = "SEND_EMAIL"
	ActionMarkSpam    ActionType = "MARK_SPAM"
	ActionCallWebhook ActionType = "CALL_WEBHOOK"
)

// Rule and action validation errors, rejected at save time.
var (
	ErrRuleUnknownType         = errors.New("unknown rule type")
	ErrRuleMissingInstructions = errors.New("AI rule requires instructions")
	ErrRuleMissingConditions   = errors.New("static rule requires at least one condition")
	ErrRuleMissingGroup        = errors.New("group rule requires a group")
	ErrRuleMissingActions      = errors.New("rule requires at least one action")
	ErrActionUnknownType       = errors.New("unknown action type")
	ErrActionNegativeDelay     = errors.New("action delay cannot be negative")
	ErrActionMissingRecipient  = errors.New("action requires a recipient")
	ErrActionMissingURL        = errors.New("webhook action requires a url")
)

// FieldKind distinguishes literal action fields from AI-templated ones.
type FieldKind int

const (
	// FieldLiteral values are copied verbatim into action items.
	FieldLiteral FieldKind = iota
	// FieldTemplated values are materialized by the argument synthesizer
	// at execution time, never before.
	FieldTemplated
)

// Field is a tagged union over an action field value: either a literal
// string or a template the synthesizer fills in.
type Field struct {
	Value string
	Kind  FieldKind
}

// Literal returns a field holding a verbatim value.
func Literal(v string) Field { return Field{Value: v, Kind: FieldLiteral} }

// Templated returns a field whose value is an AI placeholder or prompt.
func Templated(p string) Field { return Field{Value: p, Kind: FieldTemplated} }

// IsTemplated reports whether the field needs synthesis before execution.
func (f Field) IsTemplated() bool { return f.Kind == FieldTemplated }

// IsSet reports whether the field carries any value at all.
func (f Field) IsSet() bool { return f.Value != "" || f.Kind == FieldTemplated }

// Action is one operation belonging to a rule. Each addressable field may be
// literal, empty, or templated.
type Action struct {
	Label   Field
	Subject Field
	Content Field
	To      Field
	CC      Field
	BCC     Field
	URL     Field
	Type    ActionType
	// LabelID caches the provider's ID for the label named by Label. It can
	// go stale when the label is deleted and recreated; the executor heals
	// it via lookup-by-name.
	LabelID        string
	ID             int64
	RuleID         int64
	DelayInMinutes int
}

// Validate checks action configuration at save time.
func (a *Action) Validate() error {
	if a.DelayInMinutes < 0 {
		return ErrActionNegativeDelay
	}
	switch a.Type {
	case ActionArchive, ActionLabel, ActionDraftEmail, ActionReply, ActionMarkSpam:
		return nil
	case ActionForward, ActionSendEmail:
		if !a.To.IsSet() {
			return ErrActionMissingRecipient
		}
		return nil
	case ActionCallWebhook:
		if a.URL.Value == "" {
			return ErrActionMissingURL
		}
		return nil
	default:
		return ErrActionUnknownType
	}
}

// TemplatedFields returns the names of fields that require synthesis,
// in a stable order.
func (a *Action) TemplatedFields() []string {
	var names []string
	for _, f := range []struct {
		field Field
		name  string
	}{
		{a.Label, "label"},
		{a.Subject, "subject"},
		{a.Content, "content"},
		{a.To, "to"},
		{a.CC, "cc"},
		{a.BCC, "bcc"},
	} {
		if f.field.IsTemplated() {
			names = append(names, f.name)
		}
	}
	return names
}
