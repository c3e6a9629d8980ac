package model

import "time"

// ProviderKind identifies which mail backend an account lives on.
type ProviderKind string

const (
	// ProviderGmail accounts talk to the Gmail API.
	ProviderGmail ProviderKind = "gmail"
	// ProviderIMAP accounts talk to a generic IMAP/SMTP backend.
	ProviderIMAP ProviderKind = "imap"
)

// Account is one connected email account and its engine-level settings.
type Account struct {
	CreatedAt time.Time
	ID        string
	Email     string
	Provider  ProviderKind
	// About is free-text user profile context included in chooser prompts.
	About         string
	WebhookURL    string
	WebhookSecret string
	// MultiRuleSelection lets the chooser return an ordered list of rules
	// instead of a single winner.
	MultiRuleSelection bool
}

// RateLimitState is the advisory per-account gate consulted before issuing
// provider calls. A brief overrun under race is acceptable; it exists to
// short-circuit calls that would certainly be rejected.
type RateLimitState struct {
	LimitedUntil time.Time
	AccountID    string
}

// Limited reports whether the account is currently rate-limited.
func (r *RateLimitState) Limited(now time.Time) bool {
	return r != nil && now.Before(r.LimitedUntil)
}
