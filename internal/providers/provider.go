// Package providers defines the uniform capability interface over
// heterogeneous mail backends and the normalized error taxonomy every
// implementation maps its native failures into.
package providers

import (
	"context"

	"github.com/Veraticus/mailflow/internal/model"
)

// LabelResult reports how a label application resolved. UsedFallback is set
// when the stored label ID was stale and the label had to be looked up (or
// recreated) by name; callers should then update stored references to
// LabelID.
type LabelResult struct {
	LabelID      string
	UsedFallback bool
}

// Provider is the capability set the engine needs from a mail backend.
// Every mutating call is safely retryable: idempotency is the caller's
// responsibility via the execution audit trail, not provider-side dedup.
type Provider interface {
	// ListMessages returns message references matching a provider-native
	// query, newest first.
	ListMessages(ctx context.Context, query string, maxResults int64) ([]model.MessageRef, error)

	// GetMessage fetches and normalizes a full message.
	GetMessage(ctx context.Context, id string) (*model.Message, error)

	// GetThread fetches a conversation.
	GetThread(ctx context.Context, id string) (*model.Thread, error)

	// LabelMessage applies a label. If labelID is stale or empty the
	// provider falls back to lookup-by-name, creating the label when
	// needed, and signals the fallback in the result.
	LabelMessage(ctx context.Context, messageID, labelID, labelName string) (LabelResult, error)

	// ArchiveThread removes the thread from the inbox.
	ArchiveThread(ctx context.Context, threadID string) error

	// SendMessage sends an envelope and returns the provider message ID.
	SendMessage(ctx context.Context, env model.Envelope) (string, error)

	// CreateDraft stores a draft, optionally threaded onto an existing
	// message, and returns the draft ID.
	CreateDraft(ctx context.Context, env model.Envelope, inReplyTo string) (string, error)

	// MarkSpam moves a message to the spam folder.
	MarkSpam(ctx context.Context, messageID string) error
}

// Factory builds a provider client for an account.
type Factory func(ctx context.Context, account *model.Account) (Provider, error)
