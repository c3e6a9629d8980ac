// Package gmail implements the provider capability set on the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Veraticus/mailflow/internal/model"
	"github.com/Veraticus/mailflow/internal/providers"
)

// Config holds OAuth credentials for a Gmail account.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Validate checks that all required credentials are present.
func (c *Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" || c.RefreshToken == "" {
		return errors.New("gmail requires client_id, client_secret and refresh_token")
	}
	return nil
}

// Client implements providers.Provider on google.golang.org/api/gmail/v1.
type Client struct {
	svc *gmail.Service
}

// NewClient builds a Gmail client authenticated via an OAuth refresh token.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{gmail.GmailModifyScope, gmail.GmailComposeScope},
	}
	tokenSource := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	svc, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// NewClientFromService wraps an existing gmail service; used in tests.
func NewClientFromService(svc *gmail.Service) *Client {
	return &Client{svc: svc}
}

// ListMessages returns message references matching a Gmail search query.
func (c *Client) ListMessages(ctx context.Context, query string, maxResults int64) ([]model.MessageRef, error) {
	if maxResults <= 0 {
		maxResults = 50
	}
	res, err := c.svc.Users.Messages.List("me").Q(query).MaxResults(maxResults).Context(ctx).Do()
	if err != nil {
		return nil, classify("gmail.list", err)
	}

	refs := make([]model.MessageRef, 0, len(res.Messages))
	for _, m := range res.Messages {
		refs = append(refs, model.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return refs, nil
}

// GetMessage fetches a full message and normalizes it.
func (c *Client) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	msg, err := c.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify("gmail.get", err)
	}
	return normalizeMessage(msg), nil
}

// GetThread fetches a conversation with full messages.
func (c *Client) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	th, err := c.svc.Users.Threads.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify("gmail.thread", err)
	}

	thread := &model.Thread{ID: th.Id}
	for _, m := range th.Messages {
		thread.Messages = append(thread.Messages, *normalizeMessage(m))
	}
	return thread, nil
}

// LabelMessage applies a label to a message. When the stored label ID is
// stale (deleted and recreated under a new ID) the modify call 404s; we
// fall back to resolving the label by name, creating it when missing, and
// report the fallback so callers can heal stored references.
func (c *Client) LabelMessage(ctx context.Context, messageID, labelID, labelName string) (providers.LabelResult, error) {
	usedFallback := false

	if labelID == "" {
		resolved, err := c.ensureLabel(ctx, labelName)
		if err != nil {
			return providers.LabelResult{}, err
		}
		labelID = resolved
		usedFallback = true
	}

	err := c.modifyMessage(ctx, messageID, []string{labelID}, nil)
	if err != nil && providers.IsNotFound(err) && labelName != "" {
		// Stale label reference: the message exists but the label is gone.
		resolved, ensureErr := c.ensureLabel(ctx, labelName)
		if ensureErr != nil {
			return providers.LabelResult{}, ensureErr
		}
		if resolved != labelID {
			labelID = resolved
			usedFallback = true
			err = c.modifyMessage(ctx, messageID, []string{labelID}, nil)
		}
	}
	if err != nil {
		return providers.LabelResult{}, err
	}
	return providers.LabelResult{LabelID: labelID, UsedFallback: usedFallback}, nil
}

// ArchiveThread removes a thread from the inbox.
func (c *Client) ArchiveThread(ctx context.Context, threadID string) error {
	req := &gmail.ModifyThreadRequest{RemoveLabelIds: []string{"INBOX"}}
	_, err := c.svc.Users.Threads.Modify("me", threadID, req).Context(ctx).Do()
	if err != nil {
		return classify("gmail.archive", err)
	}
	return nil
}

// SendMessage sends an envelope and returns the Gmail message ID.
func (c *Client) SendMessage(ctx context.Context, env model.Envelope) (string, error) {
	raw := base64.URLEncoding.EncodeToString(buildRFC822(env))
	msg := &gmail.Message{Raw: raw, ThreadId: env.ThreadID}

	sent, err := c.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return "", classify("gmail.send", err)
	}
	return sent.Id, nil
}

// CreateDraft stores a draft, threaded onto inReplyTo when given.
func (c *Client) CreateDraft(ctx context.Context, env model.Envelope, inReplyTo string) (string, error) {
	if inReplyTo != "" && env.InReplyTo == "" {
		env.InReplyTo = inReplyTo
	}
	raw := base64.URLEncoding.EncodeToString(buildRFC822(env))
	draft := &gmail.Draft{Message: &gmail.Message{Raw: raw, ThreadId: env.ThreadID}}

	created, err := c.svc.Users.Drafts.Create("me", draft).Context(ctx).Do()
	if err != nil {
		return "", classify("gmail.draft", err)
	}
	return created.Id, nil
}

// MarkSpam moves a message into the spam folder.
func (c *Client) MarkSpam(ctx context.Context, messageID string) error {
	return c.modifyMessage(ctx, messageID, []string{"SPAM"}, []string{"INBOX"})
}

func (c *Client) modifyMessage(ctx context.Context, messageID string, add, remove []string) error {
	req := &gmail.ModifyMessageRequest{AddLabelIds: add, RemoveLabelIds: remove}
	_, err := c.svc.Users.Messages.Modify("me", messageID, req).Context(ctx).Do()
	if err != nil {
		return classify("gmail.modify", err)
	}
	return nil
}

// ensureLabel resolves a label name to its current ID, creating the label
// when it doesn't exist.
func (c *Client) ensureLabel(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", providers.NewError(providers.KindPermanent, "gmail.label", errors.New("label name is empty"))
	}

	list, err := c.svc.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return "", classify("gmail.labels", err)
	}
	for _, l := range list.Labels {
		if l.Name == name {
			return l.Id, nil
		}
	}

	created, err := c.svc.Users.Labels.Create("me", &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", classify("gmail.labels", err)
	}
	return created.Id, nil
}

// classify maps googleapi errors into the provider taxonomy.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// Network failures and timeouts have no status code.
		return providers.NewError(providers.KindTransient, op, err)
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return providers.RateLimited(op, retryAfter(apiErr), err)
	case apiErr.Code == http.StatusForbidden && isRateLimitReason(apiErr):
		return providers.RateLimited(op, retryAfter(apiErr), err)
	case apiErr.Code == http.StatusForbidden, apiErr.Code == http.StatusUnauthorized:
		return providers.NewError(providers.KindPermissionDenied, op, err)
	case apiErr.Code == http.StatusNotFound:
		return providers.NewError(providers.KindNotFound, op, err)
	case apiErr.Code >= 500:
		return providers.NewError(providers.KindTransient, op, err)
	default:
		return providers.NewError(providers.KindPermanent, op, err)
	}
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, e := range apiErr.Errors {
		if e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

func retryAfter(apiErr *googleapi.Error) time.Duration {
	if v := apiErr.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Minute
}
