package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Veraticus/mailflow/internal/model"
)

// webhookTimeout bounds every outbound webhook call. A slow or dead
// endpoint must never stall message processing.
const webhookTimeout = time.Second

// WebhookNotifier delivers execution outcomes to user-configured endpoints.
// Delivery is best effort: failures are logged, never propagated.
type WebhookNotifier struct {
	client *http.Client
}

// NewWebhookNotifier creates a notifier with the standard timeout.
func NewWebhookNotifier() *WebhookNotifier {
	return &WebhookNotifier{
		client: &http.Client{Timeout: webhookTimeout},
	}
}

// executionPayload is the wire format posted to the account webhook.
type executionPayload struct {
	Email        emailPayload        `json:"email"`
	ExecutedRule executedRulePayload `json:"executedRule"`
}

type emailPayload struct {
	ThreadID        string `json:"threadId"`
	MessageID       string `json:"messageId"`
	Subject         string `json:"subject"`
	From            string `json:"from"`
	CC              string `json:"cc"`
	BCC             string `json:"bcc"`
	HeaderMessageID string `json:"headerMessageId"`
}

type executedRulePayload struct {
	ID        string    `json:"id"`
	RuleID    int64     `json:"ruleId"`
	Reason    string    `json:"reason"`
	Automated bool      `json:"automated"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotifyExecution posts the outcome to the account's webhook, if one is
// configured. Errors are logged and swallowed.
func (n *WebhookNotifier) NotifyExecution(ctx context.Context, account *model.Account, msg *model.Message, executed *model.ExecutedRule) {
	if account.WebhookURL == "" {
		return
	}

	payload := executionPayload{
		Email: emailPayload{
			ThreadID:        msg.ThreadID,
			MessageID:       msg.ID,
			Subject:         msg.Subject,
			From:            msg.From,
			CC:              msg.CC,
			BCC:             msg.BCC,
			HeaderMessageID: msg.HeaderMessageID,
		},
		ExecutedRule: executedRulePayload{
			ID:        executed.ID,
			RuleID:    executed.RuleID,
			Reason:    executed.Reason,
			Automated: executed.Automated,
			CreatedAt: executed.CreatedAt,
		},
	}

	if err := n.post(ctx, account.WebhookURL, account.WebhookSecret, payload); err != nil {
		slog.Warn("Webhook notification failed",
			"account", account.ID,
			"executed_rule", executed.ID,
			"error", err)
		return
	}
	slog.Debug("Webhook notification delivered",
		"account", account.ID,
		"executed_rule", executed.ID)
}

// Call posts a message payload to an arbitrary URL for CALL_WEBHOOK actions.
// Unlike NotifyExecution, failures are returned so the action item records
// them.
func (n *WebhookNotifier) Call(ctx context.Context, url, secret string, msg *model.Message) error {
	payload := map[string]any{
		"email": emailPayload{
			ThreadID:        msg.ThreadID,
			MessageID:       msg.ID,
			Subject:         msg.Subject,
			From:            msg.From,
			CC:              msg.CC,
			BCC:             msg.BCC,
			HeaderMessageID: msg.HeaderMessageID,
		},
	}
	return n.post(ctx, url, secret, payload)
}

func (n *WebhookNotifier) post(ctx context.Context, url, secret string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
