package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/mailflow/internal/common"
	"github.com/Veraticus/mailflow/internal/metrics"
	"github.com/Veraticus/mailflow/internal/model"
	"github.com/Veraticus/mailflow/internal/providers"
	"github.com/Veraticus/mailflow/internal/service"
)

// defaultRateLimitWindow is used when a rate-limited provider gives no
// retry-after hint.
const defaultRateLimitWindow = time.Minute

// Executor applies resolved action items against mail providers and keeps
// the audit trail current. Idempotency comes from the execution record: the
// same (message, rule) pair is never executed twice.
type Executor struct {
	storage  service.Storage
	notifier *WebhookNotifier
	retry    service.RetryOptions
}

// NewExecutor creates an executor with bounded retry for transient
// provider failures.
func NewExecutor(storage service.Storage, notifier *WebhookNotifier) *Executor {
	return &Executor{
		storage:  storage,
		notifier: notifier,
		retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Execute records the decision and applies its action items. Re-executing
// an already-recorded (message, rule) pair is a silent no-op. Items with a
// delay are handed to the scheduler instead of the provider. A failing item
// never aborts its siblings.
func (x *Executor) Execute(ctx context.Context, provider providers.Provider, account *model.Account, msg *model.Message, executed *model.ExecutedRule) error {
	inserted, err := x.storage.RecordExecution(ctx, executed)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	if !inserted {
		slog.Info("Execution already recorded, skipping",
			"message", msg.ID,
			"rule", executed.RuleID)
		return nil
	}

	if !executed.HasRule() {
		x.notifier.NotifyExecution(ctx, account, msg, executed)
		return nil
	}

	// Non-automated rules record their decision but wait for confirmation;
	// the webhook carries the pending record to whoever confirms.
	if !executed.Automated {
		slog.Info("Rule requires confirmation, leaving execution pending",
			"message", msg.ID,
			"rule", executed.RuleID)
		x.notifier.NotifyExecution(ctx, account, msg, executed)
		return nil
	}

	runOnThreads := false
	if rule, ruleErr := x.storage.GetRule(ctx, executed.RuleID); ruleErr != nil {
		slog.Warn("Failed to load rule for execution, treating as single-message",
			"rule", executed.RuleID,
			"error", ruleErr)
	} else {
		runOnThreads = rule.RunOnThreads
	}

	now := time.Now()
	for i := range executed.ActionItems {
		item := &executed.ActionItems[i]
		if item.Status != model.ItemPending {
			continue
		}

		if item.DelayInMinutes > 0 {
			if schedErr := x.schedule(ctx, account, msg, executed, item, now); schedErr != nil {
				x.failItem(ctx, item, schedErr)
			}
			continue
		}

		if runErr := x.runItem(ctx, provider, account, msg, item, runOnThreads); runErr != nil {
			x.failItem(ctx, item, runErr)
			continue
		}
		x.applyItem(ctx, item)
	}

	executed.Status = executed.ResolveStatus()
	if err := x.storage.FinalizeExecution(ctx, executed.ID, executed.Status); err != nil {
		return fmt.Errorf("failed to finalize execution: %w", err)
	}

	x.notifier.NotifyExecution(ctx, account, msg, executed)
	return nil
}

// ExecuteItem applies a single already-resolved item immediately. The
// scheduler uses this path for due delayed actions; runOnThreads carries
// the owning rule's thread-wide flag so a deferred action covers the same
// messages an immediate one would.
func (x *Executor) ExecuteItem(ctx context.Context, provider providers.Provider, account *model.Account, msg *model.Message, item *model.ActionItem, runOnThreads bool) error {
	return x.runItem(ctx, provider, account, msg, item, runOnThreads)
}

// schedule defers an item by creating a pending scheduled action carrying
// the fully resolved payload.
func (x *Executor) schedule(ctx context.Context, account *model.Account, msg *model.Message, executed *model.ExecutedRule, item *model.ActionItem, now time.Time) error {
	scheduled := &model.ScheduledAction{
		ID:             uuid.New().String(),
		AccountID:      account.ID,
		ExecutedRuleID: executed.ID,
		ActionItemID:   item.ID,
		MessageID:      msg.ID,
		ThreadID:       msg.ThreadID,
		Status:         model.ScheduledPending,
		ExecuteAt:      now.Add(time.Duration(item.DelayInMinutes) * time.Minute),
		Item:           *item,
	}
	if err := x.storage.CreateScheduledAction(ctx, scheduled); err != nil {
		return fmt.Errorf("failed to schedule action: %w", err)
	}
	slog.Info("Action scheduled",
		"scheduled_action", scheduled.ID,
		"type", item.Type,
		"execute_at", scheduled.ExecuteAt)
	return nil
}

// runItem wraps one provider call in the rate-limit gate and bounded retry.
func (x *Executor) runItem(ctx context.Context, provider providers.Provider, account *model.Account, msg *model.Message, item *model.ActionItem, runOnThreads bool) error {
	operation := func() error {
		rl, rlErr := x.storage.GetRateLimit(ctx, account.ID)
		if rlErr != nil {
			slog.Warn("Failed to read rate limit state", "account", account.ID, "error", rlErr)
		}
		if rl.Limited(time.Now()) {
			return fmt.Errorf("account %s limited until %s: %w",
				account.ID, rl.LimitedUntil.Format(time.RFC3339), common.ErrRateLimit)
		}

		err := x.dispatch(ctx, provider, account, msg, item, runOnThreads)
		if err == nil {
			return nil
		}
		metrics.ProviderErrors.WithLabelValues(providers.KindOf(err).String()).Inc()

		if providers.KindOf(err) == providers.KindRateLimited {
			window := providers.RetryAfterHint(err)
			if window <= 0 {
				window = defaultRateLimitWindow
			}
			until := time.Now().Add(window)
			if setErr := x.storage.SetRateLimit(ctx, account.ID, until); setErr != nil {
				slog.Warn("Failed to persist rate limit state", "account", account.ID, "error", setErr)
			}
			return &common.RetryableError{Err: err, Retryable: true}
		}

		return &common.RetryableError{Err: err, Retryable: providers.IsTransient(err)}
	}
	return common.WithRetry(ctx, operation, x.retry)
}

// dispatch routes one item to the provider operation for its type.
func (x *Executor) dispatch(ctx context.Context, provider providers.Provider, account *model.Account, msg *model.Message, item *model.ActionItem, runOnThreads bool) error {
	switch item.Type {
	case model.ActionArchive:
		return provider.ArchiveThread(ctx, msg.ThreadID)

	case model.ActionLabel:
		return x.applyLabel(ctx, provider, account, msg, item, runOnThreads)

	case model.ActionMarkSpam:
		if runOnThreads {
			return x.forEachThreadMessage(ctx, provider, msg, func(id string) error {
				return provider.MarkSpam(ctx, id)
			})
		}
		return provider.MarkSpam(ctx, msg.ID)

	case model.ActionReply:
		_, err := provider.SendMessage(ctx, x.replyEnvelope(msg, item))
		return err

	case model.ActionForward:
		_, err := provider.SendMessage(ctx, x.forwardEnvelope(msg, item))
		return err

	case model.ActionSendEmail:
		_, err := provider.SendMessage(ctx, model.Envelope{
			To:       item.To,
			CC:       item.CC,
			BCC:      item.BCC,
			Subject:  item.Subject,
			TextBody: item.Content,
		})
		return err

	case model.ActionDraftEmail:
		_, err := provider.CreateDraft(ctx, x.replyEnvelope(msg, item), msg.ID)
		return err

	case model.ActionCallWebhook:
		return x.notifier.Call(ctx, item.URL, account.WebhookSecret, msg)

	default:
		return fmt.Errorf("action item %s: %w", item.ID, model.ErrActionUnknownType)
	}
}

// applyLabel labels the message (or every message of its thread) and heals
// stale label IDs: when the provider fell back to lookup-by-name, the fresh
// ID is written back to every stored action sharing the stale one.
func (x *Executor) applyLabel(ctx context.Context, provider providers.Provider, account *model.Account, msg *model.Message, item *model.ActionItem, runOnThreads bool) error {
	label := func(messageID string) error {
		result, err := provider.LabelMessage(ctx, messageID, item.LabelID, item.Label)
		if err != nil {
			return err
		}
		if result.UsedFallback && item.LabelID != "" && item.LabelID != result.LabelID {
			updated, healErr := x.storage.UpdateActionLabelID(ctx, account.ID, item.LabelID, result.LabelID)
			if healErr != nil {
				slog.Warn("Failed to heal stale label ID",
					"account", account.ID,
					"stale_label_id", item.LabelID,
					"error", healErr)
			} else {
				slog.Info("Healed stale label ID",
					"account", account.ID,
					"stale_label_id", item.LabelID,
					"label_id", result.LabelID,
					"actions_updated", updated)
			}
		}
		item.LabelID = result.LabelID
		return nil
	}

	if runOnThreads {
		return x.forEachThreadMessage(ctx, provider, msg, label)
	}
	return label(msg.ID)
}

func (x *Executor) forEachThreadMessage(ctx context.Context, provider providers.Provider, msg *model.Message, fn func(messageID string) error) error {
	thread, err := provider.GetThread(ctx, msg.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to load thread %s: %w", msg.ThreadID, err)
	}
	for i := range thread.Messages {
		if err := fn(thread.Messages[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// replyEnvelope builds a threaded reply to the triggering message. The
// recipient defaults to the sender's reply-to address.
func (x *Executor) replyEnvelope(msg *model.Message, item *model.ActionItem) model.Envelope {
	to := item.To
	if to == "" {
		to = msg.ReplyTo
		if to == "" {
			to = msg.From
		}
	}
	subject := item.Subject
	if subject == "" {
		subject = rePrefix(msg.Subject)
	}
	return model.Envelope{
		To:         to,
		CC:         item.CC,
		BCC:        item.BCC,
		Subject:    subject,
		TextBody:   item.Content,
		InReplyTo:  msg.HeaderMessageID,
		References: msg.HeaderMessageID,
		ThreadID:   msg.ThreadID,
	}
}

// forwardEnvelope wraps the original message body under the item's content.
func (x *Executor) forwardEnvelope(msg *model.Message, item *model.ActionItem) model.Envelope {
	subject := item.Subject
	if subject == "" {
		subject = fwdPrefix(msg.Subject)
	}
	var body strings.Builder
	if item.Content != "" {
		body.WriteString(item.Content)
		body.WriteString("\n\n")
	}
	fmt.Fprintf(&body, "---------- Forwarded message ----------\nFrom: %s\nSubject: %s\n\n%s",
		msg.From, msg.Subject, msg.TextBody)
	return model.Envelope{
		To:       item.To,
		CC:       item.CC,
		BCC:      item.BCC,
		Subject:  subject,
		TextBody: body.String(),
	}
}

func (x *Executor) applyItem(ctx context.Context, item *model.ActionItem) {
	item.Status = model.ItemApplied
	item.Error = ""
	if err := x.storage.UpdateActionItemStatus(ctx, item.ID, model.ItemApplied, ""); err != nil {
		slog.Error("Failed to mark action item applied", "item", item.ID, "error", err)
	}
}

func (x *Executor) failItem(ctx context.Context, item *model.ActionItem, cause error) {
	slog.Error("Action item failed",
		"item", item.ID,
		"type", item.Type,
		"error", cause)
	item.Status = model.ItemFailed
	item.Error = cause.Error()
	if err := x.storage.UpdateActionItemStatus(ctx, item.ID, model.ItemFailed, cause.Error()); err != nil {
		slog.Error("Failed to mark action item failed", "item", item.ID, "error", err)
	}
}

func rePrefix(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func fwdPrefix(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "fwd:") {
		return subject
	}
	return "Fwd: " + subject
}
