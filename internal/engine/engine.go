package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Veraticus/mailflow/internal/llm"
	"github.com/Veraticus/mailflow/internal/metrics"
	"github.com/Veraticus/mailflow/internal/model"
	"github.com/Veraticus/mailflow/internal/providers"
	"github.com/Veraticus/mailflow/internal/service"
)

// Engine orchestrates the pipeline for one message: evaluate conditions,
// choose among AI rules, synthesize arguments, execute actions.
type Engine struct {
	storage     service.Storage
	factory     providers.Factory
	evaluator   *Evaluator
	chooser     *Chooser
	synthesizer *Synthesizer
	executor    *Executor
	notifier    *WebhookNotifier
}

// New creates an engine wired to the given storage, model client and
// provider factory.
func New(storage service.Storage, client llm.Client, factory providers.Factory) *Engine {
	notifier := NewWebhookNotifier()
	return &Engine{
		storage:     storage,
		factory:     factory,
		evaluator:   NewEvaluator(storage, storage),
		chooser:     NewChooser(client),
		synthesizer: NewSynthesizer(client),
		executor:    NewExecutor(storage, notifier),
		notifier:    notifier,
	}
}

// Executor exposes the action executor for the scheduler's single-item path.
func (e *Engine) Executor() *Executor { return e.executor }

// ProcessMessage runs the full pipeline for one message and returns the
// execution records it created. In multi-rule mode more than one record can
// result; each is independently idempotent.
func (e *Engine) ProcessMessage(ctx context.Context, accountID, messageID string) ([]*model.ExecutedRule, error) {
	account, provider, msg, err := e.resolve(ctx, accountID, messageID)
	if err != nil {
		metrics.MessagesProcessed.WithLabelValues("error").Inc()
		return nil, err
	}

	records, err := e.decide(ctx, account, msg)
	if err != nil {
		metrics.MessagesProcessed.WithLabelValues("error").Inc()
		return nil, err
	}

	for _, record := range records {
		if execErr := e.executor.Execute(ctx, provider, account, msg, record); execErr != nil {
			metrics.MessagesProcessed.WithLabelValues("error").Inc()
			return records, fmt.Errorf("failed to execute rule %d: %w", record.RuleID, execErr)
		}
		metrics.RuleExecutions.WithLabelValues(string(record.Status)).Inc()
	}

	metrics.MessagesProcessed.WithLabelValues("ok").Inc()
	return records, nil
}

// Preview runs evaluation, selection and synthesis for a message without
// recording anything or touching the provider. Used by dry runs.
func (e *Engine) Preview(ctx context.Context, accountID, messageID string) ([]*model.ExecutedRule, error) {
	account, _, msg, err := e.resolve(ctx, accountID, messageID)
	if err != nil {
		return nil, err
	}
	return e.decide(ctx, account, msg)
}

// ProcessQuery lists messages matching a provider query and processes each.
// One message's failure never stops the rest.
func (e *Engine) ProcessQuery(ctx context.Context, accountID, query string, maxResults int64) (processed, failed int, err error) {
	account, err := e.storage.GetAccount(ctx, accountID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}
	provider, err := e.factory(ctx, account)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to build provider for %s: %w", accountID, err)
	}

	refs, err := provider.ListMessages(ctx, query, maxResults)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list messages: %w", err)
	}

	for _, ref := range refs {
		select {
		case <-ctx.Done():
			return processed, failed, ctx.Err()
		default:
		}
		if _, procErr := e.ProcessMessage(ctx, accountID, ref.ID); procErr != nil {
			slog.Error("Failed to process message",
				"account", accountID,
				"message", ref.ID,
				"error", procErr)
			failed++
			continue
		}
		processed++
	}
	return processed, failed, nil
}

func (e *Engine) resolve(ctx context.Context, accountID, messageID string) (*model.Account, providers.Provider, *model.Message, error) {
	account, err := e.storage.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}
	provider, err := e.factory(ctx, account)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build provider for %s: %w", accountID, err)
	}
	msg, err := provider.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to fetch message %s: %w", messageID, err)
	}
	return account, provider, msg, nil
}

// decide produces the execution records for a message: evaluation, rule
// selection and argument synthesis, but no side effects.
func (e *Engine) decide(ctx context.Context, account *model.Account, msg *model.Message) ([]*model.ExecutedRule, error) {
	rules, err := e.storage.GetEnabledRules(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	if len(rules) == 0 {
		return []*model.ExecutedRule{e.noRuleRecord(account, msg, "No rules")}, nil
	}

	// Static and group rules are checked in user order; the first match wins
	// without consulting the model. AI rules only collect as candidates.
	var aiRules []model.Rule
	for i := range rules {
		rule := &rules[i]
		matched, matchErr := e.evaluator.Matches(ctx, msg, rule)
		if matchErr != nil {
			return nil, matchErr
		}
		if !matched {
			continue
		}
		if rule.Type == model.RuleTypeAI {
			aiRules = append(aiRules, *rule)
			continue
		}

		slog.Info("Rule matched by conditions",
			"account", account.ID,
			"message", msg.ID,
			"rule", rule.ID,
			"type", rule.Type)
		record := e.buildRecord(ctx, account, msg, rule,
			fmt.Sprintf("matched %s conditions of rule %q", rule.Type, rule.Name))
		return []*model.ExecutedRule{record}, nil
	}

	if len(aiRules) == 0 {
		return []*model.ExecutedRule{e.noRuleRecord(account, msg, "no matching rules")}, nil
	}

	choice, err := e.chooser.Choose(ctx, account, msg, aiRules)
	if err != nil {
		metrics.ChooserCalls.WithLabelValues("error").Inc()
		return nil, err
	}
	if !choice.Selected() {
		result := "no_rule"
		if choice.NeedsInfo {
			result = "needs_info"
		}
		metrics.ChooserCalls.WithLabelValues(result).Inc()
		return []*model.ExecutedRule{e.noRuleRecord(account, msg, choice.Reason)}, nil
	}
	metrics.ChooserCalls.WithLabelValues("selected").Inc()

	records := make([]*model.ExecutedRule, 0, len(choice.RuleIndexes))
	for _, index := range choice.RuleIndexes {
		rule := &aiRules[index]
		slog.Info("Rule selected by chooser",
			"account", account.ID,
			"message", msg.ID,
			"rule", rule.ID,
			"reason", choice.Reason)
		records = append(records, e.buildRecord(ctx, account, msg, rule, choice.Reason))
	}
	return records, nil
}

// buildRecord resolves every action of the rule into items. A synthesis
// failure marks that single item failed; siblings still resolve.
func (e *Engine) buildRecord(ctx context.Context, account *model.Account, msg *model.Message, rule *model.Rule, reason string) *model.ExecutedRule {
	record := &model.ExecutedRule{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		RuleID:    rule.ID,
		Reason:    reason,
		Status:    model.ExecutedPending,
		Automated: rule.Automate,
	}

	for i := range rule.Actions {
		action := &rule.Actions[i]
		item, err := e.synthesizer.Resolve(ctx, account, msg, rule, action)
		if err != nil {
			slog.Warn("Argument synthesis failed for action",
				"rule", rule.ID,
				"action", action.ID,
				"type", action.Type,
				"error", err)
			item.Status = model.ItemFailed
			item.Error = err.Error()
		}
		record.ActionItems = append(record.ActionItems, item)
	}
	return record
}

func (e *Engine) noRuleRecord(account *model.Account, msg *model.Message, reason string) *model.ExecutedRule {
	slog.Info("No rule selected",
		"account", account.ID,
		"message", msg.ID,
		"reason", reason)
	return &model.ExecutedRule{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Reason:    reason,
		Status:    model.ExecutedSkipped,
		Automated: true,
	}
}
