// Package scheduler sweeps due delayed actions and executes them. Every
// claim is a compare-and-set status transition, so concurrent sweeps never
// execute the same action twice.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/mailflow/internal/common"
	"github.com/Veraticus/mailflow/internal/engine"
	"github.com/Veraticus/mailflow/internal/metrics"
	"github.com/Veraticus/mailflow/internal/model"
	"github.com/Veraticus/mailflow/internal/providers"
	"github.com/Veraticus/mailflow/internal/service"
)

const (
	// defaultInterval between sweeps.
	defaultInterval = time.Minute
	// defaultBatchSize bounds how many due actions one sweep takes on.
	defaultBatchSize = 50
	// maxRetries bounds automatic retries of a failing scheduled action.
	// Beyond this the action stays FAILED until an operator retries it.
	maxRetries = 3
)

// Counts summarizes one sweep.
type Counts struct {
	// Processed actions completed successfully.
	Processed int
	// Failed actions were attempted and failed.
	Failed int
	// Pending actions were due but claimed by a concurrent sweep.
	Pending int
}

// Scheduler periodically executes due scheduled actions.
type Scheduler struct {
	storage   service.Storage
	executor  *engine.Executor
	factory   providers.Factory
	interval  time.Duration
	batchSize int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the sweep interval. Non-positive values keep the
// default.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBatchSize overrides how many due actions a sweep claims at most.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New creates a scheduler.
func New(storage service.Storage, executor *engine.Executor, factory providers.Factory, opts ...Option) *Scheduler {
	s := &Scheduler{
		storage:   storage,
		executor:  executor,
		factory:   factory,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on a fixed interval until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler started", "interval", s.interval, "batch_size", s.batchSize)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			counts, err := s.SweepOnce(ctx)
			if err != nil {
				slog.Error("Sweep failed", "error", err)
				continue
			}
			if counts.Processed > 0 || counts.Failed > 0 {
				slog.Info("Sweep finished",
					"processed", counts.Processed,
					"failed", counts.Failed,
					"pending", counts.Pending)
			}
		}
	}
}

// SweepOnce claims and executes every due action, up to the batch size.
func (s *Scheduler) SweepOnce(ctx context.Context) (Counts, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var counts Counts
	due, err := s.storage.GetDueScheduledActions(ctx, time.Now(), s.batchSize)
	if err != nil {
		return counts, fmt.Errorf("failed to load due actions: %w", err)
	}

	for i := range due {
		action := &due[i]
		claimed, claimErr := s.storage.ClaimScheduledAction(ctx, action.ID)
		if claimErr != nil {
			slog.Error("Failed to claim scheduled action", "action", action.ID, "error", claimErr)
			counts.Pending++
			continue
		}
		if !claimed {
			// Another sweep got there first, or the action was cancelled.
			counts.Pending++
			continue
		}

		if execErr := s.process(ctx, action); execErr != nil {
			counts.Failed++
			continue
		}
		counts.Processed++
	}
	return counts, nil
}

// process executes one claimed action and finalizes its status and the
// owning execution record.
func (s *Scheduler) process(ctx context.Context, action *model.ScheduledAction) error {
	account, err := s.storage.GetAccount(ctx, action.AccountID)
	if err != nil {
		return s.fail(ctx, action, fmt.Errorf("failed to load account: %w", err), false)
	}
	provider, err := s.factory(ctx, account)
	if err != nil {
		return s.fail(ctx, action, fmt.Errorf("failed to build provider: %w", err), true)
	}
	msg, err := provider.GetMessage(ctx, action.MessageID)
	if err != nil {
		return s.fail(ctx, action, fmt.Errorf("failed to fetch message: %w", err), providers.IsTransient(err))
	}

	if err := s.executor.ExecuteItem(ctx, provider, account, msg, &action.Item, s.runOnThreads(ctx, action)); err != nil {
		// Exhausted in-process retries mean the cause was transient; the
		// next sweep may succeed.
		retryable := common.IsRetryable(err) || providers.IsTransient(err) || errors.Is(err, common.ErrMaxRetries)
		return s.fail(ctx, action, err, retryable)
	}

	if err := s.storage.UpdateActionItemStatus(ctx, action.ActionItemID, model.ItemApplied, ""); err != nil {
		slog.Error("Failed to mark action item applied", "item", action.ActionItemID, "error", err)
	}
	if err := s.storage.FinishScheduledAction(ctx, action.ID, model.ScheduledCompleted, ""); err != nil {
		slog.Error("Failed to complete scheduled action", "action", action.ID, "error", err)
	}
	s.finalizeOwner(ctx, action.ExecutedRuleID)

	metrics.ScheduledActionsProcessed.WithLabelValues(string(model.ScheduledCompleted)).Inc()
	slog.Info("Scheduled action completed",
		"action", action.ID,
		"type", action.Item.Type,
		"account", action.AccountID)
	return nil
}

// runOnThreads resolves the owning rule's thread-wide flag for a claimed
// action. Lookup failures degrade to single-message execution.
func (s *Scheduler) runOnThreads(ctx context.Context, action *model.ScheduledAction) bool {
	record, err := s.storage.GetExecutionByID(ctx, action.ExecutedRuleID)
	if err != nil {
		slog.Warn("Failed to load owning execution, treating as single-message",
			"executed_rule", action.ExecutedRuleID,
			"error", err)
		return false
	}
	if !record.HasRule() {
		return false
	}
	rule, err := s.storage.GetRule(ctx, record.RuleID)
	if err != nil {
		slog.Warn("Failed to load rule for scheduled action, treating as single-message",
			"rule", record.RuleID,
			"error", err)
		return false
	}
	return rule.RunOnThreads
}

// fail records a failure and, for retryable causes under the cap, returns
// the action to the pending pool for the next sweep.
func (s *Scheduler) fail(ctx context.Context, action *model.ScheduledAction, cause error, retryable bool) error {
	slog.Error("Scheduled action failed",
		"action", action.ID,
		"type", action.Item.Type,
		"retry_count", action.RetryCount,
		"error", cause)

	if err := s.storage.FinishScheduledAction(ctx, action.ID, model.ScheduledFailed, cause.Error()); err != nil {
		slog.Error("Failed to mark scheduled action failed", "action", action.ID, "error", err)
		return cause
	}
	metrics.ScheduledActionsProcessed.WithLabelValues(string(model.ScheduledFailed)).Inc()

	if retryable && action.RetryCount+1 < maxRetries {
		if err := s.storage.RetryScheduledAction(ctx, action.ID); err != nil {
			slog.Error("Failed to requeue scheduled action", "action", action.ID, "error", err)
			return cause
		}
		slog.Info("Scheduled action requeued automatically",
			"action", action.ID,
			"retry_count", action.RetryCount+1,
			"max_retries", maxRetries)
		return cause
	}

	// Retries exhausted or permanently failed: surface in the audit trail.
	if err := s.storage.UpdateActionItemStatus(ctx, action.ActionItemID, model.ItemFailed, cause.Error()); err != nil {
		slog.Error("Failed to mark action item failed", "item", action.ActionItemID, "error", err)
	}
	s.finalizeOwner(ctx, action.ExecutedRuleID)
	return cause
}

// finalizeOwner recomputes the owning execution record's status from its
// action items once a delayed item reaches a terminal state.
func (s *Scheduler) finalizeOwner(ctx context.Context, executedRuleID string) {
	record, err := s.storage.GetExecutionByID(ctx, executedRuleID)
	if err != nil {
		slog.Error("Failed to load owning execution", "executed_rule", executedRuleID, "error", err)
		return
	}
	status := record.ResolveStatus()
	if status == record.Status {
		return
	}
	if err := s.storage.FinalizeExecution(ctx, executedRuleID, status); err != nil {
		slog.Error("Failed to finalize owning execution", "executed_rule", executedRuleID, "error", err)
	}
}
