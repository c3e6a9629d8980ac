// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/mailflow/internal/model"
)

// Storage defines the contract for our persistence layer. All writes go
// through narrow, idempotent operations: executions are upserted by their
// natural key and scheduled-action status changes are conditional updates.
type Storage interface {
	// Account operations
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	SaveAccount(ctx context.Context, account *model.Account) error
	GetRateLimit(ctx context.Context, accountID string) (*model.RateLimitState, error)
	SetRateLimit(ctx context.Context, accountID string, until time.Time) error

	// Rule operations
	SaveRule(ctx context.Context, rule *model.Rule) error
	GetRule(ctx context.Context, id int64) (*model.Rule, error)
	GetEnabledRules(ctx context.Context, accountID string) ([]model.Rule, error)
	SetRuleEnabled(ctx context.Context, id int64, enabled bool) error
	UpdateActionLabelID(ctx context.Context, accountID, oldLabelID, newLabelID string) (int64, error)

	// Category and learned-pattern operations
	GetCategories(ctx context.Context) ([]model.Category, error)
	CreateCategory(ctx context.Context, name, description string) (*model.Category, error)
	GetSenderCategory(ctx context.Context, accountID, sender string) (*model.Category, error)
	SetSenderCategory(ctx context.Context, accountID, sender string, categoryID int64) error
	CreateGroup(ctx context.Context, name string) (*model.Group, error)
	AddGroupItem(ctx context.Context, item *model.GroupItem) error
	GetGroupItems(ctx context.Context, groupID int64) ([]model.GroupItem, error)

	// Execution audit trail
	RecordExecution(ctx context.Context, execution *model.ExecutedRule) (bool, error)
	GetExecution(ctx context.Context, messageID string, ruleID int64) (*model.ExecutedRule, error)
	GetExecutionByID(ctx context.Context, id string) (*model.ExecutedRule, error)
	ListExecutions(ctx context.Context, accountID string, limit int) ([]model.ExecutedRule, error)
	UpdateActionItemStatus(ctx context.Context, itemID string, status model.ActionItemStatus, errMsg string) error
	FinalizeExecution(ctx context.Context, executedRuleID string, status model.ExecutedRuleStatus) error

	// Scheduled actions
	CreateScheduledAction(ctx context.Context, action *model.ScheduledAction) error
	GetScheduledAction(ctx context.Context, id string) (*model.ScheduledAction, error)
	GetDueScheduledActions(ctx context.Context, now time.Time, limit int) ([]model.ScheduledAction, error)
	ClaimScheduledAction(ctx context.Context, id string) (bool, error)
	FinishScheduledAction(ctx context.Context, id string, status model.ScheduledActionStatus, lastError string) error
	CancelScheduledAction(ctx context.Context, id string) error
	RetryScheduledAction(ctx context.Context, id string) error
	ListScheduledActions(ctx context.Context, accountID string, status model.ScheduledActionStatus, limit int) ([]model.ScheduledAction, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
