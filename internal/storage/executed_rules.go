package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/mailflow/internal/common"
	"github.com/Veraticus/mailflow/internal/model"
)

// RecordExecution inserts the audit record for one rule decision. The
// (message_id, rule_id) pair is the idempotency key: if a record already
// exists the insert is a no-op and false is returned, so re-processing the
// same message against the same rule never duplicates side effects.
func (s *SQLiteStorage) RecordExecution(ctx context.Context, execution *model.ExecutedRule) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if execution == nil {
		return false, fmt.Errorf("%w: execution", ErrNilParameter)
	}
	if err := validateString(execution.ID, "execution.ID"); err != nil {
		return false, err
	}
	if err := validateString(execution.MessageID, "execution.MessageID"); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO executed_rules (id, account_id, message_id, thread_id, rule_id, status, reason, automated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id, rule_id) DO NOTHING
	`,
		execution.ID, execution.AccountID, execution.MessageID, execution.ThreadID,
		execution.RuleID, string(execution.Status), execution.Reason, execution.Automated)
	if err != nil {
		return false, fmt.Errorf("failed to record execution: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		// Already recorded: idempotent replay
		return false, nil
	}

	for i := range execution.ActionItems {
		item := &execution.ActionItems[i]
		item.ExecutedRuleID = execution.ID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO action_items (
				id, executed_rule_id, type, label, label_id,
				subject, content, to_addr, cc, bcc, url,
				delay_minutes, status, error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			item.ID, item.ExecutedRuleID, string(item.Type), item.Label, item.LabelID,
			item.Subject, item.Content, item.To, item.CC, item.BCC, item.URL,
			item.DelayInMinutes, string(item.Status), item.Error); err != nil {
			return false, fmt.Errorf("failed to record action item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit execution: %w", err)
	}
	return true, nil
}

// GetExecution retrieves the audit record for a (message, rule) pair.
func (s *SQLiteStorage) GetExecution(ctx context.Context, messageID string, ruleID int64) (*model.ExecutedRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(messageID, "messageID"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, account_id, message_id, thread_id, rule_id, status, reason, automated, created_at
		FROM executed_rules WHERE message_id = ? AND rule_id = ?
	`
	execution, err := s.scanExecution(s.db.QueryRowContext(ctx, query, messageID, ruleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("execution for message %s: %w", messageID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	if err := s.loadActionItems(ctx, execution); err != nil {
		return nil, err
	}
	return execution, nil
}

// GetExecutionByID retrieves one audit record by its identifier.
func (s *SQLiteStorage) GetExecutionByID(ctx context.Context, id string) (*model.ExecutedRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, account_id, message_id, thread_id, rule_id, status, reason, automated, created_at
		FROM executed_rules WHERE id = ?
	`
	execution, err := s.scanExecution(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	if err := s.loadActionItems(ctx, execution); err != nil {
		return nil, err
	}
	return execution, nil
}

// ListExecutions returns the most recent audit records for an account.
func (s *SQLiteStorage) ListExecutions(ctx context.Context, accountID string, limit int) ([]model.ExecutedRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	query := `
		SELECT id, account_id, message_id, thread_id, rule_id, status, reason, automated, created_at
		FROM executed_rules
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var executions []model.ExecutedRule
	for rows.Next() {
		execution, scanErr := s.scanExecution(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", scanErr)
		}
		executions = append(executions, *execution)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range executions {
		if err := s.loadActionItems(ctx, &executions[i]); err != nil {
			return nil, err
		}
	}
	return executions, nil
}

// UpdateActionItemStatus records the outcome of one action item.
func (s *SQLiteStorage) UpdateActionItemStatus(ctx context.Context, itemID string, status model.ActionItemStatus, errMsg string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(itemID, "itemID"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE action_items SET status = ?, error = ? WHERE id = ?`,
		string(status), errMsg, itemID)
	if err != nil {
		return fmt.Errorf("failed to update action item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("action item %s: %w", itemID, common.ErrNotFound)
	}
	return nil
}

// FinalizeExecution sets the record-level status once all action items have
// been attempted or scheduled.
func (s *SQLiteStorage) FinalizeExecution(ctx context.Context, executedRuleID string, status model.ExecutedRuleStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(executedRuleID, "executedRuleID"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE executed_rules SET status = ? WHERE id = ?`,
		string(status), executedRuleID)
	if err != nil {
		return fmt.Errorf("failed to finalize execution: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("execution %s: %w", executedRuleID, common.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) scanExecution(row rowScanner) (*model.ExecutedRule, error) {
	var e model.ExecutedRule
	var status string
	err := row.Scan(
		&e.ID, &e.AccountID, &e.MessageID, &e.ThreadID, &e.RuleID,
		&status, &e.Reason, &e.Automated, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = model.ExecutedRuleStatus(status)
	return &e, nil
}

func (s *SQLiteStorage) loadActionItems(ctx context.Context, execution *model.ExecutedRule) error {
	query := `
		SELECT id, executed_rule_id, type, label, label_id,
			subject, content, to_addr, cc, bcc, url,
			delay_minutes, status, error
		FROM action_items WHERE executed_rule_id = ? ORDER BY rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, execution.ID)
	if err != nil {
		return fmt.Errorf("failed to load action items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	execution.ActionItems = execution.ActionItems[:0]
	for rows.Next() {
		var item model.ActionItem
		var itemType, status string
		if err := rows.Scan(
			&item.ID, &item.ExecutedRuleID, &itemType, &item.Label, &item.LabelID,
			&item.Subject, &item.Content, &item.To, &item.CC, &item.BCC, &item.URL,
			&item.DelayInMinutes, &status, &item.Error); err != nil {
			return fmt.Errorf("failed to scan action item: %w", err)
		}
		item.Type = model.ActionType(itemType)
		item.Status = model.ActionItemStatus(status)
		execution.ActionItems = append(execution.ActionItems, item)
	}
	return rows.Err()
}
