package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/mailflow/internal/common"
	"github.com/Veraticus/mailflow/internal/model"
)

// CreateScheduledAction persists a deferred action in PENDING state.
func (s *SQLiteStorage) CreateScheduledAction(ctx context.Context, action *model.ScheduledAction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateScheduledAction(action); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_actions (
			id, account_id, executed_rule_id, action_item_id, message_id, thread_id,
			type, label, label_id, subject, content, to_addr, cc, bcc, url,
			execute_at, status, retry_count, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'PENDING', 0, '')
	`,
		action.ID, action.AccountID, action.ExecutedRuleID, action.ActionItemID,
		action.MessageID, action.ThreadID,
		string(action.Item.Type), action.Item.Label, action.Item.LabelID,
		action.Item.Subject, action.Item.Content, action.Item.To, action.Item.CC,
		action.Item.BCC, action.Item.URL,
		action.ExecuteAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create scheduled action: %w", err)
	}
	action.Status = model.ScheduledPending
	return nil
}

// GetScheduledAction retrieves a scheduled action by ID.
func (s *SQLiteStorage) GetScheduledAction(ctx context.Context, id string) (*model.ScheduledAction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	action, err := s.scanScheduledAction(s.db.QueryRowContext(ctx,
		scheduledActionColumns+` FROM scheduled_actions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("scheduled action %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get scheduled action: %w", err)
	}
	return action, nil
}

// GetDueScheduledActions returns PENDING actions whose execution time has
// arrived, oldest first.
func (s *SQLiteStorage) GetDueScheduledActions(ctx context.Context, now time.Time, limit int) ([]model.ScheduledAction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	rows, err := s.db.QueryContext(ctx, scheduledActionColumns+`
		FROM scheduled_actions
		WHERE status = 'PENDING' AND execute_at <= ?
		ORDER BY execute_at ASC
		LIMIT ?
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due scheduled actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []model.ScheduledAction
	for rows.Next() {
		action, scanErr := s.scanScheduledAction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan scheduled action: %w", scanErr)
		}
		actions = append(actions, *action)
	}
	return actions, rows.Err()
}

// ClaimScheduledAction atomically transitions PENDING to PROCESSING. The
// conditional update is the compare-and-swap that prevents two sweep
// workers (or a sweep and a concurrent cancel) from both taking the row.
// Returns true iff this caller won the claim.
func (s *SQLiteStorage) ClaimScheduledAction(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_actions
		SET status = 'PROCESSING', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'PENDING'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim scheduled action: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n == 1, nil
}

// FinishScheduledAction finalizes a PROCESSING action to COMPLETED or
// FAILED. Failures increment the retry counter and record the error.
func (s *SQLiteStorage) FinishScheduledAction(ctx context.Context, id string, status model.ScheduledActionStatus, lastError string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if status != model.ScheduledCompleted && status != model.ScheduledFailed {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	retryIncrement := 0
	if status == model.ScheduledFailed {
		retryIncrement = 1
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_actions
		SET status = ?, last_error = ?, retry_count = retry_count + ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'PROCESSING'
	`, string(status), lastError, retryIncrement, id)
	if err != nil {
		return fmt.Errorf("failed to finish scheduled action: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("scheduled action %s not in PROCESSING: %w", id, common.ErrConflict)
	}
	return nil
}

// CancelScheduledAction transitions PENDING to CANCELLED. Once a sweep has
// claimed the row the cancel loses the race and gets ErrConflict; the
// caller surfaces that as a no-op conflict, never as corruption.
func (s *SQLiteStorage) CancelScheduledAction(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_actions
		SET status = 'CANCELLED', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'PENDING'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel scheduled action: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetScheduledAction(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("scheduled action %s already claimed: %w", id, common.ErrConflict)
	}
	return nil
}

// RetryScheduledAction is the operator-initiated FAILED to PENDING
// transition. Any other starting state is a conflict.
func (s *SQLiteStorage) RetryScheduledAction(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_actions
		SET status = 'PENDING', last_error = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'FAILED'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to retry scheduled action: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetScheduledAction(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("scheduled action %s is not FAILED: %w", id, common.ErrConflict)
	}
	return nil
}

// ListScheduledActions returns an account's scheduled actions, optionally
// filtered by status, soonest first.
func (s *SQLiteStorage) ListScheduledActions(ctx context.Context, accountID string, status model.ScheduledActionStatus, limit int) ([]model.ScheduledAction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	query := scheduledActionColumns + ` FROM scheduled_actions WHERE account_id = ?`
	args := []any{accountID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY execute_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []model.ScheduledAction
	for rows.Next() {
		action, scanErr := s.scanScheduledAction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan scheduled action: %w", scanErr)
		}
		actions = append(actions, *action)
	}
	return actions, rows.Err()
}

const scheduledActionColumns = `
	SELECT id, account_id, executed_rule_id, action_item_id, message_id, thread_id,
		type, label, label_id, subject, content, to_addr, cc, bcc, url,
		execute_at, status, retry_count, last_error, created_at, updated_at`

func (s *SQLiteStorage) scanScheduledAction(row rowScanner) (*model.ScheduledAction, error) {
	var a model.ScheduledAction
	var itemType, status string
	err := row.Scan(
		&a.ID, &a.AccountID, &a.ExecutedRuleID, &a.ActionItemID, &a.MessageID, &a.ThreadID,
		&itemType, &a.Item.Label, &a.Item.LabelID, &a.Item.Subject, &a.Item.Content,
		&a.Item.To, &a.Item.CC, &a.Item.BCC, &a.Item.URL,
		&a.ExecuteAt, &status, &a.RetryCount, &a.LastError, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Item.ID = a.ActionItemID
	a.Item.ExecutedRuleID = a.ExecutedRuleID
	a.Item.Type = model.ActionType(itemType)
	a.Item.DelayInMinutes = 0
	a.Status = model.ScheduledActionStatus(status)
	return &a, nil
}
