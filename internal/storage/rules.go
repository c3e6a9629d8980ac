package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Veraticus/mailflow/internal/common"
	"github.com/Veraticus/mailflow/internal/model"
)

// SaveRule inserts a new rule with its actions, or replaces the actions of
// an existing rule. Rule configuration is validated here so malformed rules
// never reach the execution path.
func (s *SQLiteStorage) SaveRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	filters, err := json.Marshal(rule.CategoryFilters)
	if err != nil {
		return fmt.Errorf("failed to encode category filters: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if rule.ID == 0 {
		result, insErr := tx.ExecContext(ctx, `
			INSERT INTO rules (
				account_id, name, instructions, type,
				from_pattern, to_pattern, subject_pattern, body_pattern,
				operator, category_filters, category_filter_mode, group_id,
				automate, run_on_threads, enabled, position
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rule.AccountID, rule.Name, rule.Instructions, string(rule.Type),
			rule.From, rule.To, rule.Subject, rule.Body,
			string(rule.Operator), string(filters), string(rule.CategoryFilterMode), rule.GroupID,
			rule.Automate, rule.RunOnThreads, rule.Enabled, rule.Position)
		if insErr != nil {
			return fmt.Errorf("failed to insert rule: %w", insErr)
		}
		id, idErr := result.LastInsertId()
		if idErr != nil {
			return fmt.Errorf("failed to get rule ID: %w", idErr)
		}
		rule.ID = id
	} else {
		_, updErr := tx.ExecContext(ctx, `
			UPDATE rules SET
				name = ?, instructions = ?, type = ?,
				from_pattern = ?, to_pattern = ?, subject_pattern = ?, body_pattern = ?,
				operator = ?, category_filters = ?, category_filter_mode = ?, group_id = ?,
				automate = ?, run_on_threads = ?, enabled = ?, position = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`,
			rule.Name, rule.Instructions, string(rule.Type),
			rule.From, rule.To, rule.Subject, rule.Body,
			string(rule.Operator), string(filters), string(rule.CategoryFilterMode), rule.GroupID,
			rule.Automate, rule.RunOnThreads, rule.Enabled, rule.Position,
			rule.ID)
		if updErr != nil {
			return fmt.Errorf("failed to update rule: %w", updErr)
		}
		if _, delErr := tx.ExecContext(ctx, `DELETE FROM actions WHERE rule_id = ?`, rule.ID); delErr != nil {
			return fmt.Errorf("failed to clear rule actions: %w", delErr)
		}
	}

	for i := range rule.Actions {
		a := &rule.Actions[i]
		result, actErr := tx.ExecContext(ctx, `
			INSERT INTO actions (
				rule_id, type,
				label, label_ai, label_id,
				subject, subject_ai, content, content_ai,
				to_addr, to_ai, cc, cc_ai, bcc, bcc_ai,
				url, delay_minutes
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rule.ID, string(a.Type),
			a.Label.Value, a.Label.IsTemplated(), a.LabelID,
			a.Subject.Value, a.Subject.IsTemplated(), a.Content.Value, a.Content.IsTemplated(),
			a.To.Value, a.To.IsTemplated(), a.CC.Value, a.CC.IsTemplated(), a.BCC.Value, a.BCC.IsTemplated(),
			a.URL.Value, a.DelayInMinutes)
		if actErr != nil {
			return fmt.Errorf("failed to insert action: %w", actErr)
		}
		id, idErr := result.LastInsertId()
		if idErr != nil {
			return fmt.Errorf("failed to get action ID: %w", idErr)
		}
		a.ID = id
		a.RuleID = rule.ID
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule: %w", err)
	}
	return nil
}

// GetRule retrieves a rule and its actions by ID.
func (s *SQLiteStorage) GetRule(ctx context.Context, id int64) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, account_id, name, instructions, type,
			from_pattern, to_pattern, subject_pattern, body_pattern,
			operator, category_filters, category_filter_mode, group_id,
			automate, run_on_threads, enabled, position, created_at, updated_at
		FROM rules WHERE id = ?
	`
	rule, err := s.scanRule(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	if err := s.loadActions(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// GetEnabledRules returns an account's enabled rules in user-configured
// order, with actions attached. This order is the stable presentation order
// the chooser relies on.
func (s *SQLiteStorage) GetEnabledRules(ctx context.Context, accountID string) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, account_id, name, instructions, type,
			from_pattern, to_pattern, subject_pattern, body_pattern,
			operator, category_filters, category_filter_mode, group_id,
			automate, run_on_threads, enabled, position, created_at, updated_at
		FROM rules
		WHERE account_id = ? AND enabled = 1
		ORDER BY position ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get enabled rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.Rule
	for rows.Next() {
		rule, scanErr := s.scanRule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", scanErr)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range rules {
		if err := s.loadActions(ctx, &rules[i]); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// SetRuleEnabled soft-enables or soft-disables a rule. Rules referenced by
// execution history are disabled rather than deleted.
func (s *SQLiteStorage) SetRuleEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE rules SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		enabled, id)
	if err != nil {
		return fmt.Errorf("failed to set rule enabled: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
	}
	return nil
}

// UpdateActionLabelID rewrites every stored action reference to a stale
// provider label ID with the freshly looked-up one. Returns the number of
// rows healed.
func (s *SQLiteStorage) UpdateActionLabelID(ctx context.Context, accountID, oldLabelID, newLabelID string) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(oldLabelID, "oldLabelID"); err != nil {
		return 0, err
	}
	if err := validateString(newLabelID, "newLabelID"); err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE actions SET label_id = ?
		WHERE label_id = ?
		  AND rule_id IN (SELECT id FROM rules WHERE account_id = ?)
	`, newLabelID, oldLabelID, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to update action label IDs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStorage) scanRule(row rowScanner) (*model.Rule, error) {
	var rule model.Rule
	var ruleType, operator, filterMode, filters string
	err := row.Scan(
		&rule.ID, &rule.AccountID, &rule.Name, &rule.Instructions, &ruleType,
		&rule.From, &rule.To, &rule.Subject, &rule.Body,
		&operator, &filters, &filterMode, &rule.GroupID,
		&rule.Automate, &rule.RunOnThreads, &rule.Enabled, &rule.Position,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rule.Type = model.RuleType(ruleType)
	rule.Operator = model.ConditionalOperator(operator)
	rule.CategoryFilterMode = model.CategoryFilterMode(filterMode)
	if err := json.Unmarshal([]byte(filters), &rule.CategoryFilters); err != nil {
		return nil, fmt.Errorf("failed to decode category filters: %w", err)
	}
	return &rule, nil
}

func (s *SQLiteStorage) loadActions(ctx context.Context, rule *model.Rule) error {
	query := `
		SELECT id, rule_id, type,
			label, label_ai, label_id,
			subject, subject_ai, content, content_ai,
			to_addr, to_ai, cc, cc_ai, bcc, bcc_ai,
			url, delay_minutes
		FROM actions WHERE rule_id = ? ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to load actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	rule.Actions = rule.Actions[:0]
	for rows.Next() {
		var a model.Action
		var actionType string
		var labelAI, subjectAI, contentAI, toAI, ccAI, bccAI bool
		var label, subject, content, to, cc, bcc string
		if err := rows.Scan(
			&a.ID, &a.RuleID, &actionType,
			&label, &labelAI, &a.LabelID,
			&subject, &subjectAI, &content, &contentAI,
			&to, &toAI, &cc, &ccAI, &bcc, &bccAI,
			&a.URL.Value, &a.DelayInMinutes); err != nil {
			return fmt.Errorf("failed to scan action: %w", err)
		}
		a.Type = model.ActionType(actionType)
		a.Label = fieldFrom(label, labelAI)
		a.Subject = fieldFrom(subject, subjectAI)
		a.Content = fieldFrom(content, contentAI)
		a.To = fieldFrom(to, toAI)
		a.CC = fieldFrom(cc, ccAI)
		a.BCC = fieldFrom(bcc, bccAI)
		rule.Actions = append(rule.Actions, a)
	}
	return rows.Err()
}

func fieldFrom(value string, ai bool) model.Field {
	if ai {
		return model.Templated(value)
	}
	return model.Literal(value)
}
