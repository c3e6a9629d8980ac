package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/mailflow/internal/model"
)

// Validation errors.
var (
	ErrNilContext    = errors.New("context cannot be nil")
	ErrEmptyString   = errors.New("string parameter cannot be empty")
	ErrNilParameter  = errors.New("parameter cannot be nil")
	ErrInvalidStatus = errors.New("invalid status")
	ErrInvalidLimit  = errors.New("limit must be positive")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateRule validates a rule before persisting it. Input errors are
// rejected here so they never surface during execution.
func validateRule(rule *model.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if err := validateString(rule.AccountID, "rule.AccountID"); err != nil {
		return err
	}
	if err := validateString(rule.Name, "rule.Name"); err != nil {
		return err
	}
	return rule.Validate()
}

// validateScheduledAction validates a scheduled action before persisting it.
func validateScheduledAction(action *model.ScheduledAction) error {
	if action == nil {
		return fmt.Errorf("%w: action", ErrNilParameter)
	}
	if err := validateString(action.ID, "action.ID"); err != nil {
		return err
	}
	if err := validateString(action.AccountID, "action.AccountID"); err != nil {
		return err
	}
	if err := validateString(action.ExecutedRuleID, "action.ExecutedRuleID"); err != nil {
		return err
	}
	if action.ExecuteAt.IsZero() {
		return fmt.Errorf("%w: action.ExecuteAt", ErrNilParameter)
	}
	return nil
}
