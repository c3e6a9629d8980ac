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

// SaveAccount inserts or updates an account.
func (s *SQLiteStorage) SaveAccount(ctx context.Context, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: account", ErrNilParameter)
	}
	if err := validateString(account.ID, "account.ID"); err != nil {
		return err
	}
	if err := validateString(account.Email, "account.Email"); err != nil {
		return err
	}

	query := `
		INSERT INTO accounts (id, email, provider, about, webhook_url, webhook_secret, multi_rule_selection)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			provider = excluded.provider,
			about = excluded.about,
			webhook_url = excluded.webhook_url,
			webhook_secret = excluded.webhook_secret,
			multi_rule_selection = excluded.multi_rule_selection
	`
	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.Email, string(account.Provider), account.About,
		account.WebhookURL, account.WebhookSecret, account.MultiRuleSelection)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStorage) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, email, provider, about, webhook_url, webhook_secret, multi_rule_selection, created_at
		FROM accounts WHERE id = ?
	`
	var a model.Account
	var provider string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Email, &provider, &a.About,
		&a.WebhookURL, &a.WebhookSecret, &a.MultiRuleSelection, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	a.Provider = model.ProviderKind(provider)
	return &a, nil
}

// ListAccounts returns all connected accounts.
func (s *SQLiteStorage) ListAccounts(ctx context.Context) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, email, provider, about, webhook_url, webhook_secret, multi_rule_selection, created_at
		FROM accounts ORDER BY email
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var provider string
		if err := rows.Scan(&a.ID, &a.Email, &provider, &a.About,
			&a.WebhookURL, &a.WebhookSecret, &a.MultiRuleSelection, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Provider = model.ProviderKind(provider)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetRateLimit returns the advisory rate-limit gate for an account, or nil
// when the account has never been limited.
func (s *SQLiteStorage) GetRateLimit(ctx context.Context, accountID string) (*model.RateLimitState, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}

	var state model.RateLimitState
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, limited_until FROM rate_limits WHERE account_id = ?`,
		accountID).Scan(&state.AccountID, &state.LimitedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rate limit: %w", err)
	}
	return &state, nil
}

// SetRateLimit records that an account is rate-limited until the given time.
func (s *SQLiteStorage) SetRateLimit(ctx context.Context, accountID string, until time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limits (account_id, limited_until) VALUES (?, ?)
		ON CONFLICT(account_id) DO UPDATE SET limited_until = excluded.limited_until
	`, accountID, until)
	if err != nil {
		return fmt.Errorf("failed to set rate limit: %w", err)
	}
	return nil
}
