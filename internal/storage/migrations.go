package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Accounts, rules, actions, categories and learned patterns",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					email TEXT UNIQUE NOT NULL,
					provider TEXT NOT NULL,
					about TEXT DEFAULT '',
					webhook_url TEXT DEFAULT '',
					webhook_secret TEXT DEFAULT '',
					multi_rule_selection INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					account_id TEXT NOT NULL REFERENCES accounts(id),
					name TEXT NOT NULL,
					instructions TEXT DEFAULT '',
					type TEXT NOT NULL,
					from_pattern TEXT DEFAULT '',
					to_pattern TEXT DEFAULT '',
					subject_pattern TEXT DEFAULT '',
					body_pattern TEXT DEFAULT '',
					operator TEXT DEFAULT 'AND',
					category_filters TEXT DEFAULT '[]',
					category_filter_mode TEXT DEFAULT 'INCLUDE',
					group_id INTEGER DEFAULT 0,
					automate INTEGER DEFAULT 0,
					run_on_threads INTEGER DEFAULT 0,
					enabled INTEGER DEFAULT 1,
					position INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_rules_account ON rules(account_id, enabled, position)`,

				`CREATE TABLE IF NOT EXISTS actions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					rule_id INTEGER NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
					type TEXT NOT NULL,
					label TEXT DEFAULT '', label_ai INTEGER DEFAULT 0,
					label_id TEXT DEFAULT '',
					subject TEXT DEFAULT '', subject_ai INTEGER DEFAULT 0,
					content TEXT DEFAULT '', content_ai INTEGER DEFAULT 0,
					to_addr TEXT DEFAULT '', to_ai INTEGER DEFAULT 0,
					cc TEXT DEFAULT '', cc_ai INTEGER DEFAULT 0,
					bcc TEXT DEFAULT '', bcc_ai INTEGER DEFAULT 0,
					url TEXT DEFAULT '',
					delay_minutes INTEGER DEFAULT 0
				)`,
				`CREATE INDEX idx_actions_rule ON actions(rule_id)`,
				`CREATE INDEX idx_actions_label_id ON actions(label_id)`,

				`CREATE TABLE IF NOT EXISTS categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT UNIQUE NOT NULL,
					description TEXT DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS sender_categories (
					account_id TEXT NOT NULL,
					sender TEXT NOT NULL,
					category_id INTEGER NOT NULL REFERENCES categories(id),
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (account_id, sender)
				)`,

				`CREATE TABLE IF NOT EXISTS groups (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT UNIQUE NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS group_items (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					group_id INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					type TEXT NOT NULL,
					value TEXT NOT NULL,
					exclude INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_group_items_group ON group_items(group_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Execution audit trail",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS executed_rules (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL,
					message_id TEXT NOT NULL,
					thread_id TEXT DEFAULT '',
					rule_id INTEGER DEFAULT 0,
					status TEXT NOT NULL,
					reason TEXT DEFAULT '',
					automated INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (message_id, rule_id)
				)`,
				`CREATE INDEX idx_executed_rules_account ON executed_rules(account_id, created_at)`,

				`CREATE TABLE IF NOT EXISTS action_items (
					id TEXT PRIMARY KEY,
					executed_rule_id TEXT NOT NULL REFERENCES executed_rules(id) ON DELETE CASCADE,
					type TEXT NOT NULL,
					label TEXT DEFAULT '',
					label_id TEXT DEFAULT '',
					subject TEXT DEFAULT '',
					content TEXT DEFAULT '',
					to_addr TEXT DEFAULT '',
					cc TEXT DEFAULT '',
					bcc TEXT DEFAULT '',
					url TEXT DEFAULT '',
					delay_minutes INTEGER DEFAULT 0,
					status TEXT NOT NULL,
					error TEXT DEFAULT ''
				)`,
				`CREATE INDEX idx_action_items_execution ON action_items(executed_rule_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Scheduled actions and per-account rate limit state",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS scheduled_actions (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL,
					executed_rule_id TEXT NOT NULL,
					action_item_id TEXT NOT NULL,
					message_id TEXT NOT NULL,
					thread_id TEXT DEFAULT '',
					type TEXT NOT NULL,
					label TEXT DEFAULT '',
					label_id TEXT DEFAULT '',
					subject TEXT DEFAULT '',
					content TEXT DEFAULT '',
					to_addr TEXT DEFAULT '',
					cc TEXT DEFAULT '',
					bcc TEXT DEFAULT '',
					url TEXT DEFAULT '',
					execute_at DATETIME NOT NULL,
					status TEXT NOT NULL DEFAULT 'PENDING',
					retry_count INTEGER DEFAULT 0,
					last_error TEXT DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_scheduled_actions_due ON scheduled_actions(status, execute_at)`,
				`CREATE INDEX idx_scheduled_actions_account ON scheduled_actions(account_id, status)`,

				`CREATE TABLE IF NOT EXISTS rate_limits (
					account_id TEXT PRIMARY KEY,
					limited_until DATETIME NOT NULL
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
